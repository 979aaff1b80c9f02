package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/pkg/circuitbreaker"
	"github.com/antirek/chatapp-sub000/pkg/errors"
)

// Client talks to the directory service over HTTP. Every response body is a
// single envelope {"data": ...}; response-shape normalization happens here
// and nowhere else.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *circuitbreaker.Wrapper
	log     logger.Logger
}

func NewClient(cfg config.DirectoryConfig, breaker *circuitbreaker.Wrapper, log logger.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		log:     log,
	}
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.get(ctx, "/users/"+userID, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) CreateMessage(ctx context.Context, msg NewMessage) (*Message, error) {
	var m Message
	if err := c.do(ctx, http.MethodPost, "/messages", msg, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) GetDialog(ctx context.Context, dialogID string) (*Dialog, error) {
	var d Dialog
	if err := c.get(ctx, "/dialogs/"+dialogID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) ListDialogMembers(ctx context.Context, dialogID string) ([]Member, error) {
	var members []Member
	if err := c.get(ctx, "/dialogs/"+dialogID+"/members", &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (c *Client) AddDialogMember(ctx context.Context, dialogID, userID string) error {
	body := map[string]string{"userId": userID}
	return c.do(ctx, http.MethodPost, "/dialogs/"+dialogID+"/members", body, nil)
}

func (c *Client) GetMeta(ctx context.Context, entity, entityID string) (map[string]string, error) {
	meta := make(map[string]string)
	if err := c.get(ctx, "/"+entity+"/"+entityID+"/meta", &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Client) SetMeta(ctx context.Context, entity, entityID, key, value string) error {
	body := map[string]string{"value": value}
	return c.do(ctx, http.MethodPut, "/"+entity+"/"+entityID+"/meta/"+key, body, nil)
}

func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	var ct Contact
	if err := c.get(ctx, "/contacts/"+contactID, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := c.get(ctx, "/channels/"+channelID, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	fn := func() (interface{}, error) {
		return nil, c.doOnce(ctx, method, path, body, out)
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(ctx, fn)
	} else {
		_, err = fn()
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Transient("directory request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.NotFound(method+" "+path, nil)
	case resp.StatusCode == http.StatusConflict:
		return errors.Conflict(method+" "+path, nil)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return errors.Transient(fmt.Sprintf("directory returned status %d for %s %s", resp.StatusCode, method, path), nil)
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Transient("failed to decode directory response", err)
	}
	if env.Data == nil {
		return errors.Transient("directory response missing data envelope", nil)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Transient("unexpected directory response shape", err)
	}
	return nil
}
