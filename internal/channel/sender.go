// Package channel holds the client for the external channel sender, the
// service that pushes messages out to messenger transports.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/constants"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/pkg/errors"
)

// OutboundMessage is one message to push to an external destination.
type OutboundMessage struct {
	Destination string `json:"destination"`
	Content     string `json:"content"`
	Type        string `json:"type"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// SendResult is the provider's acknowledgement.
type SendResult struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Sender delivers outbound messages.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (*SendResult, error)
}

// HTTPSender is the HTTP client for the channel sender service.
type HTTPSender struct {
	baseURL string
	token   string
	client  *http.Client
	log     logger.Logger
}

func NewHTTPSender(cfg config.ChannelSenderConfig, log logger.Logger) *HTTPSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &HTTPSender{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (s *HTTPSender) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.MalformedEvent("failed to encode outbound message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Transient("failed to build send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Transient("channel sender unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Transient(
			fmt.Sprintf("channel sender returned %d: %s", resp.StatusCode, string(payload)), nil)
	}

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Transient("failed to decode send result", err)
	}
	return &result, nil
}

// MapType translates internal message types to the channel vocabulary.
func MapType(internal string) string {
	switch internal {
	case "image":
		return "image"
	case "file":
		return "document"
	case "audio":
		return "audio"
	case "video":
		return "video"
	default:
		return "text"
	}
}
