// Package directorytest provides an in-memory directory API for tests.
package directorytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/pkg/errors"
)

type Fake struct {
	mu       sync.Mutex
	Users    map[string]*directory.User
	Dialogs  map[string]*directory.Dialog
	Members  map[string][]directory.Member
	Meta     map[string]map[string]string
	Contacts map[string]*directory.Contact
	Channels map[string]*directory.Channel

	created []directory.NewMessage

	// Errs forces an error for a method name ("GetUser", ...).
	Errs map[string]error
}

func New() *Fake {
	return &Fake{
		Users:    make(map[string]*directory.User),
		Dialogs:  make(map[string]*directory.Dialog),
		Members:  make(map[string][]directory.Member),
		Meta:     make(map[string]map[string]string),
		Contacts: make(map[string]*directory.Contact),
		Channels: make(map[string]*directory.Channel),
		Errs:     make(map[string]error),
	}
}

func (f *Fake) err(method string) error {
	return f.Errs[method]
}

func (f *Fake) GetUser(ctx context.Context, userID string) (*directory.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GetUser"); err != nil {
		return nil, err
	}
	if u, ok := f.Users[userID]; ok {
		return u, nil
	}
	return nil, errors.NotFound("user "+userID, nil)
}

func (f *Fake) CreateMessage(ctx context.Context, msg directory.NewMessage) (*directory.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("CreateMessage"); err != nil {
		return nil, err
	}
	f.created = append(f.created, msg)
	return &directory.Message{
		ID:       fmt.Sprintf("msg_created_%d", len(f.created)),
		DialogID: msg.DialogID,
		SenderID: msg.SenderID,
		Content:  msg.Content,
		Type:     msg.Type,
		Meta:     msg.Meta,
	}, nil
}

func (f *Fake) GetDialog(ctx context.Context, dialogID string) (*directory.Dialog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GetDialog"); err != nil {
		return nil, err
	}
	if d, ok := f.Dialogs[dialogID]; ok {
		return d, nil
	}
	return nil, errors.NotFound("dialog "+dialogID, nil)
}

func (f *Fake) ListDialogMembers(ctx context.Context, dialogID string) ([]directory.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("ListDialogMembers"); err != nil {
		return nil, err
	}
	return append([]directory.Member(nil), f.Members[dialogID]...), nil
}

func (f *Fake) AddDialogMember(ctx context.Context, dialogID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("AddDialogMember"); err != nil {
		return err
	}
	for _, m := range f.Members[dialogID] {
		if m.UserID == userID {
			return errors.Conflict("member exists", nil)
		}
	}
	f.Members[dialogID] = append(f.Members[dialogID], directory.Member{UserID: userID})
	return nil
}

func (f *Fake) GetMeta(ctx context.Context, entity, entityID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GetMeta"); err != nil {
		return nil, err
	}
	stored, ok := f.Meta[entity+"/"+entityID]
	if !ok {
		// The real service answers 404 for entities with no meta record.
		return nil, errors.NotFound("meta "+entity+"/"+entityID, nil)
	}
	meta := make(map[string]string)
	for k, v := range stored {
		meta[k] = v
	}
	return meta, nil
}

func (f *Fake) SetMeta(ctx context.Context, entity, entityID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("SetMeta"); err != nil {
		return err
	}
	id := entity + "/" + entityID
	if f.Meta[id] == nil {
		f.Meta[id] = make(map[string]string)
	}
	f.Meta[id][key] = value
	return nil
}

func (f *Fake) GetContact(ctx context.Context, contactID string) (*directory.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GetContact"); err != nil {
		return nil, err
	}
	if c, ok := f.Contacts[contactID]; ok {
		return c, nil
	}
	return nil, errors.NotFound("contact "+contactID, nil)
}

func (f *Fake) GetChannel(ctx context.Context, channelID string) (*directory.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err("GetChannel"); err != nil {
		return nil, err
	}
	if c, ok := f.Channels[channelID]; ok {
		return c, nil
	}
	return nil, errors.NotFound("channel "+channelID, nil)
}

// CreatedMessages returns every message posted through the fake.
func (f *Fake) CreatedMessages() []directory.NewMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]directory.NewMessage(nil), f.created...)
}
