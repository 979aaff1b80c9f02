package directory

import "context"

// API is the directory-service collaborator: the external system of record
// for users, dialogs, messages, membership and per-entity meta tags.
type API interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)
	GetDialog(ctx context.Context, dialogID string) (*Dialog, error)
	ListDialogMembers(ctx context.Context, dialogID string) ([]Member, error)
	AddDialogMember(ctx context.Context, dialogID, userID string) error
	GetMeta(ctx context.Context, entity, entityID string) (map[string]string, error)
	SetMeta(ctx context.Context, entity, entityID, key, value string) error
	GetContact(ctx context.Context, contactID string) (*Contact, error)
	GetChannel(ctx context.Context, channelID string) (*Channel, error)
}

type User struct {
	ID   string `json:"userId"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type Dialog struct {
	ID        string `json:"dialogId"`
	Type      string `json:"type,omitempty"`
	ContactID string `json:"contactId,omitempty"`
}

type Member struct {
	UserID string `json:"userId"`
}

type Message struct {
	ID       string                 `json:"messageId"`
	DialogID string                 `json:"dialogId"`
	SenderID string                 `json:"senderId"`
	Content  string                 `json:"content"`
	Type     string                 `json:"type"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// NewMessage is the create payload; the directory service assigns the id.
type NewMessage struct {
	DialogID string                 `json:"dialogId"`
	SenderID string                 `json:"senderId"`
	Content  string                 `json:"content"`
	Type     string                 `json:"type"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

type Contact struct {
	ID          string `json:"contactId"`
	Name        string `json:"name,omitempty"`
	ChannelID   string `json:"channelId,omitempty"`
	Destination string `json:"destination,omitempty"`
}

type Channel struct {
	ID        string `json:"channelId"`
	Transport string `json:"transport,omitempty"`
}

// Entity names for the meta tags CRUD.
const (
	EntityDialog = "dialogs"
	EntityUser   = "users"
)
