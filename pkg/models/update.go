package models

// Update is the canonical envelope flowing through the whole subsystem.
// Every raw event consumed from the bus is normalized into this shape
// exactly once, at the consumer boundary.
type Update struct {
	EventType string  `json:"eventType"`
	OwnerID   string  `json:"ownerId"`
	OwnerType string  `json:"ownerType"`
	DialogID  string  `json:"dialogId,omitempty"`
	EntityID  string  `json:"entityId,omitempty"`
	Payload   Payload `json:"payload"`
}

// Payload carries the named slots of an update. Which slots are populated
// depends on the event type; they are never all present at once.
type Payload struct {
	Dialog  map[string]interface{} `json:"dialog,omitempty"`
	Member  map[string]interface{} `json:"member,omitempty"`
	Message map[string]interface{} `json:"message,omitempty"`
	Typing  map[string]interface{} `json:"typing,omitempty"`
	Context *EventContext          `json:"context,omitempty"`
}

// EventContext holds the event metadata as it appeared on the wire.
type EventContext struct {
	EventType string `json:"eventType,omitempty"`
	DialogID  string `json:"dialogId,omitempty"`
	EntityID  string `json:"entityId,omitempty"`
	OwnerID   string `json:"ownerId,omitempty"`
}

const (
	EventMessageCreate = "message.create"
	EventDialogTyping  = "dialog.typing"

	MessagePrefix = "message."
	DialogPrefix  = "dialog."
)

// SystemSenderID is the reserved sender id for service-generated messages.
const SystemSenderID = "system"

// MessageID returns the message id from the message slot, preferring the
// envelope's entity id when set.
func (u *Update) MessageID() string {
	if u.EntityID != "" {
		return u.EntityID
	}
	return StringField(u.Payload.Message, "messageId", "id")
}

// SenderID returns the sender of the message slot, if any.
func (u *Update) SenderID() string {
	return StringField(u.Payload.Message, "senderId", "from")
}

// MessageContent returns the textual content of the message slot.
func (u *Update) MessageContent() string {
	return StringField(u.Payload.Message, "content", "text")
}

// MessageType returns the message type, defaulting to "text".
func (u *Update) MessageType() string {
	if t := StringField(u.Payload.Message, "type"); t != "" {
		return t
	}
	return "text"
}

// MessageMeta returns the message meta map, or nil.
func (u *Update) MessageMeta() map[string]interface{} {
	m, _ := u.Payload.Message["meta"].(map[string]interface{})
	return m
}

// StringField returns the first non-empty string value among keys in m.
func StringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
