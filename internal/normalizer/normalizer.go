package normalizer

import (
	"encoding/json"
	"strings"

	"github.com/antirek/chatapp-sub000/pkg/errors"
	"github.com/antirek/chatapp-sub000/pkg/models"
)

// DefaultOwnerType is assumed when an owner id carries no prefix.
const DefaultOwnerType = "usr"

// metadata keys that live at the top level of a legacy event and must not
// leak into the message slot.
var metadataKeys = map[string]bool{
	"eventType": true,
	"dialogId":  true,
	"entityId":  true,
	"ownerId":   true,
	"ownerType": true,
	"payload":   true,
}

var slotKeys = []string{"dialog", "member", "message", "typing", "context"}

// OwnerTypeOf derives the owner type from an id by the prefix convention:
// the segment before the first underscore, or DefaultOwnerType when the id
// has no prefix.
func OwnerTypeOf(ownerID string) string {
	if i := strings.Index(ownerID, "_"); i > 0 {
		return ownerID[:i]
	}
	return DefaultOwnerType
}

// Normalize converts a decoded raw event of either wire shape into the
// canonical envelope. It is total: missing fields yield zero values, never
// an error or panic, and feeding an already-canonical envelope back through
// yields the same envelope.
func Normalize(raw map[string]interface{}) *models.Update {
	if raw == nil {
		return &models.Update{OwnerType: DefaultOwnerType}
	}

	payload, canonical := canonicalPayload(raw)

	u := &models.Update{}
	if canonical {
		u.Payload = extractSlots(payload)
	} else {
		u.Payload.Message = legacyMessage(raw)
	}

	ctx := u.Payload.Context

	u.EventType = firstOf(str(raw, "eventType"), ctxField(ctx, func(c *models.EventContext) string { return c.EventType }))
	u.DialogID = firstOf(
		str(raw, "dialogId"),
		ctxField(ctx, func(c *models.EventContext) string { return c.DialogID }),
		models.StringField(u.Payload.Dialog, "dialogId", "id"),
		models.StringField(u.Payload.Message, "dialogId"),
	)
	u.EntityID = firstOf(
		str(raw, "entityId"),
		ctxField(ctx, func(c *models.EventContext) string { return c.EntityID }),
		models.StringField(u.Payload.Message, "messageId", "id"),
	)
	u.OwnerID = firstOf(str(raw, "ownerId"), ctxField(ctx, func(c *models.EventContext) string { return c.OwnerID }))

	if t := str(raw, "ownerType"); t != "" {
		u.OwnerType = t
	} else {
		u.OwnerType = OwnerTypeOf(u.OwnerID)
	}

	if !canonical && u.Payload.Context == nil {
		u.Payload.Context = synthesizeContext(u)
	}

	return u
}

// NormalizeBytes decodes a raw bus delivery and normalizes it. Undecodable
// input yields a MalformedEvent error; the caller logs and drops it.
func NormalizeBytes(body []byte) (*models.Update, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.MalformedEvent("undecodable event body", err)
	}
	return Normalize(raw), nil
}

// canonicalPayload reports whether the raw event carries a canonical payload
// object. An empty payload map still counts as canonical so that an envelope
// with no populated slots round-trips unchanged.
func canonicalPayload(raw map[string]interface{}) (map[string]interface{}, bool) {
	payload, ok := raw["payload"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	if len(payload) == 0 {
		return payload, true
	}
	for _, k := range slotKeys {
		if _, ok := payload[k]; ok {
			return payload, true
		}
	}
	return nil, false
}

func extractSlots(payload map[string]interface{}) models.Payload {
	p := models.Payload{
		Dialog:  slot(payload, "dialog"),
		Member:  slot(payload, "member"),
		Message: slot(payload, "message"),
		Typing:  slot(payload, "typing"),
	}
	if c, ok := payload["context"].(map[string]interface{}); ok {
		p.Context = &models.EventContext{
			EventType: str(c, "eventType"),
			DialogID:  str(c, "dialogId"),
			EntityID:  str(c, "entityId"),
			OwnerID:   str(c, "ownerId"),
		}
	}
	return p
}

// legacyMessage wraps the business part of a flat legacy event as the
// message slot. An explicit nested shape under "message" or "data" wins over
// the flat copy.
func legacyMessage(raw map[string]interface{}) map[string]interface{} {
	if m, ok := raw["message"].(map[string]interface{}); ok {
		return m
	}
	if m, ok := raw["data"].(map[string]interface{}); ok {
		return m
	}
	flat := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if metadataKeys[k] {
			continue
		}
		flat[k] = v
	}
	if len(flat) == 0 {
		return nil
	}
	return flat
}

func synthesizeContext(u *models.Update) *models.EventContext {
	if u.EventType == "" && u.DialogID == "" && u.EntityID == "" && u.OwnerID == "" {
		return nil
	}
	return &models.EventContext{
		EventType: u.EventType,
		DialogID:  u.DialogID,
		EntityID:  u.EntityID,
		OwnerID:   u.OwnerID,
	}
}

func slot(payload map[string]interface{}, key string) map[string]interface{} {
	m, _ := payload[key].(map[string]interface{})
	return m
}

func str(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func ctxField(c *models.EventContext, get func(*models.EventContext) string) string {
	if c == nil {
		return ""
	}
	return get(c)
}
