package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/internal/subscription"
	"github.com/antirek/chatapp-sub000/pkg/cache"
	"github.com/antirek/chatapp-sub000/pkg/metrics"
	"github.com/antirek/chatapp-sub000/pkg/models"
)

// Event is one gateway-to-client protocol event.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

const (
	EventUpdate        = "chat3:update"
	EventMessageNew    = "message:new"
	EventMessageUpdate = "message:update"
	EventDialogUpdate  = "dialog:update"
	EventTypingUpdate  = "typing:update"
	EventUserOnline    = "user:online"
	EventUserOffline   = "user:offline"
)

// Conn is one realtime connection attached to an owner.
type Conn interface {
	ID() string
	OwnerID() string
	Send(evt Event)
}

// Hub routes delivered canonical envelopes to connections. It is purely
// translation and routing: one logical subscription per connected owner,
// fan-out to that owner's connections, presence notices to everyone else.
type Hub struct {
	subs  *subscription.Manager
	dir   directory.API
	log   logger.Logger
	names *cache.TTL

	mu      sync.RWMutex
	byOwner map[string]map[string]Conn
}

func NewHub(subs *subscription.Manager, dir directory.API, names *cache.TTL, log logger.Logger) *Hub {
	return &Hub{
		subs:    subs,
		dir:     dir,
		log:     log,
		names:   names,
		byOwner: make(map[string]map[string]Conn),
	}
}

// Connect registers the connection and, for the owner's first connection,
// attaches the owner's bus subscription.
func (h *Hub) Connect(ctx context.Context, c Conn) error {
	ownerID := c.OwnerID()

	h.mu.Lock()
	conns, ok := h.byOwner[ownerID]
	if !ok {
		conns = make(map[string]Conn)
		h.byOwner[ownerID] = conns
	}
	conns[c.ID()] = c
	first := len(conns) == 1
	h.mu.Unlock()

	metrics.GatewayConnections.Inc()

	if first {
		if _, err := h.subs.Subscribe(ctx, ownerID, h.deliver(ownerID)); err != nil {
			h.mu.Lock()
			delete(h.byOwner[ownerID], c.ID())
			if len(h.byOwner[ownerID]) == 0 {
				delete(h.byOwner, ownerID)
			}
			h.mu.Unlock()
			metrics.GatewayConnections.Dec()
			return err
		}
		h.broadcastPresence(ownerID, EventUserOnline)
	}

	h.log.InfowCtx(ctx, "Connection attached", "owner_id", ownerID, "conn_id", c.ID())
	return nil
}

// Disconnect removes the connection. The owner's subscription is released
// only when its last connection goes away: an earlier disconnect on another
// session must not detach an owner that is still connected elsewhere.
func (h *Hub) Disconnect(c Conn) {
	ownerID := c.OwnerID()

	h.mu.Lock()
	conns, ok := h.byOwner[ownerID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := conns[c.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, c.ID())
	last := len(conns) == 0
	if last {
		delete(h.byOwner, ownerID)
	}
	h.mu.Unlock()

	metrics.GatewayConnections.Dec()

	if last {
		if err := h.subs.Unsubscribe(ownerID); err != nil {
			h.log.Errorw("Failed to unsubscribe owner", "owner_id", ownerID, "error", err)
		}
		h.broadcastPresence(ownerID, EventUserOffline)
	}

	h.log.Infow("Connection detached", "owner_id", ownerID, "conn_id", c.ID())
}

// deliver translates each canonical envelope into protocol events and pushes
// them onto every connection of the owner.
func (h *Hub) deliver(ownerID string) subscription.UpdateHandler {
	return func(ctx context.Context, u *models.Update) error {
		events := h.translate(ctx, u)

		h.mu.RLock()
		conns := make([]Conn, 0, len(h.byOwner[ownerID]))
		for _, c := range h.byOwner[ownerID] {
			conns = append(conns, c)
		}
		h.mu.RUnlock()

		for _, c := range conns {
			for _, evt := range events {
				c.Send(evt)
				metrics.GatewayEventsTotal.WithLabelValues(evt.Event).Inc()
			}
		}
		return nil
	}
}

// translate maps one envelope to the raw passthrough event plus its
// convenience fan-out events.
func (h *Hub) translate(ctx context.Context, u *models.Update) []Event {
	events := []Event{{Event: EventUpdate, Data: u}}

	switch {
	case u.EventType == models.EventMessageCreate:
		events = append(events, Event{Event: EventMessageNew, Data: u.Payload.Message})
	case strings.HasPrefix(u.EventType, models.MessagePrefix):
		events = append(events, Event{Event: EventMessageUpdate, Data: u})
	case u.EventType == models.EventDialogTyping:
		events = append(events, Event{Event: EventTypingUpdate, Data: h.typingData(ctx, u)})
	case strings.HasPrefix(u.EventType, models.DialogPrefix):
		events = append(events, Event{Event: EventDialogUpdate, Data: u})
	}

	return events
}

type typingPayload struct {
	DialogID    string `json:"dialogId"`
	UserID      string `json:"userId"`
	UserName    string `json:"userName,omitempty"`
	ExpiresInMs int64  `json:"expiresInMs"`
}

const defaultTypingExpiryMs = 5000

func (h *Hub) typingData(ctx context.Context, u *models.Update) typingPayload {
	p := typingPayload{
		DialogID:    u.DialogID,
		UserID:      models.StringField(u.Payload.Typing, "userId"),
		ExpiresInMs: defaultTypingExpiryMs,
	}
	if v, ok := u.Payload.Typing["expiresInMs"].(float64); ok && v > 0 {
		p.ExpiresInMs = int64(v)
	}
	if p.UserID != "" {
		p.UserName = h.resolveName(ctx, p.UserID)
	}
	return p
}

// resolveName returns the display name of a typing subject through a short
// TTL cache. Staleness up to the TTL is acceptable for a transient
// indicator; entries are never invalidated early.
func (h *Hub) resolveName(ctx context.Context, userID string) string {
	if name, ok := h.names.Get(userID); ok {
		metrics.TypingCacheLookupsTotal.WithLabelValues("hit").Inc()
		return name
	}
	metrics.TypingCacheLookupsTotal.WithLabelValues("miss").Inc()

	user, err := h.dir.GetUser(ctx, userID)
	if err != nil {
		h.log.WarnwCtx(ctx, "Display name lookup failed", "user_id", userID, "error", err)
		return ""
	}
	h.names.Set(userID, user.Name)
	return user.Name
}

// broadcastPresence notifies every connection of other owners.
func (h *Hub) broadcastPresence(ownerID, event string) {
	evt := Event{Event: event, Data: map[string]string{"userId": ownerID}}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for owner, conns := range h.byOwner {
		if owner == ownerID {
			continue
		}
		for _, c := range conns {
			c.Send(evt)
		}
	}
	metrics.GatewayEventsTotal.WithLabelValues(event).Inc()
}

// ConnectionCount returns the number of open connections for an owner.
func (h *Hub) ConnectionCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byOwner[ownerID])
}

// TotalConnections returns the number of open connections across owners.
func (h *Hub) TotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.byOwner {
		total += len(conns)
	}
	return total
}
