package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/antirek/chatapp-sub000/internal/broker"
	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/internal/normalizer"
	"github.com/antirek/chatapp-sub000/pkg/errors"
	"github.com/antirek/chatapp-sub000/pkg/logging"
	"github.com/antirek/chatapp-sub000/pkg/metrics"
	"github.com/antirek/chatapp-sub000/pkg/models"
)

// UpdateHandler receives one normalized update for a subscribed owner. An
// error requeues the delivery; the update must eventually reach the owner.
type UpdateHandler func(ctx context.Context, u *models.Update) error

// Manager owns the per-owner queue lifecycle: one durable, auto-expiring
// queue per connected owner, consumer attached while the owner has a live
// connection. Its owner map is the desired subscription set; the bus replays
// it after reconnects.
type Manager struct {
	bus         broker.Bus
	dir         directory.API
	log         logger.Logger
	queueTTL    time.Duration
	queueExpiry time.Duration

	mu     sync.Mutex
	owners map[string]*ownerSub
}

type ownerSub struct {
	queue     string
	ownerType string
}

type Stats struct {
	Connected    bool     `json:"connected"`
	ActiveOwners int      `json:"activeOwners"`
	Owners       []string `json:"owners"`
}

func NewManager(bus broker.Bus, dir directory.API, queueTTL, queueExpiry time.Duration, log logger.Logger) *Manager {
	return &Manager{
		bus:         bus,
		dir:         dir,
		log:         log,
		queueTTL:    queueTTL,
		queueExpiry: queueExpiry,
		owners:      make(map[string]*ownerSub),
	}
}

// Subscribe binds the owner's queue and starts consuming into onUpdate.
// Subscribing an already-subscribed owner is a no-op returning the existing
// queue name. Bus unavailability is raised to the caller.
func (m *Manager) Subscribe(ctx context.Context, ownerID string, onUpdate UpdateHandler) (string, error) {
	m.mu.Lock()
	if sub, ok := m.owners[ownerID]; ok {
		m.mu.Unlock()
		return sub.queue, nil
	}
	m.mu.Unlock()

	ownerType := m.resolveOwnerType(ctx, ownerID)
	queue := broker.OwnerQueue(ownerID)

	err := m.bus.Subscribe(ctx, broker.Subscription{
		Queue:          queue,
		Binding:        broker.OwnerBinding(ownerType, ownerID),
		TTL:            m.queueTTL,
		Expiry:         m.queueExpiry,
		RequeueOnError: true,
		Handler:        m.deliveryHandler(ownerID, onUpdate),
	})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.owners[ownerID] = &ownerSub{queue: queue, ownerType: ownerType}
	metrics.ActiveSubscriptions.Set(float64(len(m.owners)))
	m.mu.Unlock()

	m.log.InfowCtx(ctx, "Owner subscribed", "owner_id", ownerID, "owner_type", ownerType, "queue", queue)
	return queue, nil
}

// Unsubscribe cancels the owner's consumer only. The queue is intentionally
// preserved so updates keep accumulating within the retention window,
// enabling catch-up on the next subscribe.
func (m *Manager) Unsubscribe(ownerID string) error {
	m.mu.Lock()
	sub, ok := m.owners[ownerID]
	if ok {
		delete(m.owners, ownerID)
		metrics.ActiveSubscriptions.Set(float64(len(m.owners)))
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	m.log.Infow("Owner unsubscribed", "owner_id", ownerID, "queue", sub.queue)
	return m.bus.Cancel(sub.queue)
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := make([]string, 0, len(m.owners))
	for id := range m.owners {
		owners = append(owners, id)
	}
	return Stats{
		Connected:    m.bus.Connected(),
		ActiveOwners: len(m.owners),
		Owners:       owners,
	}
}

// resolveOwnerType prefers the authoritative directory profile; lookup
// failures fall back to the id-prefix convention, never to an error.
func (m *Manager) resolveOwnerType(ctx context.Context, ownerID string) string {
	user, err := m.dir.GetUser(ctx, ownerID)
	if err == nil && user.Type != "" {
		return user.Type
	}
	if err != nil && !errors.IsNotFound(err) {
		m.log.WarnwCtx(ctx, "Owner type lookup failed, using id prefix",
			"owner_id", ownerID,
			"error", err,
		)
	}
	return normalizer.OwnerTypeOf(ownerID)
}

func (m *Manager) deliveryHandler(ownerID string, onUpdate UpdateHandler) broker.HandlerFunc {
	return func(ctx context.Context, d broker.Delivery) error {
		u, err := normalizer.NormalizeBytes(d.Body)
		if err != nil {
			// Malformed events are logged and dropped, never requeued.
			m.log.ErrorwCtx(ctx, "Dropping malformed update",
				"owner_id", ownerID,
				"routing_key", d.RoutingKey,
				"error", err,
			)
			return nil
		}

		ctx = logging.WithOwnerID(ctx, ownerID)
		if u.DialogID != "" {
			ctx = logging.WithDialogID(ctx, u.DialogID)
		}
		return onUpdate(ctx, u)
	}
}
