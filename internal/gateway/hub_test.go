package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antirek/chatapp-sub000/internal/broker/brokertest"
	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/directory/directorytest"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/internal/subscription"
	"github.com/antirek/chatapp-sub000/pkg/cache"
)

type fakeConn struct {
	mu      sync.Mutex
	id      string
	ownerID string
	events  []Event
}

func newFakeConn(id, ownerID string) *fakeConn {
	return &fakeConn{id: id, ownerID: ownerID}
}

func (c *fakeConn) ID() string      { return c.id }
func (c *fakeConn) OwnerID() string { return c.ownerID }

func (c *fakeConn) Send(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *fakeConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *fakeConn) EventNames() []string {
	names := []string{}
	for _, evt := range c.Events() {
		names = append(names, evt.Event)
	}
	return names
}

type fixture struct {
	bus *brokertest.Bus
	dir *directorytest.Fake
	hub *Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := brokertest.New()
	dir := directorytest.New()
	subs := subscription.NewManager(bus, dir, time.Hour, time.Hour, logger.NopLogger())
	hub := NewHub(subs, dir, cache.NewTTL(5*time.Minute, 64), logger.NopLogger())
	return &fixture{bus: bus, dir: dir, hub: hub}
}

func deliverMessageCreate(t *testing.T, bus *brokertest.Bus, ownerID, dialogID, content string) {
	t.Helper()
	require.NoError(t, bus.DeliverJSON("chatapp.updates."+ownerID, map[string]interface{}{
		"eventType": "message.create",
		"dialogId":  dialogID,
		"ownerId":   ownerID,
		"payload": map[string]interface{}{
			"message": map[string]interface{}{"id": "msg_1", "content": content, "senderId": "usr_bbb"},
		},
	}))
}

func TestConnectSubscribesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.hub.Connect(ctx, newFakeConn("c1", "usr_aaa")))
	require.NoError(t, f.hub.Connect(ctx, newFakeConn("c2", "usr_aaa")))

	_, ok := f.bus.Subscription("chatapp.updates.usr_aaa")
	assert.True(t, ok)
	assert.Equal(t, 2, f.hub.ConnectionCount("usr_aaa"))
}

func TestMessageCreateFanOut(t *testing.T) {
	f := newFixture(t)
	conn := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(context.Background(), conn))

	deliverMessageCreate(t, f.bus, "usr_aaa", "dlg_1", "hello")

	assert.Equal(t, []string{EventUpdate, EventMessageNew}, conn.EventNames())
}

func TestOwnerIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	connA := newFakeConn("c1", "usr_aaa")
	connB := newFakeConn("c2", "usr_bbb")
	require.NoError(t, f.hub.Connect(ctx, connA))
	require.NoError(t, f.hub.Connect(ctx, connB))

	deliverMessageCreate(t, f.bus, "usr_aaa", "dlg_1", "for A only")

	for _, evt := range connB.Events() {
		assert.NotEqual(t, EventMessageNew, evt.Event)
		assert.NotEqual(t, EventUpdate, evt.Event)
	}
	assert.Contains(t, connA.EventNames(), EventMessageNew)
}

func TestBothOwnersOfSharedDialogReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	connA := newFakeConn("c1", "usr_aaa")
	connB := newFakeConn("c2", "usr_bbb")
	require.NoError(t, f.hub.Connect(ctx, connA))
	require.NoError(t, f.hub.Connect(ctx, connB))

	// One message in a shared dialog yields one envelope per owner.
	deliverMessageCreate(t, f.bus, "usr_aaa", "dlg_1", "shared")
	deliverMessageCreate(t, f.bus, "usr_bbb", "dlg_1", "shared")

	assert.Contains(t, connA.EventNames(), EventMessageNew)
	assert.Contains(t, connB.EventNames(), EventMessageNew)
}

func TestLastDisconnectReleasesSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1 := newFakeConn("c1", "usr_aaa")
	c2 := newFakeConn("c2", "usr_aaa")
	require.NoError(t, f.hub.Connect(ctx, c1))
	require.NoError(t, f.hub.Connect(ctx, c2))

	f.hub.Disconnect(c1)
	assert.Empty(t, f.bus.Cancelled(), "subscription must survive while a connection remains")

	f.hub.Disconnect(c2)
	assert.Equal(t, []string{"chatapp.updates.usr_aaa"}, f.bus.Cancelled())
	assert.Equal(t, 0, f.hub.ConnectionCount("usr_aaa"))
}

func TestDisconnectUnknownConnIsNoop(t *testing.T) {
	f := newFixture(t)

	c1 := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(context.Background(), c1))

	f.hub.Disconnect(newFakeConn("stale", "usr_aaa"))
	assert.Equal(t, 1, f.hub.ConnectionCount("usr_aaa"))
	assert.Empty(t, f.bus.Cancelled())
}

func TestPresenceBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	connA := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(ctx, connA))

	connB := newFakeConn("c2", "usr_bbb")
	require.NoError(t, f.hub.Connect(ctx, connB))

	events := connA.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventUserOnline, events[0].Event)
	assert.Equal(t, map[string]string{"userId": "usr_bbb"}, events[0].Data)

	f.hub.Disconnect(connB)
	events = connA.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventUserOffline, events[1].Event)
}

func TestSecondConnectionEmitsNoPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	connA := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(ctx, connA))
	require.NoError(t, f.hub.Connect(ctx, newFakeConn("c2", "usr_bbb")))
	require.NoError(t, f.hub.Connect(ctx, newFakeConn("c3", "usr_bbb")))

	online := 0
	for _, evt := range connA.Events() {
		if evt.Event == EventUserOnline {
			online++
		}
	}
	assert.Equal(t, 1, online)
}

func TestTypingTranslation(t *testing.T) {
	f := newFixture(t)
	f.dir.Users["usr_bbb"] = &directory.User{ID: "usr_bbb", Name: "Bob", Type: "usr"}

	conn := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(context.Background(), conn))

	require.NoError(t, f.bus.DeliverJSON("chatapp.updates.usr_aaa", map[string]interface{}{
		"eventType": "dialog.typing",
		"dialogId":  "dlg_1",
		"ownerId":   "usr_aaa",
		"payload": map[string]interface{}{
			"typing": map[string]interface{}{"userId": "usr_bbb", "expiresInMs": float64(3000)},
		},
	}))

	events := conn.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypingUpdate, events[1].Event)

	data, ok := events[1].Data.(typingPayload)
	require.True(t, ok)
	assert.Equal(t, "dlg_1", data.DialogID)
	assert.Equal(t, "usr_bbb", data.UserID)
	assert.Equal(t, "Bob", data.UserName)
	assert.Equal(t, int64(3000), data.ExpiresInMs)
}

func TestTypingNameCached(t *testing.T) {
	f := newFixture(t)
	f.dir.Users["usr_bbb"] = &directory.User{ID: "usr_bbb", Name: "Bob", Type: "usr"}

	conn := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(context.Background(), conn))

	typing := map[string]interface{}{
		"eventType": "dialog.typing",
		"dialogId":  "dlg_1",
		"ownerId":   "usr_aaa",
		"payload": map[string]interface{}{
			"typing": map[string]interface{}{"userId": "usr_bbb"},
		},
	}
	require.NoError(t, f.bus.DeliverJSON("chatapp.updates.usr_aaa", typing))

	// Name changes are invisible until the cache entry expires.
	f.dir.Users["usr_bbb"].Name = "Robert"
	require.NoError(t, f.bus.DeliverJSON("chatapp.updates.usr_aaa", typing))

	events := conn.Events()
	require.Len(t, events, 4)
	assert.Equal(t, "Bob", events[3].Data.(typingPayload).UserName)
}

func TestTypingNameLookupFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)

	conn := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(context.Background(), conn))

	require.NoError(t, f.bus.DeliverJSON("chatapp.updates.usr_aaa", map[string]interface{}{
		"eventType": "dialog.typing",
		"dialogId":  "dlg_1",
		"ownerId":   "usr_aaa",
		"payload": map[string]interface{}{
			"typing": map[string]interface{}{"userId": "usr_unknown"},
		},
	}))

	events := conn.Events()
	require.Len(t, events, 2)
	assert.Empty(t, events[1].Data.(typingPayload).UserName)
}

func TestDialogAndMessageUpdateTranslation(t *testing.T) {
	f := newFixture(t)
	conn := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(context.Background(), conn))

	require.NoError(t, f.bus.DeliverJSON("chatapp.updates.usr_aaa", map[string]interface{}{
		"eventType": "message.status.update",
		"ownerId":   "usr_aaa",
	}))
	require.NoError(t, f.bus.DeliverJSON("chatapp.updates.usr_aaa", map[string]interface{}{
		"eventType": "dialog.update",
		"ownerId":   "usr_aaa",
	}))

	assert.Equal(t,
		[]string{EventUpdate, EventMessageUpdate, EventUpdate, EventDialogUpdate},
		conn.EventNames())
}

func TestUnknownEventTypeStillPassesThrough(t *testing.T) {
	f := newFixture(t)
	conn := newFakeConn("c1", "usr_aaa")
	require.NoError(t, f.hub.Connect(context.Background(), conn))

	require.NoError(t, f.bus.DeliverJSON("chatapp.updates.usr_aaa", map[string]interface{}{
		"eventType": "member.join",
		"ownerId":   "usr_aaa",
	}))

	assert.Equal(t, []string{EventUpdate}, conn.EventNames())
}

func TestConnectFailsWhenBusDown(t *testing.T) {
	f := newFixture(t)
	f.bus.SetConnected(false)

	err := f.hub.Connect(context.Background(), newFakeConn("c1", "usr_aaa"))
	assert.Error(t, err)
	assert.Equal(t, 0, f.hub.ConnectionCount("usr_aaa"))
}
