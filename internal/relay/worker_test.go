package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antirek/chatapp-sub000/internal/broker"
	"github.com/antirek/chatapp-sub000/internal/broker/brokertest"
	"github.com/antirek/chatapp-sub000/internal/channel"
	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/directory/directorytest"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/pkg/errors"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []channel.OutboundMessage
	err  error
}

func (s *fakeSender) Send(ctx context.Context, msg channel.OutboundMessage) (*channel.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, msg)
	return &channel.SendResult{MessageID: "ext_1", Status: "queued"}, nil
}

func (s *fakeSender) Sent() []channel.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]channel.OutboundMessage(nil), s.sent...)
}

func (s *fakeSender) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type fixture struct {
	bus    *brokertest.Bus
	dir    *directorytest.Fake
	sender *fakeSender
	worker *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := brokertest.New()
	dir := directorytest.New()
	sender := &fakeSender{}

	dir.Meta["dialogs/dlg_1"] = map[string]string{"type": "channel-direct"}
	dir.Dialogs["dlg_1"] = &directory.Dialog{ID: "dlg_1", ContactID: "cnt_1"}
	dir.Contacts["cnt_1"] = &directory.Contact{ID: "cnt_1", ChannelID: "chn_7", Destination: "+1555000"}
	dir.Channels["chn_7"] = &directory.Channel{ID: "chn_7", Transport: "whatsapp"}

	w := NewWorker(bus, dir, sender, config.RelayConfig{
		Queue:         "chatapp.relay",
		DedupSize:     100,
		DialogTypeTag: "channel-direct",
		MaxAttempts:   3,
	}, time.Hour, logger.NopLogger())
	require.NoError(t, w.Start(context.Background()))

	return &fixture{bus: bus, dir: dir, sender: sender, worker: w}
}

func outboundMessage(msgID, sender, content string) map[string]interface{} {
	return map[string]interface{}{
		"eventType": "message.create",
		"dialogId":  "dlg_1",
		"entityId":  msgID,
		"ownerId":   "usr_aaa",
		"payload": map[string]interface{}{
			"message": map[string]interface{}{
				"id":       msgID,
				"content":  content,
				"senderId": sender,
				"meta":     map[string]interface{}{"channelId": "chn_7"},
			},
		},
	}
}

func TestWorkerBindsSharedQueue(t *testing.T) {
	f := newFixture(t)

	sub, ok := f.bus.Subscription("chatapp.relay")
	require.True(t, ok)
	assert.Equal(t, "user.#", sub.Binding)
	assert.True(t, sub.RequeueOnError, "relay failures must requeue")
}

func TestForward(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", outboundMessage("msg_1", "usr_bbb", "hello out")))

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+1555000", sent[0].Destination)
	assert.Equal(t, "hello out", sent[0].Content)
	assert.Equal(t, "text", sent[0].Type)
}

func TestExactlyOneSendPerMessage(t *testing.T) {
	f := newFixture(t)

	msg := outboundMessage("msg_1", "usr_bbb", "once")
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", msg))
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", msg))

	assert.Len(t, f.sender.Sent(), 1)
}

func TestFilterSkipsNonQualifying(t *testing.T) {
	f := newFixture(t)

	// Bot and system senders.
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", outboundMessage("msg_1", "bot_echo", "x")))
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", outboundMessage("msg_2", "system", "x")))

	// Missing channel reference.
	noChannel := outboundMessage("msg_3", "usr_bbb", "x")
	noChannel["payload"].(map[string]interface{})["message"].(map[string]interface{})["meta"] =
		map[string]interface{}{}
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", noChannel))

	// Dialog not tagged for an external contact.
	f.dir.Meta["dialogs/dlg_1"]["type"] = "internal"
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", outboundMessage("msg_4", "usr_bbb", "x")))

	assert.Empty(t, f.sender.Sent())
}

func TestNonMessageEventSkipped(t *testing.T) {
	f := newFixture(t)

	typing := outboundMessage("msg_1", "usr_bbb", "x")
	typing["eventType"] = "dialog.typing"
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", typing))

	assert.Empty(t, f.sender.Sent())
}

func TestSendFailureRequeuesAndClearsDedup(t *testing.T) {
	f := newFixture(t)
	f.sender.SetErr(errors.Transient("provider down", nil))

	msg := outboundMessage("msg_1", "usr_bbb", "retry me")
	err := f.bus.DeliverJSON("chatapp.relay", msg)
	require.Error(t, err, "failure must propagate so the delivery requeues")

	// The retry after requeue must not be suppressed by the dedup set.
	f.sender.SetErr(nil)
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", msg))
	assert.Len(t, f.sender.Sent(), 1)
}

func TestPoisonDeliveryDropped(t *testing.T) {
	f := newFixture(t)

	body, err := json.Marshal(outboundMessage("msg_1", "usr_bbb", "poison"))
	require.NoError(t, err)

	err = f.bus.Deliver("chatapp.relay", broker.Delivery{
		Body:        body,
		Redelivered: true,
		Headers:     map[string]interface{}{"x-delivery-count": int64(5)},
	})
	assert.NoError(t, err, "poison deliveries are acked away")
	assert.Empty(t, f.sender.Sent())
}

func TestChannelNotFoundSkips(t *testing.T) {
	f := newFixture(t)
	delete(f.dir.Channels, "chn_7")

	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", outboundMessage("msg_1", "usr_bbb", "x")))
	assert.Empty(t, f.sender.Sent())
}

func TestContactNotFoundSkips(t *testing.T) {
	f := newFixture(t)
	delete(f.dir.Contacts, "cnt_1")

	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", outboundMessage("msg_1", "usr_bbb", "x")))
	assert.Empty(t, f.sender.Sent())
}

func TestMediaTypeMapping(t *testing.T) {
	f := newFixture(t)

	msg := outboundMessage("msg_1", "usr_bbb", "")
	m := msg["payload"].(map[string]interface{})["message"].(map[string]interface{})
	m["type"] = "file"
	m["meta"] = map[string]interface{}{
		"channelId": "chn_7",
		"mediaUrl":  "https://cdn.example/doc.pdf",
		"filename":  "doc.pdf",
		"caption":   "the doc",
	}
	require.NoError(t, f.bus.DeliverJSON("chatapp.relay", msg))

	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "document", sent[0].Type)
	assert.Equal(t, "https://cdn.example/doc.pdf", sent[0].MediaURL)
	assert.Equal(t, "doc.pdf", sent[0].Filename)
	assert.Equal(t, "the doc", sent[0].Caption)
}

func TestDirectoryErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.dir.Errs["GetMeta"] = errors.Transient("directory down", nil)

	err := f.bus.DeliverJSON("chatapp.relay", outboundMessage("msg_1", "usr_bbb", "x"))
	assert.Error(t, err)
}
