package botworker

import (
	"context"
	"time"

	"github.com/antirek/chatapp-sub000/internal/broker"
	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/constants"
	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/internal/normalizer"
	"github.com/antirek/chatapp-sub000/pkg/dedup"
	"github.com/antirek/chatapp-sub000/pkg/errors"
	"github.com/antirek/chatapp-sub000/pkg/logging"
	"github.com/antirek/chatapp-sub000/pkg/metrics"
	"github.com/antirek/chatapp-sub000/pkg/models"
)

type botEntry struct {
	cfg     config.BotConfig
	handler Handler
}

// Worker consumes the shared bot queue and dispatches qualifying messages
// to the configured bot handlers. Failed deliveries are dropped, never
// requeued: a redelivery loop here would double-post bot replies.
type Worker struct {
	bus      broker.Bus
	dir      directory.API
	log      logger.Logger
	queue    string
	queueTTL time.Duration
	seen     *dedup.RecentSet
	bots     map[string]botEntry
}

func NewWorker(bus broker.Bus, dir directory.API, cfg config.BotWorkerConfig, bots []config.BotConfig, queueTTL time.Duration, log logger.Logger) (*Worker, error) {
	queue := cfg.Queue
	if queue == "" {
		queue = constants.BotQueueName
	}
	dedupSize := cfg.DedupSize
	if dedupSize <= 0 {
		dedupSize = constants.DefaultDedupSize
	}

	entries := make(map[string]botEntry, len(bots))
	for _, bot := range bots {
		handler, err := NewHandler(bot, dir, log)
		if err != nil {
			return nil, err
		}
		entries[bot.ID] = botEntry{cfg: bot, handler: handler}
	}

	return &Worker{
		bus:      bus,
		dir:      dir,
		log:      log,
		queue:    queue,
		queueTTL: queueTTL,
		seen:     dedup.NewRecentSet(dedupSize),
		bots:     entries,
	}, nil
}

// Start attaches the consumer to the shared bot queue.
func (w *Worker) Start(ctx context.Context) error {
	return w.bus.Subscribe(ctx, broker.Subscription{
		Queue:          w.queue,
		Binding:        broker.BotBinding(),
		TTL:            w.queueTTL,
		RequeueOnError: false,
		Handler:        w.handle,
	})
}

func (w *Worker) handle(ctx context.Context, d broker.Delivery) error {
	u, err := normalizer.NormalizeBytes(d.Body)
	if err != nil {
		w.log.ErrorwCtx(ctx, "Dropping malformed update", "routing_key", d.RoutingKey, "error", err)
		metrics.UpdatesConsumedTotal.WithLabelValues(w.queue, "malformed").Inc()
		return nil
	}

	bot, ok := w.accept(u)
	if !ok {
		metrics.UpdatesConsumedTotal.WithLabelValues(w.queue, "skipped").Inc()
		return nil
	}

	if msgID := u.MessageID(); msgID != "" && w.seen.Seen(msgID) {
		metrics.DedupHitsTotal.WithLabelValues("botworker").Inc()
		return nil
	}

	ctx = logging.WithOwnerID(ctx, u.OwnerID)
	ctx = logging.WithDialogID(ctx, u.DialogID)

	started := time.Now()
	resp, err := bot.handler.Handle(ctx, bot.cfg, u)
	metrics.ObserveBotHandlerDuration(bot.cfg.ID, time.Since(started))
	if err != nil {
		metrics.BotMessagesTotal.WithLabelValues(bot.cfg.ID, "error").Inc()
		w.log.ErrorwCtx(ctx, "Bot handler failed", "bot_id", bot.cfg.ID, "error", err)
		return err
	}

	if resp != nil {
		if err := w.postReply(ctx, bot.cfg, u, resp); err != nil {
			metrics.BotMessagesTotal.WithLabelValues(bot.cfg.ID, "error").Inc()
			w.log.ErrorwCtx(ctx, "Failed to post bot reply", "bot_id", bot.cfg.ID, "error", err)
			return err
		}
	}

	metrics.BotMessagesTotal.WithLabelValues(bot.cfg.ID, "ok").Inc()
	return nil
}

// accept applies the dispatch filter: message creations addressed to an
// active bot, authored by a regular participant.
func (w *Worker) accept(u *models.Update) (botEntry, bool) {
	if u.EventType != models.EventMessageCreate {
		return botEntry{}, false
	}
	bot, ok := w.bots[u.OwnerID]
	if !ok {
		return botEntry{}, false
	}

	sender := u.SenderID()
	if sender == models.SystemSenderID || normalizer.OwnerTypeOf(sender) == "bot" {
		return botEntry{}, false
	}
	if isSystemNotification(u) {
		return botEntry{}, false
	}
	return bot, true
}

func isSystemNotification(u *models.Update) bool {
	if u.MessageType() == "system" {
		return true
	}
	meta := u.MessageMeta()
	switch v := meta["systemNotification"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// postReply writes the bot's response into the dialog, attaching the
// dialog contact's channel reference so the relay can route it onward.
func (w *Worker) postReply(ctx context.Context, bot config.BotConfig, u *models.Update, resp *Response) error {
	meta := make(map[string]interface{}, len(resp.Meta)+1)
	for k, v := range resp.Meta {
		meta[k] = v
	}
	if channelID := w.lookupChannelID(ctx, u.DialogID); channelID != "" {
		meta["channelId"] = channelID
	}

	msgType := resp.Type
	if msgType == "" {
		msgType = "text"
	}

	_, err := w.dir.CreateMessage(ctx, directory.NewMessage{
		DialogID: u.DialogID,
		SenderID: bot.ID,
		Content:  resp.Content,
		Type:     msgType,
		Meta:     meta,
	})
	return err
}

// lookupChannelID resolves dialog → contact → channel. Dialogs without an
// external contact simply yield no channel reference.
func (w *Worker) lookupChannelID(ctx context.Context, dialogID string) string {
	if dialogID == "" {
		return ""
	}

	dialog, err := w.dir.GetDialog(ctx, dialogID)
	if err != nil {
		if !errors.IsNotFound(err) {
			w.log.WarnwCtx(ctx, "Dialog lookup failed", "dialog_id", dialogID, "error", err)
		}
		return ""
	}
	if dialog.ContactID == "" {
		return ""
	}

	contact, err := w.dir.GetContact(ctx, dialog.ContactID)
	if err != nil {
		if !errors.IsNotFound(err) {
			w.log.WarnwCtx(ctx, "Contact lookup failed", "contact_id", dialog.ContactID, "error", err)
		}
		return ""
	}
	return contact.ChannelID
}

// Bots returns the ids of the configured bots.
func (w *Worker) Bots() []string {
	ids := make([]string, 0, len(w.bots))
	for id := range w.bots {
		ids = append(ids, id)
	}
	return ids
}
