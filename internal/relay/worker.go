// Package relay forwards user-authored messages in external-contact dialogs
// to the channel sender service.
package relay

import (
	"context"
	"time"

	"github.com/antirek/chatapp-sub000/internal/broker"
	"github.com/antirek/chatapp-sub000/internal/channel"
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

// Worker consumes the shared relay queue bound to every routed update and
// forwards qualifying messages outward. Failures requeue the delivery, so
// the dedup id is forgotten first: the retry must not suppress itself.
type Worker struct {
	bus           broker.Bus
	dir           directory.API
	sender        channel.Sender
	log           logger.Logger
	queue         string
	queueTTL      time.Duration
	dialogTypeTag string
	maxAttempts   int
	seen          *dedup.RecentSet
}

func NewWorker(bus broker.Bus, dir directory.API, sender channel.Sender, cfg config.RelayConfig, queueTTL time.Duration, log logger.Logger) *Worker {
	queue := cfg.Queue
	if queue == "" {
		queue = constants.RelayQueueName
	}
	dedupSize := cfg.DedupSize
	if dedupSize <= 0 {
		dedupSize = constants.DefaultDedupSize
	}
	dialogTypeTag := cfg.DialogTypeTag
	if dialogTypeTag == "" {
		dialogTypeTag = constants.DialogTypeTag
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &Worker{
		bus:           bus,
		dir:           dir,
		sender:        sender,
		log:           log,
		queue:         queue,
		queueTTL:      queueTTL,
		dialogTypeTag: dialogTypeTag,
		maxAttempts:   maxAttempts,
		seen:          dedup.NewRecentSet(dedupSize),
	}
}

// Start attaches the consumer to the shared relay queue.
func (w *Worker) Start(ctx context.Context) error {
	return w.bus.Subscribe(ctx, broker.Subscription{
		Queue:          w.queue,
		Binding:        broker.AllBinding(),
		TTL:            w.queueTTL,
		RequeueOnError: true,
		Handler:        w.handle,
	})
}

func (w *Worker) handle(ctx context.Context, d broker.Delivery) error {
	u, err := normalizer.NormalizeBytes(d.Body)
	if err != nil {
		w.log.ErrorwCtx(ctx, "Dropping malformed update", "routing_key", d.RoutingKey, "error", err)
		metrics.RelayMessagesTotal.WithLabelValues("malformed").Inc()
		return nil
	}

	if attempts := deliveryAttempts(d); attempts > w.maxAttempts {
		w.log.ErrorwCtx(ctx, "Dropping poison delivery",
			"routing_key", d.RoutingKey, "message_id", u.MessageID(), "attempts", attempts)
		metrics.RelayMessagesTotal.WithLabelValues("poison").Inc()
		return nil
	}

	ctx = logging.WithOwnerID(ctx, u.OwnerID)
	ctx = logging.WithDialogID(ctx, u.DialogID)

	ok, err := w.accept(ctx, u)
	if err != nil {
		metrics.RelayMessagesTotal.WithLabelValues("error").Inc()
		return err
	}
	if !ok {
		metrics.RelayMessagesTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	msgID := u.MessageID()
	if msgID != "" && w.seen.Seen(msgID) {
		metrics.DedupHitsTotal.WithLabelValues("relay").Inc()
		return nil
	}

	if err := w.forward(ctx, u); err != nil {
		// Forget before requeue so the retried delivery is processed.
		if msgID != "" {
			w.seen.Forget(msgID)
		}
		metrics.RelayMessagesTotal.WithLabelValues("error").Inc()
		w.log.ErrorwCtx(ctx, "Failed to forward message", "message_id", msgID, "error", err)
		return err
	}

	metrics.RelayMessagesTotal.WithLabelValues("ok").Inc()
	return nil
}

// accept applies the relay filter: user-authored message creations in
// dialogs tagged for an external contact, carrying a channel reference.
func (w *Worker) accept(ctx context.Context, u *models.Update) (bool, error) {
	if u.EventType != models.EventMessageCreate || u.DialogID == "" {
		return false, nil
	}

	sender := u.SenderID()
	if sender == "" || sender == models.SystemSenderID || normalizer.OwnerTypeOf(sender) == "bot" {
		return false, nil
	}

	if models.StringField(u.MessageMeta(), "channelId") == "" {
		return false, nil
	}

	meta, err := w.dir.GetMeta(ctx, directory.EntityDialog, u.DialogID)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return meta["type"] == w.dialogTypeTag, nil
}

func (w *Worker) forward(ctx context.Context, u *models.Update) error {
	dialog, err := w.dir.GetDialog(ctx, u.DialogID)
	if err != nil {
		if errors.IsNotFound(err) {
			w.log.WarnwCtx(ctx, "Dialog not found, skipping", "dialog_id", u.DialogID)
			return nil
		}
		return err
	}
	if dialog.ContactID == "" {
		w.log.WarnwCtx(ctx, "Dialog has no contact, skipping", "dialog_id", u.DialogID)
		return nil
	}

	contact, err := w.dir.GetContact(ctx, dialog.ContactID)
	if err != nil {
		if errors.IsNotFound(err) {
			w.log.WarnwCtx(ctx, "Contact not found, skipping", "contact_id", dialog.ContactID)
			return nil
		}
		return err
	}

	meta := u.MessageMeta()
	channelID := models.StringField(meta, "channelId")
	if channelID == "" {
		channelID = contact.ChannelID
	}
	chn, err := w.dir.GetChannel(ctx, channelID)
	if err != nil {
		if errors.IsNotFound(err) {
			w.log.WarnwCtx(ctx, "Channel not found, skipping", "channel_id", channelID)
			return nil
		}
		return err
	}

	out := channel.OutboundMessage{
		Destination: contact.Destination,
		Content:     u.MessageContent(),
		Type:        channel.MapType(u.MessageType()),
		MediaURL:    models.StringField(meta, "mediaUrl"),
		Filename:    models.StringField(meta, "filename"),
		Caption:     models.StringField(meta, "caption"),
	}

	result, err := w.sender.Send(ctx, out)
	if err != nil {
		return err
	}

	w.log.InfowCtx(ctx, "Message forwarded",
		"message_id", u.MessageID(),
		"destination", contact.Destination,
		"transport", chn.Transport,
		"provider_status", result.Status,
	)
	return nil
}

// deliveryAttempts counts how many times the broker has handed this
// delivery out, from the delivery-count header when present.
func deliveryAttempts(d broker.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	case float64:
		return int(v) + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}
