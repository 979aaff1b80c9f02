package botworker

import (
	"context"
	"fmt"
	"strings"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/constants"
	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/pkg/errors"
	"github.com/antirek/chatapp-sub000/pkg/models"
)

// Classify state machine values. Transitions are strictly forward; anything
// unknown is treated as the initial state.
const (
	StatusInit      = "init"
	StatusFirstStep = "firstStep"
	StatusEnd       = "end"
)

// classifyTriggerKey records the message id that drove the last status
// transition. A redelivered copy of that message must not be misread as the
// next step once the dedup window has moved on.
const classifyTriggerKey = "classifyTriggerId"

// Settings keys understood by the classify handler.
const (
	settingKeyword        = "keyword"
	settingCategoryMatch  = "category_match"
	settingCategoryOther  = "category_other"
	settingPrompt         = "prompt"
	settingFallbackUserID = "fallback_user_id"
)

const (
	defaultPrompt        = "Could you describe your request in a bit more detail?"
	defaultCategoryMatch = "sales"
	defaultCategoryOther = "support"
)

// ClassifyHandler advances a per-dialog state machine persisted as the
// dialog meta tag classifyStatus. The persisted tag is the guard: the
// clarification prompt and the verdict are each posted at most once per
// dialog, regardless of redelivery.
type ClassifyHandler struct {
	dir directory.API
	log logger.Logger
}

func NewClassifyHandler(dir directory.API, log logger.Logger) *ClassifyHandler {
	return &ClassifyHandler{dir: dir, log: log}
}

func (h *ClassifyHandler) Handle(ctx context.Context, bot config.BotConfig, u *models.Update) (*Response, error) {
	if u.DialogID == "" {
		return nil, nil
	}

	meta, err := h.dir.GetMeta(ctx, directory.EntityDialog, u.DialogID)
	if err != nil {
		// A dialog with no meta record yet is simply in the initial state.
		if !errors.IsNotFound(err) {
			return nil, err
		}
		meta = map[string]string{}
	}

	switch meta[constants.ClassifyStatusKey] {
	case StatusFirstStep:
		if msgID := u.MessageID(); msgID != "" && msgID == meta[classifyTriggerKey] {
			// Replay of the message that already drove init→firstStep.
			return nil, nil
		}
		return nil, h.classify(ctx, bot, u)
	case StatusEnd:
		return nil, nil
	default:
		return h.start(ctx, bot, u)
	}
}

// start moves init to firstStep and replies with the clarification prompt.
func (h *ClassifyHandler) start(ctx context.Context, bot config.BotConfig, u *models.Update) (*Response, error) {
	if err := h.advance(ctx, u, StatusFirstStep); err != nil {
		return nil, err
	}

	prompt := bot.Settings[settingPrompt]
	if prompt == "" {
		prompt = defaultPrompt
	}
	return &Response{Content: prompt, Type: "text"}, nil
}

// classify decides the category by keyword containment, records the verdict,
// and hands the dialog off to the fallback user. No bot reply is returned;
// the system notes are the visible outcome.
func (h *ClassifyHandler) classify(ctx context.Context, bot config.BotConfig, u *models.Update) error {
	category := h.categoryFor(bot, u.MessageContent())

	if err := h.advance(ctx, u, StatusEnd); err != nil {
		return err
	}

	if err := h.postNote(ctx, u.DialogID, fmt.Sprintf("Request classified as %q.", category)); err != nil {
		return err
	}

	fallbackUser := bot.Settings[settingFallbackUserID]
	if fallbackUser == "" {
		h.log.WarnwCtx(ctx, "No fallback user configured, skipping hand-off",
			"bot_id", bot.ID, "dialog_id", u.DialogID)
		return nil
	}

	if err := h.ensureMember(ctx, u.DialogID, fallbackUser); err != nil {
		return err
	}

	return h.postNote(ctx, u.DialogID,
		fmt.Sprintf("Dialog handed off to %s (%s).", fallbackUser, category))
}

func (h *ClassifyHandler) categoryFor(bot config.BotConfig, content string) string {
	match := bot.Settings[settingCategoryMatch]
	if match == "" {
		match = defaultCategoryMatch
	}
	other := bot.Settings[settingCategoryOther]
	if other == "" {
		other = defaultCategoryOther
	}

	keyword := bot.Settings[settingKeyword]
	if keyword != "" && strings.Contains(strings.ToLower(content), strings.ToLower(keyword)) {
		return match
	}
	return other
}

// advance persists the transition, trigger id first: if the status write is
// never reached, the next delivery retries the same transition.
func (h *ClassifyHandler) advance(ctx context.Context, u *models.Update, status string) error {
	if msgID := u.MessageID(); msgID != "" {
		if err := h.dir.SetMeta(ctx, directory.EntityDialog, u.DialogID, classifyTriggerKey, msgID); err != nil {
			return err
		}
	}
	return h.dir.SetMeta(ctx, directory.EntityDialog, u.DialogID, constants.ClassifyStatusKey, status)
}

// ensureMember adds the fallback user unless already present; a concurrent
// add surfacing as a conflict is fine either way.
func (h *ClassifyHandler) ensureMember(ctx context.Context, dialogID, userID string) error {
	members, err := h.dir.ListDialogMembers(ctx, dialogID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.UserID == userID {
			return nil
		}
	}
	if err := h.dir.AddDialogMember(ctx, dialogID, userID); err != nil && !errors.IsConflict(err) {
		return err
	}
	return nil
}

func (h *ClassifyHandler) postNote(ctx context.Context, dialogID, content string) error {
	_, err := h.dir.CreateMessage(ctx, directory.NewMessage{
		DialogID: dialogID,
		SenderID: models.SystemSenderID,
		Content:  content,
		Type:     "system",
	})
	return err
}
