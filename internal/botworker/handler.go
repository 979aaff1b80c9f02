package botworker

import (
	"context"
	"fmt"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/directory"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/pkg/errors"
	"github.com/antirek/chatapp-sub000/pkg/models"
)

// Response describes a bot reply to post back into the dialog. A nil
// response means the handler consumed the message without replying.
type Response struct {
	Content string
	Type    string
	Meta    map[string]string
}

// Handler processes one inbound message addressed to a bot.
type Handler interface {
	Handle(ctx context.Context, bot config.BotConfig, u *models.Update) (*Response, error)
}

// NewHandler builds the handler implementation for a configured bot.
func NewHandler(bot config.BotConfig, dir directory.API, log logger.Logger) (Handler, error) {
	switch bot.Handler {
	case "echo":
		return &EchoHandler{}, nil
	case "command":
		return &CommandHandler{}, nil
	case "classify":
		return NewClassifyHandler(dir, log), nil
	default:
		return nil, errors.FatalConfig(fmt.Sprintf("unknown bot handler type %q for bot %q", bot.Handler, bot.ID), nil)
	}
}
