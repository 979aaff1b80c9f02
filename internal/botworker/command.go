package botworker

import (
	"context"
	"strings"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/pkg/models"
)

// CommandHandler answers slash commands and ignores everything else.
type CommandHandler struct{}

const commandUsage = "Available commands: /ping, /help"

func (h *CommandHandler) Handle(ctx context.Context, bot config.BotConfig, u *models.Update) (*Response, error) {
	content := strings.TrimSpace(u.MessageContent())
	if !strings.HasPrefix(content, "/") {
		return nil, nil
	}

	command := strings.Fields(content)[0]
	switch command {
	case "/ping":
		return &Response{Content: "pong", Type: "text"}, nil
	case "/help":
		return &Response{Content: commandUsage, Type: "text"}, nil
	default:
		return &Response{Content: "Unknown command " + command + ". " + commandUsage, Type: "text"}, nil
	}
}
