package botworker

import (
	"context"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/pkg/models"
)

// EchoHandler replies with the received content.
type EchoHandler struct{}

func (h *EchoHandler) Handle(ctx context.Context, bot config.BotConfig, u *models.Update) (*Response, error) {
	content := u.MessageContent()
	if content == "" {
		return nil, nil
	}
	return &Response{Content: content, Type: u.MessageType()}, nil
}
