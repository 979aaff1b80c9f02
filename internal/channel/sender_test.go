package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antirek/chatapp-sub000/internal/config"
	"github.com/antirek/chatapp-sub000/internal/logger"
	"github.com/antirek/chatapp-sub000/pkg/errors"
)

func newSender(t *testing.T, handler http.HandlerFunc) (*HTTPSender, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sender := NewHTTPSender(config.ChannelSenderConfig{
		BaseURL: srv.URL,
		Token:   "secret",
		Timeout: 2 * time.Second,
	}, logger.NopLogger())
	return sender, srv
}

func TestSend(t *testing.T) {
	var got OutboundMessage
	sender, _ := newSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(SendResult{MessageID: "ext_1", Status: "queued"})
	})

	result, err := sender.Send(context.Background(), OutboundMessage{
		Destination: "+1555000",
		Content:     "hello",
		Type:        "text",
	})
	require.NoError(t, err)
	assert.Equal(t, "ext_1", result.MessageID)
	assert.Equal(t, "queued", result.Status)
	assert.Equal(t, "+1555000", got.Destination)
}

func TestSendProviderError(t *testing.T) {
	sender, _ := newSender(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider down", http.StatusBadGateway)
	})

	_, err := sender.Send(context.Background(), OutboundMessage{Destination: "x"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Contains(t, err.Error(), "502")
}

func TestMapType(t *testing.T) {
	tests := []struct {
		internal string
		want     string
	}{
		{"text", "text"},
		{"image", "image"},
		{"file", "document"},
		{"audio", "audio"},
		{"video", "video"},
		{"sticker", "text"},
		{"", "text"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapType(tt.internal), "internal=%q", tt.internal)
	}
}
