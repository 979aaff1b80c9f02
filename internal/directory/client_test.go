package directory

import (
	"context"
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

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.DirectoryConfig{
		BaseURL: srv.URL,
		Token:   "test-token",
		Timeout: 2 * time.Second,
	}, nil, logger.NopLogger())
}

func TestGetUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/usr_aaa", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"userId":"usr_aaa","name":"Alice"}}`))
	})

	u, err := client.GetUser(context.Background(), "usr_aaa")
	require.NoError(t, err)
	assert.Equal(t, "usr_aaa", u.ID)
	assert.Equal(t, "Alice", u.Name)
}

func TestGetUserNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetUser(context.Background(), "usr_missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestCreateMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		w.Write([]byte(`{"data":{"messageId":"msg_1","dialogId":"dlg_1","senderId":"bot_echo","content":"hi","type":"text"}}`))
	})

	m, err := client.CreateMessage(context.Background(), NewMessage{
		DialogID: "dlg_1",
		SenderID: "bot_echo",
		Content:  "hi",
		Type:     "text",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_1", m.ID)
}

func TestCreateMessageConflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	_, err := client.CreateMessage(context.Background(), NewMessage{DialogID: "dlg_1"})
	assert.True(t, errors.IsConflict(err))
}

func TestAddDialogMemberConflictTolerated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	err := client.AddDialogMember(context.Background(), "dlg_1", "usr_admin")
	assert.True(t, errors.IsConflict(err))
}

func TestGetMeta(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dialogs/dlg_1/meta", r.URL.Path)
		w.Write([]byte(`{"data":{"classifyStatus":"firstStep","type":"channel-direct"}}`))
	})

	meta, err := client.GetMeta(context.Background(), EntityDialog, "dlg_1")
	require.NoError(t, err)
	assert.Equal(t, "firstStep", meta["classifyStatus"])
	assert.Equal(t, "channel-direct", meta["type"])
}

func TestSetMeta(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodPut, r.Method)
		w.Write([]byte(`{"data":{}}`))
	})

	err := client.SetMeta(context.Background(), EntityDialog, "dlg_1", "classifyStatus", "end")
	require.NoError(t, err)
	assert.Equal(t, "/dialogs/dlg_1/meta/classifyStatus", gotPath)
}

func TestServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetDialog(context.Background(), "dlg_1")
	assert.True(t, errors.IsTransient(err))
}

func TestMissingDataEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	})

	_, err := client.GetUser(context.Background(), "usr_aaa")
	assert.True(t, errors.IsTransient(err))
}
