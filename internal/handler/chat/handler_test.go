package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	chathandler "github.com/chatpad-app/chatpad/backend/internal/handler/chat"
	chatmodel "github.com/chatpad-app/chatpad/backend/internal/model/chat"
	"github.com/chatpad-app/chatpad/backend/internal/settings"
	"github.com/chatpad-app/chatpad/backend/internal/store"
)

func newTestAPI(t *testing.T) (*store.Store, *settings.Store, http.Handler) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	settingsStore, err := settings.Open(st.DB())
	require.NoError(t, err)

	r := chi.NewRouter()
	chathandler.New(st, settingsStore, nil).RegisterRoutes(r)
	return st, settingsStore, r
}

func TestListAndDeleteSessions(t *testing.T) {
	st, _, api := newTestAPI(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "to delete")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var listed []chatmodel.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, "to delete", listed[0].Name)

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/sessions/"+sess.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMessagesHonorsShowSystemPrompt(t *testing.T) {
	st, settingsStore, api := newTestAPI(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, "visibility")
	require.NoError(t, err)
	require.NoError(t, st.ReplaceMessages(ctx, sess.ID, []chatmodel.Message{
		{Role: chatmodel.RoleSystem, Content: "be helpful", Timestamp: time.Now().UTC()},
		{Role: chatmodel.RoleHuman, Content: "Hello", Timestamp: time.Now().UTC()},
		{Role: chatmodel.RoleAI, Content: "Hi", Timestamp: time.Now().UTC()},
	}))

	fetch := func() []chatmodel.Message {
		rec := httptest.NewRecorder()
		api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+sess.ID+"/messages", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var messages []chatmodel.Message
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
		return messages
	}

	// Hidden by default.
	messages := fetch()
	require.Len(t, messages, 2)
	require.Equal(t, chatmodel.RoleHuman, messages[0].Role)

	require.NoError(t, settingsStore.Update(ctx, settings.Settings{ShowSystemPrompt: true}))
	messages = fetch()
	require.Len(t, messages, 3)
	require.Equal(t, chatmodel.RoleSystem, messages[0].Role)
}

func TestSettingsEndpointRoundTrip(t *testing.T) {
	_, _, api := newTestAPI(t)

	body := strings.NewReader(`{"openAiKey":"sk-test","showSystemPrompt":true}`)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings", body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var current settings.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	require.Equal(t, "sk-test", current.OpenAIKey)
	require.True(t, current.ShowSystemPrompt)
}

func TestUpdateSettingsRejectsBadBody(t *testing.T) {
	_, _, api := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader("{not json")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
