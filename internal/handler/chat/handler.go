package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/chatpad-app/chatpad/backend/internal/model/chat"
	"github.com/chatpad-app/chatpad/backend/internal/session"
	"github.com/chatpad-app/chatpad/backend/internal/settings"
	"github.com/chatpad-app/chatpad/backend/internal/store"
	"github.com/chatpad-app/chatpad/backend/pkg/utils"
)

// Handler serves the session catalogue, message history and settings.
type Handler struct {
	store    *store.Store
	settings *settings.Store
	manager  *session.Manager
}

// New creates the REST handler.
func New(st *store.Store, settingsStore *settings.Store, manager *session.Manager) *Handler {
	return &Handler{store: st, settings: settingsStore, manager: manager}
}

// RegisterRoutes mounts the REST routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/watch", h.handleWatchSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Get("/settings", h.handleGetSettings)
	r.Put("/settings", h.handleUpdateSettings)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	found, err := h.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, found)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.store.DeleteSession(r.Context(), sessionID); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.manager != nil {
		h.manager.Forget(sessionID)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	current, err := h.settings.Get(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatmodel.VisibleMessages(messages, current.ShowSystemPrompt))
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := h.settings.Get(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, current)
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.settings.Update(r.Context(), payload); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}

// handleWatchSessions streams the session list over SSE, re-querying on
// every store notification so the sidebar stays current without polling.
func (h *Handler) handleWatchSessions(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	updates, cancel := h.store.Watch(store.TopicSessions)
	defer cancel()

	ctx := r.Context()
	send := func() {
		sessions, err := h.store.ListSessions(ctx)
		if err != nil {
			return
		}
		utils.SendSSEChunk(w, flusher, map[string]any{
			"event":    "sessions",
			"sessions": sessions,
		})
	}

	// Initial snapshot, then one push per change; heartbeats keep proxies
	// from closing the idle stream.
	send()

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			send()
		case <-ticker.C:
			utils.SendSSEChunk(w, flusher, map[string]any{"event": "heartbeat"})
		}
	}
}
