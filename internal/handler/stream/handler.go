package stream

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/chatpad-app/chatpad/backend/internal/session"
	"github.com/chatpad-app/chatpad/backend/internal/store"
	"github.com/chatpad-app/chatpad/backend/pkg/utils"
)

// Handler runs chat turns over Server-Sent Events.
type Handler struct {
	manager *session.Manager
	log     zerolog.Logger
}

// New creates the streaming handler.
func New(manager *session.Manager, logger zerolog.Logger) *Handler {
	return &Handler{manager: manager, log: logger}
}

// RegisterRoutes mounts the turn endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleTurn)
	r.Post("/chat/{chatID}/cancel", h.handleCancel)
}

type turnRequest struct {
	ChatID    string `json:"chatId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message"`
}

// streamEvent is one SSE frame of a running turn.
type streamEvent struct {
	Event     string `json:"event"`
	ChatID    string `json:"chatId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content,omitempty"`
	Role      string `json:"role,omitempty"`
	Error     string `json:"error,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
}

// handleTurn submits one user message and streams the turn until the
// machine returns to idle. Closing the connection cancels the generation;
// the partial turn is still finalized and saved.
func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	machine, err := h.resolveMachine(r, req)
	if errors.Is(err, store.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	events := make(chan session.Event, 64)
	done := make(chan struct{})
	sink := func(ev session.Event) {
		select {
		case events <- ev:
		case <-done:
		}
	}

	accepted, err := machine.Submit(r.Context(), req.Message, sink)
	if errors.Is(err, session.ErrNoAPIKey) {
		utils.RespondError(w, http.StatusPreconditionFailed, "configure an OpenAI API key in settings first")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !accepted {
		utils.RespondError(w, http.StatusConflict, "a turn is already in flight")
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, streamEvent{
		Event:     "start",
		ChatID:    machine.ID,
		SessionID: machine.SessionID(),
	})

	defer close(done)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Client went away; the machine finishes and saves on its own.
			return
		case ev := <-events:
			if h.writeEvent(w, flusher, machine, ev) {
				return
			}
		}
	}
}

// writeEvent maps one machine event onto the SSE vocabulary. Returns true
// when the turn is over.
func (h *Handler) writeEvent(w http.ResponseWriter, flusher http.Flusher, machine *session.Machine, ev session.Event) bool {
	switch ev.Type {
	case session.EventToken:
		utils.SendSSEChunk(w, flusher, streamEvent{Event: "delta", Content: ev.Token})
	case session.EventMessage:
		utils.SendSSEChunk(w, flusher, streamEvent{
			Event:   "message",
			Role:    string(ev.Message.Role),
			Content: ev.Message.Content,
		})
	case session.EventSaved:
		utils.SendSSEChunk(w, flusher, streamEvent{Event: "saved", SessionID: ev.SessionID})
	case session.EventNotice:
		utils.SendSSEChunk(w, flusher, streamEvent{Event: "notice", Error: ev.Notice})
	case session.EventState:
		if ev.State == session.StateIdle {
			utils.SendSSEChunk(w, flusher, streamEvent{
				Event:     "end",
				ChatID:    machine.ID,
				SessionID: machine.SessionID(),
				Finished:  true,
			})
			return true
		}
		utils.SendSSEChunk(w, flusher, streamEvent{Event: "state", Content: string(ev.State)})
	}
	return false
}

func (h *Handler) resolveMachine(r *http.Request, req turnRequest) (*session.Machine, error) {
	if req.ChatID != "" {
		if machine, ok := h.manager.Get(req.ChatID); ok {
			return machine, nil
		}
	}
	return h.manager.Open(r.Context(), req.SessionID)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	machine, ok := h.manager.Get(chatID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "chat not found")
		return
	}

	if !machine.Cancel() {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "no turn in flight"})
		return
	}
	h.log.Debug().Str("chat", chatID).Msg("cancel forwarded")
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
