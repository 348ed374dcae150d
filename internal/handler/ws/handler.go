package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	chatmodel "github.com/chatpad-app/chatpad/backend/internal/model/chat"
	"github.com/chatpad-app/chatpad/backend/internal/session"
	"github.com/chatpad-app/chatpad/backend/internal/store"
)

// Handler runs a chat conversation over a websocket: send/cancel intents in,
// token and state frames out. One machine per connection.
type Handler struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates the websocket handler.
func New(manager *session.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		log:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleChat)
}

type inboundFrame struct {
	Type      string `json:"type"` // "send" | "cancel" | "load"
	Text      string `json:"text,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type outgoingFrame struct {
	Type      string              `json:"type"`
	ChatID    string              `json:"chatId,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	State     string              `json:"state,omitempty"`
	Token     string              `json:"token,omitempty"`
	Message   *chatmodel.Message  `json:"message,omitempty"`
	Messages  []chatmodel.Message `json:"messages,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// wsConn serializes writes: the machine goroutine and the read loop both
// produce frames.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(frame outgoingFrame) error {
	frame.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	machine, err := h.manager.Open(r.Context(), sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()
	defer h.manager.Release(machine.ID)

	// Turns outlive individual frames but not the connection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn.write(outgoingFrame{
		Type:      "ready",
		ChatID:    machine.ID,
		SessionID: machine.SessionID(),
		Messages:  machine.Messages(),
	})

	for {
		var frame inboundFrame
		if err := raw.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("chat", machine.ID).Msg("websocket read failed")
			}
			return
		}
		h.handleFrame(ctx, conn, machine, frame)
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *wsConn, machine *session.Machine, frame inboundFrame) {
	switch frame.Type {
	case "send":
		h.handleSend(ctx, conn, machine, frame.Text)
	case "cancel":
		machine.Cancel()
	case "load":
		if err := machine.Load(ctx, frame.SessionID); err != nil {
			conn.write(outgoingFrame{Type: "notice", Error: err.Error()})
			return
		}
		conn.write(outgoingFrame{
			Type:      "ready",
			ChatID:    machine.ID,
			SessionID: machine.SessionID(),
			Messages:  machine.Messages(),
		})
	default:
		conn.write(outgoingFrame{Type: "notice", Error: "unknown frame type: " + frame.Type})
	}
}

func (h *Handler) handleSend(ctx context.Context, conn *wsConn, machine *session.Machine, text string) {
	sink := func(ev session.Event) {
		switch ev.Type {
		case session.EventToken:
			conn.write(outgoingFrame{Type: "token", Token: ev.Token})
		case session.EventMessage:
			conn.write(outgoingFrame{Type: "message", Message: ev.Message})
		case session.EventSaved:
			conn.write(outgoingFrame{Type: "saved", SessionID: ev.SessionID})
		case session.EventNotice:
			conn.write(outgoingFrame{Type: "notice", Error: ev.Notice})
		case session.EventState:
			conn.write(outgoingFrame{Type: "state", State: string(ev.State)})
		}
	}

	accepted, err := machine.Submit(ctx, text, sink)
	if errors.Is(err, session.ErrNoAPIKey) {
		conn.write(outgoingFrame{Type: "notice", Error: "configure an OpenAI API key in settings first"})
		return
	}
	if err != nil {
		conn.write(outgoingFrame{Type: "notice", Error: err.Error()})
		return
	}
	if !accepted {
		// Racing send while a turn is in flight: intentionally ignored.
		h.log.Debug().Str("chat", machine.ID).Msg("send ignored, turn in flight")
	}
}
