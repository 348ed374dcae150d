package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatpad-app/chatpad/backend/internal/model/chat"
)

// State names the phase of the current turn.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingModel State = "awaiting_model"
	StateStreaming     State = "streaming"
	StateSaving        State = "saving"
)

// ErrNoAPIKey signals the missing-credential precondition: the send is
// refused before any log mutation or network call.
var ErrNoAPIKey = errors.New("no API key configured")

const saveTimeout = 10 * time.Second

// Generator is the streaming completion capability a machine drives, one
// request per turn. Implementations call onToken for every chunk in arrival
// order, resolve promptly with cancelled=true when ctx is cancelled, and
// return whatever text accumulated even when err is non-nil.
type Generator interface {
	StartGeneration(ctx context.Context, systemPrompt string, history []chat.Message, input string, onToken func(token string)) (text string, cancelled bool, err error)
}

// Store is the durable-persistence capability a machine synchronizes
// completed turns into.
type Store interface {
	CreateSession(ctx context.Context, name string) (chat.Session, error)
	GetSession(ctx context.Context, id string) (chat.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	ReplaceMessages(ctx context.Context, sessionID string, messages []chat.Message) error
}

// CredentialSource reports the API key available for the next request, or ""
// when none is configured.
type CredentialSource func(ctx context.Context) string

// Config carries the per-machine policy knobs.
type Config struct {
	// SystemPrompt seeds the first log entry of every conversation.
	SystemPrompt string
	// HistoryWindow is the number of prior interactions replayed per
	// request. Zero means unbounded.
	HistoryWindow int
}

// Machine owns one conversation: the authoritative in-memory message log,
// the turn status, and the pending buffer of streamed tokens. At most one
// turn is in flight at a time; everything else is refused until the machine
// returns to idle. Completed turns are synchronized to the store, creating
// the durable session on the first one.
type Machine struct {
	// ID identifies the machine itself. It is distinct from the persisted
	// session id, which does not exist until the first save.
	ID string

	gen         Generator
	store       Store
	credentials CredentialSource
	cfg         Config
	log         zerolog.Logger

	mu         sync.Mutex
	state      State
	cancelling bool
	sessionID  string
	messages   []chat.Message
	pending    []string
	cancel     context.CancelFunc
}

// New creates an idle machine whose log holds only the system message.
func New(gen Generator, store Store, credentials CredentialSource, cfg Config, logger zerolog.Logger) *Machine {
	id := uuid.NewString()
	return &Machine{
		ID:          id,
		gen:         gen,
		store:       store,
		credentials: credentials,
		cfg:         cfg,
		log:         logger.With().Str("chat", id).Logger(),
		state:       StateIdle,
		messages: []chat.Message{{
			ID:        uuid.NewString(),
			Role:      chat.RoleSystem,
			Content:   cfg.SystemPrompt,
			Timestamp: time.Now().UTC(),
		}},
	}
}

// State returns the current turn phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the persisted session id, or "" before the first save.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Messages returns a copy of the in-memory log.
func (m *Machine) Messages() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// PendingText returns the partial AI output accumulated so far.
func (m *Machine) PendingText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.pending, "")
}

// Load replaces the in-memory log with the persisted messages for the given
// session id. Fails with store.ErrSessionNotFound when no such session
// exists, which callers treat as "new chat". Only valid while idle.
func (m *Machine) Load(ctx context.Context, sessionID string) error {
	if _, err := m.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	persisted, err := m.store.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return errors.New("cannot load a session while a turn is in flight")
	}

	if len(persisted) == 0 || persisted[0].Role != chat.RoleSystem {
		head := chat.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      chat.RoleSystem,
			Content:   m.cfg.SystemPrompt,
			Timestamp: time.Now().UTC(),
		}
		persisted = append([]chat.Message{head}, persisted...)
	}

	m.sessionID = sessionID
	m.messages = persisted
	m.pending = nil
	return nil
}

// Submit starts a new turn. Blank input and send-while-busy are deliberately
// ignored (accepted=false, no error): the send affordance is disabled while
// a turn is in flight, so a racing submit is not a failure. A missing
// credential refuses the send with ErrNoAPIKey before the log is touched.
// The turn runs on its own goroutine, reporting through sink; cancelling ctx
// cancels the generation.
func (m *Machine) Submit(ctx context.Context, text string, sink Sink) (accepted bool, err error) {
	text = strings.TrimSpace(text)
	if sink == nil {
		sink = discardSink
	}

	m.mu.Lock()
	if text == "" || m.state != StateIdle {
		m.mu.Unlock()
		return false, nil
	}
	if m.credentials(ctx) == "" {
		m.mu.Unlock()
		return false, ErrNoAPIKey
	}

	human := chat.Message{
		ID:        uuid.NewString(),
		SessionID: m.sessionID,
		Role:      chat.RoleHuman,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}

	systemPrompt := m.messages[0].Content
	history := make([]chat.Message, len(m.messages)-1)
	copy(history, m.messages[1:])

	m.messages = append(m.messages, human)
	m.state = StateAwaitingModel
	m.cancelling = false
	m.pending = nil

	turnCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	sink(Event{Type: EventMessage, Message: &human})
	sink(Event{Type: EventState, State: StateAwaitingModel})

	go m.runTurn(turnCtx, systemPrompt, history, text, sink)
	return true, nil
}

// Cancel requests a cooperative abort of the in-flight generation. It is a
// no-op outside AwaitingModel/Streaming. The partial output is still
// finalized and saved: cancellation is a normal completion path.
func (m *Machine) Cancel() bool {
	m.mu.Lock()
	if m.state != StateAwaitingModel && m.state != StateStreaming {
		m.mu.Unlock()
		return false
	}
	m.cancelling = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.log.Debug().Msg("turn cancel requested")
	return true
}

func (m *Machine) runTurn(ctx context.Context, systemPrompt string, history []chat.Message, input string, sink Sink) {
	text, cancelled, err := m.gen.StartGeneration(ctx, systemPrompt, history, input, func(token string) {
		m.onToken(token, sink)
	})
	m.finishTurn(text, cancelled, err, sink)
}

// onToken buffers one streamed fragment. Tokens are accepted for as long as
// the generation call has not returned, including after a cancel request:
// finalization captures whatever arrived.
func (m *Machine) onToken(token string, sink Sink) {
	m.mu.Lock()
	if m.state != StateAwaitingModel && m.state != StateStreaming {
		m.mu.Unlock()
		return
	}
	first := m.state == StateAwaitingModel
	m.state = StateStreaming
	m.pending = append(m.pending, token)
	m.mu.Unlock()

	if first {
		sink(Event{Type: EventState, State: StateStreaming})
	}
	sink(Event{Type: EventToken, Token: token})
}

// finishTurn finalizes the pending buffer into an AI message and persists
// the full log. An empty buffer still yields an (empty) AI message, a
// non-cancellation generation error becomes a notice, and store failures are
// retryable notices: the in-memory log is never rolled back.
func (m *Machine) finishTurn(text string, cancelled bool, genErr error, sink Sink) {
	m.mu.Lock()
	content := strings.Join(m.pending, "")
	if content == "" {
		content = text
	}
	aiMsg := chat.Message{
		ID:        uuid.NewString(),
		SessionID: m.sessionID,
		Role:      chat.RoleAI,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	m.messages = append(m.messages, aiMsg)
	m.pending = nil
	m.cancelling = false
	m.cancel = nil
	m.state = StateSaving

	firstSave := m.sessionID == ""
	logCopy := make([]chat.Message, len(m.messages))
	copy(logCopy, m.messages)
	m.mu.Unlock()

	sink(Event{Type: EventState, State: StateSaving})
	sink(Event{Type: EventMessage, Message: &aiMsg})

	if genErr != nil && !cancelled {
		m.log.Warn().Err(genErr).Msg("generation failed, keeping partial output")
		sink(Event{Type: EventNotice, Notice: "generation failed: " + genErr.Error()})
	}

	m.save(firstSave, logCopy, sink)

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	sink(Event{Type: EventState, State: StateIdle})
}

// save runs with its own context: a cancelled turn must still be persisted.
func (m *Machine) save(firstSave bool, logCopy []chat.Message, sink Sink) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	sessionID := m.SessionID()
	if firstSave {
		name := deriveName(logCopy)
		created, err := m.store.CreateSession(ctx, name)
		if err != nil {
			m.log.Error().Err(err).Msg("failed to create session")
			sink(Event{Type: EventNotice, Notice: "failed to save conversation, it will be retried on the next turn"})
			return
		}
		sessionID = created.ID

		m.mu.Lock()
		m.sessionID = sessionID
		for i := range m.messages {
			m.messages[i].SessionID = sessionID
		}
		m.mu.Unlock()
	}

	for i := range logCopy {
		logCopy[i].SessionID = sessionID
	}

	if err := m.store.ReplaceMessages(ctx, sessionID, logCopy); err != nil {
		m.log.Error().Err(err).Str("session", sessionID).Msg("failed to save messages")
		sink(Event{Type: EventNotice, Notice: "failed to save messages, they remain in this chat until the next successful save"})
		return
	}

	sink(Event{Type: EventSaved, SessionID: sessionID})
}
