package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chatpad-app/chatpad/backend/internal/model/chat"
	"github.com/chatpad-app/chatpad/backend/internal/session"
	"github.com/chatpad-app/chatpad/backend/internal/store"
)

// fakeGenerator scripts a generation: it emits tokens, then either returns,
// fails, or blocks until the context is cancelled.
type fakeGenerator struct {
	tokens     []string
	err        error
	waitCancel bool

	mu    sync.Mutex
	calls int
}

func (g *fakeGenerator) StartGeneration(ctx context.Context, _ string, _ []chat.Message, _ string, onToken func(string)) (string, bool, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	var full strings.Builder
	for _, token := range g.tokens {
		full.WriteString(token)
		onToken(token)
	}

	if g.waitCancel {
		<-ctx.Done()
		return full.String(), true, nil
	}
	return full.String(), false, g.err
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// recorder collects machine events and signals when the turn is over.
type recorder struct {
	mu     sync.Mutex
	events []session.Event
	idle   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{idle: make(chan struct{})}
}

func (r *recorder) sink(ev session.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if ev.Type == session.EventState && ev.State == session.StateIdle {
		close(r.idle)
	}
}

func (r *recorder) waitIdle(t *testing.T) {
	t.Helper()
	select {
	case <-r.idle:
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not finish")
	}
}

func (r *recorder) has(eventType session.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"), zerolog.Nop())
	require.NoError(t, err)
	return st
}

func withKey(context.Context) string { return "sk-test" }

func newTestMachine(t *testing.T, gen session.Generator, st *store.Store) *session.Machine {
	t.Helper()
	return session.New(gen, st, withKey, session.Config{
		SystemPrompt:  "be helpful",
		HistoryWindow: 5,
	}, zerolog.Nop())
}

func TestTurnCompletesAndSaves(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{tokens: []string{"Hello", " world"}}
	m := newTestMachine(t, gen, st)

	rec := newRecorder()
	accepted, err := m.Submit(context.Background(), "Hi", rec.sink)
	require.NoError(t, err)
	require.True(t, accepted)
	rec.waitIdle(t)

	require.Equal(t, session.StateIdle, m.State())

	messages := m.Messages()
	require.Len(t, messages, 3)
	require.Equal(t, chat.RoleSystem, messages[0].Role)
	require.Equal(t, "Hi", messages[1].Content)
	require.Equal(t, chat.RoleAI, messages[2].Role)
	require.Equal(t, "Hello world", messages[2].Content)

	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "Hi", sessions[0].Name)
	require.Equal(t, sessions[0].ID, m.SessionID())

	persisted, err := st.ListMessages(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, persisted, 3)
	require.Equal(t, "Hello world", persisted[2].Content)
}

func TestCancelPreservesPartialOutput(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{tokens: []string{"Hi", " there"}, waitCancel: true}
	m := newTestMachine(t, gen, st)

	rec := newRecorder()
	accepted, err := m.Submit(context.Background(), "Hello", rec.sink)
	require.NoError(t, err)
	require.True(t, accepted)

	// Wait until both tokens landed in the pending buffer, then cancel.
	require.Eventually(t, func() bool {
		return m.PendingText() == "Hi there"
	}, 2*time.Second, 5*time.Millisecond)
	require.True(t, m.Cancel())
	rec.waitIdle(t)

	messages := m.Messages()
	require.Len(t, messages, 3)
	require.Equal(t, "Hello", messages[1].Content)
	require.Equal(t, "Hi there", messages[2].Content)

	// Cancellation is a normal completion: the pair is saved, no notice.
	require.False(t, rec.has(session.EventNotice))
	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	persisted, err := st.ListMessages(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, persisted, 3)
	require.Equal(t, "Hello", persisted[1].Content)
	require.Equal(t, "Hi there", persisted[2].Content)
}

func TestSubmitWhileBusyIsIgnored(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{waitCancel: true}
	m := newTestMachine(t, gen, st)

	rec := newRecorder()
	accepted, err := m.Submit(context.Background(), "first", rec.sink)
	require.NoError(t, err)
	require.True(t, accepted)

	require.Eventually(t, func() bool {
		return m.State() != session.StateIdle
	}, 2*time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		accepted, err = m.Submit(context.Background(), "second", nil)
		require.NoError(t, err)
		require.False(t, accepted, "send while busy must be a no-op")
	}

	require.True(t, m.Cancel())
	rec.waitIdle(t)

	require.Equal(t, 1, gen.callCount())
	messages := m.Messages()
	require.Len(t, messages, 3)
	require.Equal(t, "first", messages[1].Content)
}

func TestMissingCredentialRefusesSend(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{tokens: []string{"never"}}
	m := session.New(gen, st, func(context.Context) string { return "" }, session.Config{
		SystemPrompt: "be helpful",
	}, zerolog.Nop())

	accepted, err := m.Submit(context.Background(), "Hello", nil)
	require.ErrorIs(t, err, session.ErrNoAPIKey)
	require.False(t, accepted)

	// No network call, no log mutation, state stays idle.
	require.Equal(t, 0, gen.callCount())
	require.Equal(t, session.StateIdle, m.State())
	require.Len(t, m.Messages(), 1)
}

func TestBlankInputIsIgnored(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{}
	m := newTestMachine(t, gen, st)

	accepted, err := m.Submit(context.Background(), "   \n\t", nil)
	require.NoError(t, err)
	require.False(t, accepted)
	require.Equal(t, 0, gen.callCount())
	require.Len(t, m.Messages(), 1)
}

func TestFirstTurnCreatesSessionExactlyOnce(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{tokens: []string{"answer"}}
	m := newTestMachine(t, gen, st)

	rec := newRecorder()
	_, err := m.Submit(context.Background(), "turn one", rec.sink)
	require.NoError(t, err)
	rec.waitIdle(t)

	firstID := m.SessionID()
	require.NotEmpty(t, firstID)

	rec = newRecorder()
	_, err = m.Submit(context.Background(), "turn two", rec.sink)
	require.NoError(t, err)
	rec.waitIdle(t)

	require.Equal(t, firstID, m.SessionID(), "id assigned at most once")

	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1, "no duplicate session on turn two")

	persisted, err := st.ListMessages(context.Background(), firstID)
	require.NoError(t, err)
	require.Len(t, persisted, 5)
}

func TestEmptyBufferStillFinalizes(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{}
	m := newTestMachine(t, gen, st)

	rec := newRecorder()
	_, err := m.Submit(context.Background(), "anybody home?", rec.sink)
	require.NoError(t, err)
	rec.waitIdle(t)

	messages := m.Messages()
	require.Len(t, messages, 3)
	require.Equal(t, chat.RoleAI, messages[2].Role)
	require.Empty(t, messages[2].Content)
	require.Equal(t, session.StateIdle, m.State())
}

func TestGenerationErrorKeepsPartialAndSaves(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{tokens: []string{"partial"}, err: errors.New("connection reset")}
	m := newTestMachine(t, gen, st)

	rec := newRecorder()
	_, err := m.Submit(context.Background(), "Hello", rec.sink)
	require.NoError(t, err)
	rec.waitIdle(t)

	require.True(t, rec.has(session.EventNotice), "transport errors surface as a notice")

	messages := m.Messages()
	require.Equal(t, "partial", messages[2].Content)

	sessions, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1, "the degraded turn is still saved")
}

func TestLoadReplacesLog(t *testing.T) {
	st := openTestStore(t)
	gen := &fakeGenerator{tokens: []string{"first answer"}}
	m := newTestMachine(t, gen, st)

	rec := newRecorder()
	_, err := m.Submit(context.Background(), "remember me", rec.sink)
	require.NoError(t, err)
	rec.waitIdle(t)

	other := newTestMachine(t, gen, st)
	require.NoError(t, other.Load(context.Background(), m.SessionID()))

	require.Equal(t, m.SessionID(), other.SessionID())
	loaded := other.Messages()
	require.Len(t, loaded, 3)
	require.Equal(t, chat.RoleSystem, loaded[0].Role)
	require.Equal(t, "remember me", loaded[1].Content)
	require.Equal(t, "first answer", loaded[2].Content)
}

func TestLoadMissingSession(t *testing.T) {
	st := openTestStore(t)
	m := newTestMachine(t, &fakeGenerator{}, st)

	err := m.Load(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}
