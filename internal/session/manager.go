package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager hands out machines: one per open conversation. Machines are
// independent of each other; the store is the only shared resource.
type Manager struct {
	gen         Generator
	store       Store
	credentials CredentialSource
	cfg         Config
	log         zerolog.Logger

	mu       sync.Mutex
	machines map[string]*Machine
}

// NewManager wires the collaborators every machine is built from.
func NewManager(gen Generator, store Store, credentials CredentialSource, cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		gen:         gen,
		store:       store,
		credentials: credentials,
		cfg:         cfg,
		log:         logger,
		machines:    make(map[string]*Machine),
	}
}

// Open returns the machine for a persisted session, loading it on first
// access, or a fresh machine when sessionID is "". A fresh machine has no
// session id until its first turn is saved.
func (mgr *Manager) Open(ctx context.Context, sessionID string) (*Machine, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if sessionID != "" {
		for _, m := range mgr.machines {
			if m.SessionID() == sessionID {
				return m, nil
			}
		}
	}

	m := New(mgr.gen, mgr.store, mgr.credentials, mgr.cfg, mgr.log)
	if sessionID != "" {
		if err := m.Load(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	mgr.machines[m.ID] = m
	return m, nil
}

// Get looks a machine up by its chat id.
func (mgr *Manager) Get(chatID string) (*Machine, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.machines[chatID]
	return m, ok
}

// Release drops an idle machine, e.g. when its websocket goes away. A
// machine with a turn in flight is kept so the turn can finish saving.
func (mgr *Manager) Release(chatID string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if m, ok := mgr.machines[chatID]; ok && m.State() == StateIdle {
		delete(mgr.machines, chatID)
	}
}

// Forget removes the machine bound to a deleted session so a later open
// starts clean.
func (mgr *Manager) Forget(sessionID string) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for id, m := range mgr.machines {
		if m.SessionID() == sessionID {
			delete(mgr.machines, id)
		}
	}
}
