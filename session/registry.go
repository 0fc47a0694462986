package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tailored-agentic-units/parley/core/frame"
)

// Registry owns the mapping from session identifier to live Session.
// Thread-safe for concurrent access.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      Config
}

// NewRegistry creates an empty Registry from configuration.
func NewRegistry(cfg *Config) *Registry {
	merged := DefaultConfig()
	if cfg != nil {
		merged.Merge(cfg)
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      merged,
	}
}

// Create allocates a Session bound to the given transport, emits the
// session_created notification and the welcome message, and returns the
// new session.
func (r *Registry) Create(ctx context.Context, transport Transport, userID string) (*Session, error) {
	sess := newSession(transport, userID)

	r.mu.Lock()
	r.sessions[sess.ID()] = sess
	r.mu.Unlock()

	if err := transport.Send(ctx, frame.SessionCreated{
		SessionID: sess.ID(),
		Timestamp: time.Now().UTC(),
	}); err != nil {
		r.Close(sess.ID())
		return nil, fmt.Errorf("failed to announce session: %w", err)
	}

	if r.cfg.WelcomeMessage != "" {
		if err := transport.Send(ctx, frame.System{Content: r.cfg.WelcomeMessage}); err != nil {
			r.Close(sess.ID())
			return nil, fmt.Errorf("failed to send welcome: %w", err)
		}
	}

	return sess, nil
}

// Get retrieves a session by id. Returns ErrNotFound for unknown ids.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Close cancels every pending tool task of the session and removes it.
// Idempotent: closing an unknown or already-closed id is a no-op.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	sess, exists := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if exists {
		sess.close()
	}
}

// CloseAll tears down every live session. Used at service shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// Count reports the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Info returns the observability snapshot for a session, or ErrNotFound.
func (r *Registry) Info(id string) (Info, error) {
	sess, err := r.Get(id)
	if err != nil {
		return Info{}, err
	}
	return sess.Info(), nil
}
