package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leetvoice/voice-relay-service/internal/upstream"
)

// ErrNotFound is returned for operations addressing an unknown session id.
var ErrNotFound = errors.New("session not found")

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	// StatusStopped is terminal; a stopped session is deleted from the
	// store rather than kept in this state.
	StatusStopped Status = "stopped"
)

// ProblemContext is the structured problem description attached to a session
// at start time.
type ProblemContext struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Code        string `json:"code,omitempty"`
	TestCases   string `json:"testCases,omitempty"`
}

// Session is one end-to-end voice interview conversation instance.
// Sessions are owned exclusively by the Store and mutated only through
// Update; accessors return copies.
type Session struct {
	ID                string          `json:"id"`
	Status            Status          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	LastActivity      time.Time       `json:"last_activity"`
	UpstreamConnected bool            `json:"upstream_connected"`
	ClientConnected   bool            `json:"client_connected"`
	Model             string          `json:"model,omitempty"`
	Context           *ProblemContext `json:"context,omitempty"`
}

// Update is a partial-field merge applied to a session. Nil fields are left
// unchanged.
type Update struct {
	Status            *Status
	UpstreamConnected *bool
	ClientConnected   *bool
	Model             *string
	Context           *ProblemContext
}

// ClientChannel is the send side of the client-facing transport. The relay
// writes upstream frames to it; failures after a client disconnect are
// logged by the caller and never propagated.
type ClientChannel interface {
	Send(text string) error
	Close() error
}

// RelayTask is the handle for one session's upstream-to-client pump. The
// registry guarantees at most one live task per session id. Cancellation is
// advisory: the pump observes the context on its next receive cycle.
type RelayTask struct {
	SessionID string

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the task's lifetime context.
func (t *RelayTask) Context() context.Context { return t.ctx }

// Cancel requests task termination.
func (t *RelayTask) Cancel() { t.cancel() }

// Store is the in-memory registry of session state. One mutex guards all
// four maps (sessions, client channels, upstream connections, relay tasks);
// they are mutated from the HTTP control plane, both websocket ingress
// paths, and relay task teardown.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	clients   map[string]ClientChannel
	upstreams map[string]upstream.Conn
	relays    map[string]*RelayTask

	// upstreamOrder tracks upstream registration order for
	// MostRecentActiveUpstream.
	upstreamOrder []string

	logger  *slog.Logger
	timeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewStore creates a session store and starts its idle-session cleanup
// routine. Sessions with no activity for longer than timeout are removed.
func NewStore(logger *slog.Logger, timeout time.Duration) *Store {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		sessions:  make(map[string]*Session),
		clients:   make(map[string]ClientChannel),
		upstreams: make(map[string]upstream.Conn),
		relays:    make(map[string]*RelayTask),
		logger:    logger,
		timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
		cleanup:   make(chan struct{}),
	}

	go s.startCleanupRoutine()

	return s
}

// Create inserts a new session record with status created. A duplicate id is
// a programmer error given fresh id generation, and is reported rather than
// silently merged.
func (s *Store) Create(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return Session{}, fmt.Errorf("session %s already exists", id)
	}

	now := time.Now()
	sess := &Session{
		ID:           id,
		Status:       StatusCreated,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[id] = sess

	s.logger.Info("Session created", slog.String("session_id", shortID(id)))

	return *sess, nil
}

// Get returns a copy of the session, or ErrNotFound.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[id]
	if !exists {
		return Session{}, ErrNotFound
	}

	return *sess, nil
}

// Update merges the non-nil fields into the session. An unknown id is a
// logged no-op, not an error: updates race benignly with deletion.
func (s *Store) Update(id string, u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[id]
	if !exists {
		s.logger.Warn("Update for unknown session ignored",
			slog.String("session_id", shortID(id)),
		)
		return
	}

	if u.Status != nil {
		sess.Status = *u.Status
	}
	if u.UpstreamConnected != nil {
		sess.UpstreamConnected = *u.UpstreamConnected
	}
	if u.ClientConnected != nil {
		sess.ClientConnected = *u.ClientConnected
	}
	if u.Model != nil {
		sess.Model = *u.Model
	}
	if u.Context != nil {
		sess.Context = u.Context
	}
	sess.LastActivity = time.Now()
}

// Touch refreshes the session's activity timestamp.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, exists := s.sessions[id]; exists {
		sess.LastActivity = time.Now()
	}
}

// Delete removes the session together with its client channel, upstream
// connection reference and relay task. Both transports are closed (Close is
// idempotent on both) and the relay task is cancelled. Idempotent.
func (s *Store) Delete(id string) {
	s.mu.Lock()

	_, existed := s.sessions[id]
	delete(s.sessions, id)

	ch := s.clients[id]
	delete(s.clients, id)

	conn := s.upstreams[id]
	delete(s.upstreams, id)

	task := s.relays[id]
	delete(s.relays, id)

	s.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if ch != nil {
		_ = ch.Close()
	}

	if existed {
		s.logger.Info("Session deleted", slog.String("session_id", shortID(id)))
	}
}

// RegisterUpstream binds a live upstream connection to the session and marks
// it upstream-connected.
func (s *Store) RegisterUpstream(id string, conn upstream.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[id]
	if !exists {
		return ErrNotFound
	}

	s.upstreams[id] = conn
	s.upstreamOrder = append(s.upstreamOrder, id)
	sess.UpstreamConnected = true
	sess.LastActivity = time.Now()

	return nil
}

// UpstreamFor returns the upstream connection bound to the session.
func (s *Store) UpstreamFor(id string) (upstream.Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, exists := s.upstreams[id]
	return conn, exists
}

// MostRecentActiveUpstream returns the most recently registered session id
// that still has a live upstream connection. Context injection addresses
// only this one session: the registry deliberately assumes a single tenant
// per process.
func (s *Store) MostRecentActiveUpstream() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.upstreamOrder) - 1; i >= 0; i-- {
		id := s.upstreamOrder[i]
		if conn, exists := s.upstreams[id]; exists && conn.Connected() {
			return id, true
		}
	}

	return "", false
}

// AttachClient binds a client channel to the session. Any registered relay
// task is cancelled and forgotten: it is bound to an earlier channel handle
// (a reconnect after a plain disconnect leaves one behind), and the caller
// must be able to bind a fresh pump to the new channel. A prior channel
// that is still attached is closed.
func (s *Store) AttachClient(id string, ch ClientChannel) error {
	s.mu.Lock()

	sess, exists := s.sessions[id]
	if !exists {
		s.mu.Unlock()
		return ErrNotFound
	}

	prev := s.clients[id]
	task := s.relays[id]
	delete(s.relays, id)

	s.clients[id] = ch
	sess.ClientConnected = true
	sess.LastActivity = time.Now()

	s.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	if prev != nil {
		_ = prev.Close()
		s.logger.Info("Client channel replaced",
			slog.String("session_id", shortID(id)),
		)
	}

	return nil
}

// ClientFor returns the client channel bound to the session.
func (s *Store) ClientFor(id string) (ClientChannel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, exists := s.clients[id]
	return ch, exists
}

// DetachClient clears the client binding, but only when ch is still the
// current channel: a reconnect may already have replaced it.
func (s *Store) DetachClient(id string, ch ClientChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, exists := s.clients[id]; !exists || current != ch {
		return
	}

	delete(s.clients, id)
	if sess, exists := s.sessions[id]; exists {
		sess.ClientConnected = false
	}
}

// RegisterRelay creates the relay task handle for the session. It returns
// false when the session does not exist or a task is already registered,
// which makes pump starts idempotent: exactly one pump per session id.
func (s *Store) RegisterRelay(id string) (*RelayTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return nil, false
	}

	if _, exists := s.relays[id]; exists {
		return nil, false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &RelayTask{SessionID: id, ctx: ctx, cancel: cancel}
	s.relays[id] = task

	return task, true
}

// DeregisterRelay forgets the task, but only if it is still the registered
// one for its session id.
func (s *Store) DeregisterRelay(task *RelayTask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, exists := s.relays[task.SessionID]; exists && current == task {
		delete(s.relays, task.SessionID)
	}
}

// HasRelay reports whether a relay task is registered for the session.
func (s *Store) HasRelay(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.relays[id]
	return exists
}

// Count returns the number of registered sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// All returns a snapshot of all sessions (for the list endpoint).
func (s *Store) All() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, *sess)
	}

	return sessions
}

// Stop shuts the store down: all sessions are deleted (closing their
// transports and cancelling their relay tasks) and the cleanup routine is
// stopped.
func (s *Store) Stop() {
	s.logger.Info("Stopping session store...")

	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Delete(id)
	}

	s.cancel()
	<-s.cleanup

	s.logger.Info("Session store stopped")
}

// startCleanupRoutine removes sessions that have been idle for longer than
// the configured timeout.
func (s *Store) startCleanupRoutine() {
	defer close(s.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupExpiredSessions()
		}
	}
}

func (s *Store) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]string, 0)

	s.mu.RLock()
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > s.timeout {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		s.logger.Info("Cleaning up idle session", slog.String("session_id", shortID(id)))
		s.Delete(id)
	}
}

// shortID truncates a session id for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
