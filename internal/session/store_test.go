package session

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/leetvoice/voice-relay-service/internal/upstream"
)

// fakeConn is a minimal upstream transport for registry tests.
type fakeConn struct {
	mu        sync.Mutex
	closed    bool
	connected bool
}

func newFakeConn() *fakeConn { return &fakeConn{connected: true} }

func (f *fakeConn) Send(text string) error { return nil }

func (f *fakeConn) Receive() upstream.Result {
	return upstream.Result{Kind: upstream.ResultClosed}
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func (f *fakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeChannel is a minimal client channel for registry tests.
type fakeChannel struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeChannel) Send(text string) error { return nil }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewStore(logger, time.Hour)
	t.Cleanup(s.Stop)

	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	created, err := s.Create("sess-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Status != StatusCreated {
		t.Errorf("status = %q, want %q", created.Status, StatusCreated)
	}
	if created.Context != nil {
		t.Errorf("new session has context %+v, want nil", created.Context)
	}

	got, err := s.Get("sess-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "sess-1" || got.Status != StatusCreated {
		t.Errorf("got %+v", got)
	}
	if got.UpstreamConnected || got.ClientConnected {
		t.Errorf("new session reports connected transports: %+v", got)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create("sess-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Create("sess-1"); err == nil {
		t.Error("expected error for duplicate id")
	}
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	s := newTestStore(t)
	s.Create("sess-1")

	active := StatusActive
	model := "gpt-4o"
	s.Update("sess-1", Update{Status: &active, Model: &model})

	got, _ := s.Get("sess-1")
	if got.Status != StatusActive {
		t.Errorf("status = %q, want %q", got.Status, StatusActive)
	}
	if got.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", got.Model)
	}

	// A second partial update must leave the untouched fields alone.
	ctx := &ProblemContext{Title: "Two Sum"}
	s.Update("sess-1", Update{Context: ctx})

	got, _ = s.Get("sess-1")
	if got.Status != StatusActive || got.Model != "gpt-4o" {
		t.Errorf("partial update clobbered fields: %+v", got)
	}
	if got.Context == nil || got.Context.Title != "Two Sum" {
		t.Errorf("context = %+v", got.Context)
	}

	// Update for an unknown id is a no-op, not a panic.
	s.Update("missing", Update{Status: &active})
}

func TestDeleteCleansAllRegistries(t *testing.T) {
	s := newTestStore(t)
	s.Create("sess-1")

	conn := newFakeConn()
	ch := &fakeChannel{}

	if err := s.RegisterUpstream("sess-1", conn); err != nil {
		t.Fatalf("RegisterUpstream failed: %v", err)
	}
	if err := s.AttachClient("sess-1", ch); err != nil {
		t.Fatalf("AttachClient failed: %v", err)
	}
	task, ok := s.RegisterRelay("sess-1")
	if !ok {
		t.Fatal("RegisterRelay failed")
	}

	s.Delete("sess-1")

	if _, err := s.Get("sess-1"); err != ErrNotFound {
		t.Errorf("session still present after delete: %v", err)
	}
	if _, exists := s.UpstreamFor("sess-1"); exists {
		t.Error("upstream binding survived delete")
	}
	if _, exists := s.ClientFor("sess-1"); exists {
		t.Error("client binding survived delete")
	}
	if s.HasRelay("sess-1") {
		t.Error("relay task survived delete")
	}

	if !conn.isClosed() {
		t.Error("upstream connection not closed on delete")
	}
	if !ch.isClosed() {
		t.Error("client channel not closed on delete")
	}

	select {
	case <-task.Context().Done():
	default:
		t.Error("relay task not cancelled on delete")
	}

	// Relay registration for the deleted session must fail.
	if _, ok := s.RegisterRelay("sess-1"); ok {
		t.Error("RegisterRelay succeeded for deleted session")
	}

	// Delete is idempotent.
	s.Delete("sess-1")
}

func TestRegisterRelayIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.Create("sess-1")

	first, ok := s.RegisterRelay("sess-1")
	if !ok {
		t.Fatal("first RegisterRelay failed")
	}
	if _, ok := s.RegisterRelay("sess-1"); ok {
		t.Error("second RegisterRelay succeeded, want exactly one task per session")
	}

	s.DeregisterRelay(first)
	if s.HasRelay("sess-1") {
		t.Error("task still registered after deregister")
	}

	// After deregistration a fresh task may bind.
	if _, ok := s.RegisterRelay("sess-1"); !ok {
		t.Error("RegisterRelay failed after deregistration")
	}
}

func TestDeregisterRelayIgnoresStaleTask(t *testing.T) {
	s := newTestStore(t)
	s.Create("sess-1")

	stale, _ := s.RegisterRelay("sess-1")
	s.DeregisterRelay(stale)

	current, ok := s.RegisterRelay("sess-1")
	if !ok {
		t.Fatal("RegisterRelay failed")
	}

	// Deregistering the stale handle again must not evict the current one.
	s.DeregisterRelay(stale)
	if !s.HasRelay("sess-1") {
		t.Error("stale deregister evicted the current task")
	}

	s.DeregisterRelay(current)
}

func TestAttachClientReplacement(t *testing.T) {
	s := newTestStore(t)
	s.Create("sess-1")

	old := &fakeChannel{}
	if err := s.AttachClient("sess-1", old); err != nil {
		t.Fatalf("AttachClient failed: %v", err)
	}
	task, _ := s.RegisterRelay("sess-1")

	// A reconnect replaces the channel, closes the old one and tears down
	// the pump bound to it.
	fresh := &fakeChannel{}
	if err := s.AttachClient("sess-1", fresh); err != nil {
		t.Fatalf("AttachClient replacement failed: %v", err)
	}

	if !old.isClosed() {
		t.Error("old channel not closed on replacement")
	}
	select {
	case <-task.Context().Done():
	default:
		t.Error("old relay task not cancelled on replacement")
	}
	if s.HasRelay("sess-1") {
		t.Error("old relay registration survived replacement")
	}

	got, exists := s.ClientFor("sess-1")
	if !exists || got != ClientChannel(fresh) {
		t.Error("fresh channel not bound after replacement")
	}
}

// A plain disconnect detaches the channel but leaves the relay task
// registered against the dead handle. The next attach must evict that task
// so a fresh pump can bind to the new channel.
func TestAttachClientAfterDetachClearsStaleRelay(t *testing.T) {
	s := newTestStore(t)
	s.Create("sess-1")

	old := &fakeChannel{}
	s.AttachClient("sess-1", old)
	task, ok := s.RegisterRelay("sess-1")
	if !ok {
		t.Fatal("RegisterRelay failed")
	}

	s.DetachClient("sess-1", old)
	old.Close()

	fresh := &fakeChannel{}
	if err := s.AttachClient("sess-1", fresh); err != nil {
		t.Fatalf("reattach failed: %v", err)
	}

	select {
	case <-task.Context().Done():
	default:
		t.Error("stale relay task not cancelled on reattach")
	}
	if s.HasRelay("sess-1") {
		t.Error("stale relay registration survived reattach")
	}

	// A fresh pump can now register for the new channel.
	if _, ok := s.RegisterRelay("sess-1"); !ok {
		t.Error("RegisterRelay failed after reattach")
	}
}

func TestDetachClientOnlyCurrent(t *testing.T) {
	s := newTestStore(t)
	s.Create("sess-1")

	old := &fakeChannel{}
	s.AttachClient("sess-1", old)

	fresh := &fakeChannel{}
	s.AttachClient("sess-1", fresh)

	// The old channel's deferred detach must not unbind the fresh one.
	s.DetachClient("sess-1", old)
	if _, exists := s.ClientFor("sess-1"); !exists {
		t.Error("stale detach removed the current channel")
	}

	s.DetachClient("sess-1", fresh)
	if _, exists := s.ClientFor("sess-1"); exists {
		t.Error("channel still bound after detach")
	}

	got, _ := s.Get("sess-1")
	if got.ClientConnected {
		t.Error("session still reports client connected after detach")
	}
}

func TestMostRecentActiveUpstream(t *testing.T) {
	s := newTestStore(t)

	if _, ok := s.MostRecentActiveUpstream(); ok {
		t.Error("empty store reported an active upstream")
	}

	s.Create("sess-1")
	s.Create("sess-2")

	first := newFakeConn()
	second := newFakeConn()
	s.RegisterUpstream("sess-1", first)
	s.RegisterUpstream("sess-2", second)

	id, ok := s.MostRecentActiveUpstream()
	if !ok || id != "sess-2" {
		t.Errorf("most recent = %q, want sess-2", id)
	}

	// When the newest connection dies, routing falls back to the previous
	// one that is still alive.
	second.Close()
	id, ok = s.MostRecentActiveUpstream()
	if !ok || id != "sess-1" {
		t.Errorf("most recent after close = %q, want sess-1", id)
	}

	first.Close()
	if _, ok := s.MostRecentActiveUpstream(); ok {
		t.Error("reported an active upstream with all connections closed")
	}
}

func TestRegisterUpstreamMarksSession(t *testing.T) {
	s := newTestStore(t)
	s.Create("sess-1")

	if err := s.RegisterUpstream("missing", newFakeConn()); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := s.RegisterUpstream("sess-1", newFakeConn()); err != nil {
		t.Fatalf("RegisterUpstream failed: %v", err)
	}

	got, _ := s.Get("sess-1")
	if !got.UpstreamConnected {
		t.Error("session not marked upstream-connected")
	}
}

func TestCountAndAll(t *testing.T) {
	s := newTestStore(t)

	s.Create("sess-1")
	s.Create("sess-2")

	if s.Count() != 2 {
		t.Errorf("Count() = %d, want 2", s.Count())
	}

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d sessions, want 2", len(all))
	}

	// Snapshot copies must not alias store state.
	all[0].Status = StatusStopped
	got, _ := s.Get(all[0].ID)
	if got.Status == StatusStopped {
		t.Error("mutating the snapshot changed store state")
	}
}

func TestStopClosesEverything(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewStore(logger, time.Hour)

	s.Create("sess-1")
	conn := newFakeConn()
	ch := &fakeChannel{}
	s.RegisterUpstream("sess-1", conn)
	s.AttachClient("sess-1", ch)

	s.Stop()

	if s.Count() != 0 {
		t.Errorf("Count() = %d after Stop, want 0", s.Count())
	}
	if !conn.isClosed() {
		t.Error("upstream connection not closed on Stop")
	}
	if !ch.isClosed() {
		t.Error("client channel not closed on Stop")
	}
}
