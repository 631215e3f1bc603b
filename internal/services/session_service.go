package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"pathfinder/internal/models"

	"github.com/google/uuid"
)

// SessionRuntime bundles everything scoped to one live session: the session
// record, its context store, a cancellation context for background work, and
// the emitter of the currently attached transport connection.
//
// The runtime is created at session start and torn down at session end;
// nothing here is a package-level singleton, so sessions are isolated and
// testable in parallel.
type SessionRuntime struct {
	Session *models.Session
	Store   *ContextStore

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	emit      func(models.ServerMessage)
	emitOwner string
}

// Context returns the runtime's context. Background work tied to this
// session (enhancement batches) must derive from it so disconnect cancels it.
func (rt *SessionRuntime) Context() context.Context { return rt.ctx }

// SetEmitter attaches the transport's outbound message function. Passing nil
// detaches it.
func (rt *SessionRuntime) SetEmitter(fn func(models.ServerMessage)) {
	rt.mu.Lock()
	rt.emit = fn
	rt.emitOwner = ""
	rt.mu.Unlock()
}

// AttachEmitter attaches the outbound message function on behalf of one
// connection. A later attach by another connection takes over the session.
func (rt *SessionRuntime) AttachEmitter(ownerID string, fn func(models.ServerMessage)) {
	rt.mu.Lock()
	rt.emit = fn
	rt.emitOwner = ownerID
	rt.mu.Unlock()
}

// DetachEmitter clears the emitter only if the given connection still owns
// it. A connection that lost the session to a newer attach leaves the newer
// emitter in place.
func (rt *SessionRuntime) DetachEmitter(ownerID string) {
	rt.mu.Lock()
	if rt.emitOwner == ownerID {
		rt.emit = nil
		rt.emitOwner = ""
	}
	rt.mu.Unlock()
}

// Emit sends a message to the attached transport, if any. Safe to call from
// background goroutines after disconnect: it becomes a no-op.
func (rt *SessionRuntime) Emit(msg models.ServerMessage) {
	rt.mu.RLock()
	fn := rt.emit
	rt.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// SessionSnapshot is the serializable view handed to the persistence
// collaborator. The engine defines the content; storage format and schema
// are the collaborator's concern.
type SessionSnapshot struct {
	Session *models.Session        `json:"session"`
	Context map[string]interface{} `json:"context"`
	TakenAt time.Time              `json:"taken_at"`
}

// SnapshotSink persists session snapshots. Implementations live outside the
// orchestration engine (internal/database provides a MySQL-backed one).
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, sessionID string, snapshot []byte) error
	DeleteSnapshot(ctx context.Context, sessionID string) error
}

// SessionService owns the registry of live sessions.
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRuntime

	enhancement *EnhancementService
	sink        SnapshotSink // optional
	metrics     *Metrics
}

// NewSessionService creates the session registry. sink may be nil when no
// persistence collaborator is configured.
func NewSessionService(enhancement *EnhancementService, sink SnapshotSink, metrics *Metrics) *SessionService {
	return &SessionService{
		sessions:    make(map[string]*SessionRuntime),
		enhancement: enhancement,
		sink:        sink,
		metrics:     metrics,
	}
}

// Create starts a new session on the given channel and returns its runtime.
func (s *SessionService) Create(channel models.Channel) *SessionRuntime {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &SessionRuntime{
		Session: models.NewSession(uuid.New().String(), channel),
		Store:   NewContextStore(),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.mu.Lock()
	s.sessions[rt.Session.ID] = rt
	count := len(s.sessions)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(count))
	}
	log.Printf("✅ [SESSION] Created %s on %s channel (active: %d)", rt.Session.ID, channel, count)
	return rt
}

// Get returns the runtime for a session ID.
func (s *SessionService) Get(sessionID string) (*SessionRuntime, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.sessions[sessionID]
	return rt, ok
}

// Count returns the number of live sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// End terminates a session: cancels its in-flight enhancement work,
// abandons its in-flight lookups (cached results stay shared), persists a
// final snapshot and removes the runtime.
func (s *SessionService) End(sessionID string) {
	s.mu.Lock()
	rt, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return
	}

	rt.SetEmitter(nil)
	rt.cancel()
	if s.enhancement != nil {
		s.enhancement.ClearCache(sessionID)
	}
	s.persistSnapshot(rt)

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(count))
	}
	log.Printf("❌ [SESSION] Ended %s (active: %d)", sessionID, count)
}

// Snapshot builds the serializable snapshot of a session for persistence or
// the REST export endpoint.
func (s *SessionService) Snapshot(rt *SessionRuntime) SessionSnapshot {
	rt.Session.RLock()
	defer rt.Session.RUnlock()
	return SessionSnapshot{
		Session: rt.Session,
		Context: rt.Store.Snapshot(),
		TakenAt: time.Now(),
	}
}

// PersistSnapshot serializes the session and hands it to the persistence
// collaborator. Failure is logged, never fatal: persistence is best-effort.
func (s *SessionService) PersistSnapshot(rt *SessionRuntime) {
	s.persistSnapshot(rt)
}

func (s *SessionService) persistSnapshot(rt *SessionRuntime) {
	if s.sink == nil {
		return
	}
	snapshot := s.Snapshot(rt)
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("⚠️ [SESSION] Failed to serialize snapshot for %s: %v", rt.Session.ID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.SaveSnapshot(ctx, rt.Session.ID, data); err != nil {
		log.Printf("⚠️ [SESSION] Failed to persist snapshot for %s: %v", rt.Session.ID, err)
	}
}

// ExpireIdle ends every session idle longer than the given window. Returns
// the IDs that were expired. Called by the retention cleanup job.
func (s *SessionService) ExpireIdle(idleTimeout time.Duration) []string {
	now := time.Now()

	s.mu.RLock()
	var expired []string
	for id, rt := range s.sessions {
		if rt.Session.IdleSince(now) > idleTimeout {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		log.Printf("🗑️ [SESSION] Expiring idle session %s", id)
		s.End(id)
	}
	return expired
}
