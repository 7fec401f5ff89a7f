package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ServiceConfig holds session service settings. Zero values fall back to defaults.
type ServiceConfig struct {
	MaxSessions     int           // Live sessions allowed (default: 100)
	MaxConcurrentIO int           // Parallel storage reads/writes (default: 5)
	MaxWaitTime     time.Duration // Wait for an I/O slot (default: 30s)
	MaxFileSize     int64         // Largest accepted upload in bytes (0: unlimited)
	Controller      ControllerOptions
}

// DefaultMaxSessions is the default cap on live sessions.
const DefaultMaxSessions = 100

// Service manages edit sessions for multi-caller frontends such as the web
// server. Each session is one Controller; the service adds ids, a session cap,
// an I/O limiter shared by all sessions and idle expiry.
type Service struct {
	store   Store
	cfg     ServiceConfig
	limiter *Limiter
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	ID         string
	Controller *Controller
	CreatedAt  time.Time

	mu       sync.Mutex
	lastUsed time.Time
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// NewService creates a Service backed by store.
func NewService(store Store, cfg ServiceConfig) *Service {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Service{
		store:    store,
		cfg:      cfg,
		limiter:  NewLimiter(cfg.MaxConcurrentIO, cfg.MaxWaitTime, ErrTooManyOperations),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// MaxFileSize returns the upload size limit in bytes (0 when unlimited).
func (s *Service) MaxFileSize() int64 {
	return s.cfg.MaxFileSize
}

// CreateSession starts a new empty session and returns its id.
func (s *Service) CreateSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.cfg.MaxSessions {
		return "", fmt.Errorf("%w: limit is %d", ErrTooManySessions, s.cfg.MaxSessions)
	}

	id := uuid.New().String()
	opts := s.cfg.Controller
	base := opts.Logger
	if base == nil {
		base = slog.Default()
	}
	opts.Logger = base.With("session_id", id)
	opts.IO = s.limiter

	now := s.now()
	s.sessions[id] = &session{
		ID:         id,
		Controller: NewController(s.store, s.store, opts),
		CreatedAt:  now,
		lastUsed:   now,
	}

	slog.Info("session created", "session_id", id, "sessions", len(s.sessions))
	return id, nil
}

// get returns the session and marks it used. The touch happens under s.mu so
// sweepIdle, which holds the write lock, never sees a stale lastUsed for a
// session a caller has just fetched.
func (s *Service) get(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.touch(s.now())
	return sess, nil
}

// done marks the end of an operation on sess, so a long load or export counts
// as activity up to the moment it finished.
func (s *Service) done(sess *session) {
	sess.touch(s.now())
}

// Controller returns the controller behind a session.
func (s *Service) Controller(id string) (*Controller, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Controller, nil
}

// Load reads handle from storage into the session.
func (s *Service) Load(ctx context.Context, id, handle string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	defer s.done(sess)

	return sess.Controller.Load(ctx, handle)
}

// LoadDocument loads caller-supplied text (for example an upload) into the session.
func (s *Service) LoadDocument(ctx context.Context, id string, doc RawDocument) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	defer s.done(sess)

	return sess.Controller.LoadDocument(ctx, doc)
}

// EditCell sets one cell in the session's grid.
func (s *Service) EditCell(ctx context.Context, id string, row, col int, value string) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Controller.EditCell(ctx, row, col, value)
}

// Export writes the session's grid to storage.
func (s *Service) Export(ctx context.Context, id, name string) (ExportResult, error) {
	sess, err := s.get(id)
	if err != nil {
		return ExportResult{}, err
	}
	defer s.done(sess)

	return sess.Controller.Export(ctx, name)
}

// Snapshot returns the session's current state.
func (s *Service) Snapshot(id string) (Snapshot, error) {
	sess, err := s.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Controller.Snapshot(), nil
}

// CSV returns the session's grid as CSV text without exporting it.
func (s *Service) CSV(id string) (string, error) {
	sess, err := s.get(id)
	if err != nil {
		return "", err
	}
	return sess.Controller.CSV()
}

// CloseSession discards a session. Closing an unknown id returns ErrSessionNotFound.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	slog.Info("session closed", "session_id", id)
	return nil
}

// SessionCount returns the number of live sessions.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ListDocuments lists documents available for loading.
func (s *Service) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	docs, err := s.store.List(ctx)
	if err != nil {
		return nil, classify("list", "", ErrReadFailure, err)
	}
	return docs, nil
}

// IOStatus reports the shared I/O limiter state.
func (s *Service) IOStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForIO blocks until in-flight storage operations finish or ctx is done.
func (s *Service) WaitForIO(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
