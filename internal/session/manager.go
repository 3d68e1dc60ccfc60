// Package session manages playback sessions: each one owns a TS demuxer, a
// player backend and the pipeline controller that connects them.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/esplay/internal/backend"
	"github.com/jmylchreest/esplay/internal/demux"
	"github.com/jmylchreest/esplay/internal/observability"
	"github.com/jmylchreest/esplay/internal/player"
)

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// ErrTooManySessions is returned when MaxSessions is reached.
var ErrTooManySessions = errors.New("too many sessions")

// ManagerConfig holds configuration for the session manager.
type ManagerConfig struct {
	// MaxSessions is the maximum number of concurrent sessions.
	MaxSessions int
	// IdleTimeout closes sessions without control calls for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	// CleanupInterval is how often idle sessions are looked for.
	CleanupInterval time.Duration
	// EventLogSize is the number of events retained per session.
	EventLogSize int
	// DefaultBackend is used when Open does not name one.
	DefaultBackend string

	Player  player.Config
	Backend backend.Config
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxSessions:     16,
		IdleTimeout:     30 * time.Minute,
		CleanupInterval: 30 * time.Second,
		EventLogSize:    256,
		DefaultBackend:  backend.KindPlayer,
		Player:          player.DefaultConfig(),
		Backend:         backend.DefaultConfig(),
	}
}

// OpenRequest describes a session to open.
type OpenRequest struct {
	Path     string
	Backend  string
	Autoplay bool
}

// Manager manages sessions and their lifecycles.
type Manager struct {
	config ManagerConfig
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[ulid.ULID]*Session
	// reserved counts Opens past the limit check that have not inserted
	// their session yet.
	reserved int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager and starts its cleanup loop.
func NewManager(config ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:   config,
		logger:   observability.WithComponent(logger, "session"),
		sessions: make(map[ulid.ULID]*Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	if config.IdleTimeout > 0 && config.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m
}

// Open creates a session for the file in req and starts its pipeline.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (_ *Session, err error) {
	if req.Path == "" {
		return nil, player.BadArgument("open", "path is required")
	}
	if _, err := os.Stat(req.Path); err != nil {
		return nil, player.BadArgument("open", "%v", err)
	}
	kind := req.Backend
	if kind == "" {
		kind = m.config.DefaultBackend
	}

	if err := m.reserve(); err != nil {
		return nil, err
	}
	inserted := false
	defer func() {
		if !inserted {
			m.release()
		}
	}()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	logger := observability.WithSession(m.logger, id.String())
	done := observability.TimedOperationWithError(ctx, logger, "open_session", &err)
	defer done()

	b, err := backend.New(kind, m.config.Backend, logger)
	if err != nil {
		return nil, player.BadArgument("open", "%v", err)
	}
	dmx := demux.NewTSDemuxer(req.Path, demux.TSDemuxerConfig{Logger: logger})

	s := &Session{
		ID:        id,
		Path:      req.Path,
		Backend:   b.Name(),
		CreatedAt: time.Now(),
		demuxer:   dmx,
		events:    NewEventLog(m.config.EventLogSize, logger),
		logger:    logger,
		ended:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.touch()

	cfg := m.config.Player
	cfg.Autoplay = req.Autoplay
	ctrl, err := player.New(cfg, b, dmx, s.events.Callbacks(s.markEnded), logger)
	if err != nil {
		if closeErr := b.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("closing backend: %w", closeErr))
		}
		return nil, err
	}
	s.controller = ctrl

	if err := ctrl.Start(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := ctrl.Close(closeCtx); closeErr != nil {
			observability.WithError(logger, closeErr).Warn("closing half-started session")
		}
		return nil, fmt.Errorf("starting session: %w", err)
	}

	m.mu.Lock()
	if m.sessions == nil {
		m.mu.Unlock()
		_ = s.Close(context.Background())
		return nil, player.ErrClosed
	}
	m.sessions[id] = s
	m.reserved--
	inserted = true
	m.mu.Unlock()

	logger.Info("session opened",
		slog.String("path", req.Path),
		slog.String("backend", s.Backend),
		slog.Bool("autoplay", req.Autoplay))
	return s, nil
}

// reserve claims a slot under MaxSessions for an Open in progress.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		return player.ErrClosed
	}
	if m.config.MaxSessions > 0 && len(m.sessions)+m.reserved >= m.config.MaxSessions {
		return fmt.Errorf("%w: limit is %d", ErrTooManySessions, m.config.MaxSessions)
	}
	m.reserved++
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.reserved--
	m.mu.Unlock()
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[parsed]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	slices.SortFunc(list, func(a, b *Session) int { return a.ID.Compare(b.ID) })
	return list
}

// Close closes one session and forgets it.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	return s.Close(ctx)
}

// CloseAll stops the cleanup loop and closes every session.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing session %s: %w", s.ID, err))
		}
	}
	m.wg.Wait()
	return errors.Join(errs...)
}

// Stats holds manager statistics.
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	MaxSessions    int `json:"max_sessions"`
}

// Stats returns manager statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{ActiveSessions: len(m.sessions), MaxSessions: m.config.MaxSessions}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupIdleSessions()
		}
	}
}

// cleanupIdleSessions closes sessions that have seen no control call within
// the idle timeout.
func (m *Manager) cleanupIdleSessions() {
	var idle []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.isClosed() || time.Since(s.LastActivity()) > m.config.IdleTimeout {
			delete(m.sessions, id)
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		logger := observability.WithSession(m.logger, s.ID.String())
		logger.Info("closing idle session", slog.Duration("idle", time.Since(s.LastActivity())))
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		if err := s.Close(ctx); err != nil {
			observability.WithError(logger, err).Warn("closing idle session failed")
		}
		cancel()
	}
}
