package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/esplay/internal/demux"
	"github.com/jmylchreest/esplay/internal/player"
)

// Session is one playback pipeline: a TS demuxer feeding a backend through a
// controller.
type Session struct {
	ID        ulid.ULID
	Path      string
	Backend   string
	CreatedAt time.Time

	controller *player.Controller
	demuxer    *demux.TSDemuxer
	events     *EventLog
	logger     *slog.Logger

	lastActivity atomic.Int64
	ended        chan struct{}
	endedOnce    sync.Once

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity is the time of the last control call.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Events returns the session's event log.
func (s *Session) Events() *EventLog {
	return s.events
}

// Ended is closed when playback reaches the end of the media.
func (s *Session) Ended() <-chan struct{} {
	return s.ended
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) markEnded() {
	s.endedOnce.Do(func() { close(s.ended) })
}

// Play starts or resumes playback.
func (s *Session) Play(ctx context.Context) error {
	s.touch()
	return s.controller.Play(ctx)
}

// Pause pauses playback.
func (s *Session) Pause(ctx context.Context) error {
	s.touch()
	return s.controller.Pause(ctx)
}

// Seek repositions playback. Completion is reported as a seek_complete event.
func (s *Session) Seek(ctx context.Context, t time.Duration) error {
	s.touch()
	return s.controller.Seek(ctx, t)
}

// SetRate changes the playback rate.
func (s *Session) SetRate(ctx context.Context, rate float64) error {
	s.touch()
	return s.controller.SetRate(ctx, rate)
}

// SetVolume changes the output volume.
func (s *Session) SetVolume(ctx context.Context, level float64) error {
	s.touch()
	return s.controller.SetVolume(ctx, level)
}

// Info is a snapshot of a session for the API.
type Info struct {
	ID           string        `json:"id"`
	Path         string        `json:"path"`
	Backend      string        `json:"backend"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
	Status       player.Status `json:"-"`
	Demuxer      demux.Stats   `json:"demuxer"`
}

// Info collects the controller status and demuxer counters.
func (s *Session) Info(ctx context.Context) (Info, error) {
	info := Info{
		ID:           s.ID.String(),
		Path:         s.Path,
		Backend:      s.Backend,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
	}
	st, err := s.controller.Status(ctx)
	if err != nil {
		return info, err
	}
	info.Status = st
	if ds, err := s.demuxer.Stats(ctx); err == nil {
		info.Demuxer = ds
	}
	return info, nil
}

// Close shuts the pipeline down. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	defer close(s.done)

	err := s.controller.Close(ctx)
	if errors.Is(err, player.ErrClosed) {
		err = nil
	}
	s.logger.Info("session closed", slog.Duration("lifetime", time.Since(s.CreatedAt)))
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
