package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplay/internal/backend"
	"github.com/jmylchreest/esplay/internal/demux"
	"github.com/jmylchreest/esplay/internal/player"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.IdleTimeout = 0
	cfg.Player.StatePollInterval = 5 * time.Millisecond
	cfg.Player.TimeUpdateInterval = 20 * time.Millisecond
	cfg.Backend.TransitionLatency = time.Millisecond
	cfg.Backend.SeekLatency = 2 * time.Millisecond
	cfg.Backend.InitLatency = 2 * time.Millisecond
	cfg.Backend.ClockInterval = 5 * time.Millisecond
	return cfg
}

func writeStream(t *testing.T, duration time.Duration) string {
	t.Helper()
	opts := demux.DefaultGenerateOptions()
	opts.Duration = duration
	path := filepath.Join(t.TempDir(), "clip.ts")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = demux.Generate(f, opts)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return path
}

func newManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	m := NewManager(cfg, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, m.CloseAll(ctx))
	})
	return m
}

func hasEvent(events []Event, kind player.EventKind, detail string) bool {
	for _, ev := range events {
		if ev.Kind == kind.String() && (detail == "" || ev.Detail == detail) {
			return true
		}
	}
	return false
}

func TestManager_OpenPlaysToEnd(t *testing.T) {
	for _, kind := range backend.Kinds() {
		t.Run(kind, func(t *testing.T) {
			m := newManager(t, testManagerConfig())
			path := writeStream(t, 300*time.Millisecond)

			ctx := context.Background()
			s, err := m.Open(ctx, OpenRequest{Path: path, Backend: kind, Autoplay: true})
			require.NoError(t, err)
			assert.Equal(t, kind, s.Backend)

			select {
			case <-s.Ended():
			case <-time.After(10 * time.Second):
				t.Fatal("playback never ended")
			}

			events := s.Events().Since(0)
			assert.True(t, hasEvent(events, player.EventPlayerStateChange, player.StatePlaying.String()))
			assert.True(t, hasEvent(events, player.EventMediaDataChange, "1280x720"))
			assert.True(t, hasEvent(events, player.EventEnded, ""))

			info, err := s.Info(ctx)
			require.NoError(t, err)
			assert.True(t, info.Status.Ended)
			assert.Equal(t, s.ID.String(), info.ID)
		})
	}
}

func TestManager_GetListClose(t *testing.T) {
	m := newManager(t, testManagerConfig())
	path := writeStream(t, 200*time.Millisecond)
	ctx := context.Background()

	a, err := m.Open(ctx, OpenRequest{Path: path})
	require.NoError(t, err)
	b, err := m.Open(ctx, OpenRequest{Path: path})
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID, "oldest first")
	assert.Equal(t, b.ID, list[1].ID)

	got, err := m.Get(a.ID.String())
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, m.Close(ctx, a.ID.String()))
	_, err = m.Get(a.ID.String())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(ctx, a.ID.String()), ErrSessionNotFound)
	assert.Equal(t, 1, m.Stats().ActiveSessions)

	_, err = m.Get("not-a-ulid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_OpenValidation(t *testing.T) {
	m := newManager(t, testManagerConfig())
	ctx := context.Background()

	_, err := m.Open(ctx, OpenRequest{})
	assert.True(t, errors.Is(err, player.ErrBadArgument))

	_, err = m.Open(ctx, OpenRequest{Path: filepath.Join(t.TempDir(), "missing.ts")})
	assert.True(t, errors.Is(err, player.ErrBadArgument))

	_, err = m.Open(ctx, OpenRequest{Path: writeStream(t, 100*time.Millisecond), Backend: "hardware"})
	assert.True(t, errors.Is(err, player.ErrBadArgument))

	garbage := filepath.Join(t.TempDir(), "garbage.ts")
	require.NoError(t, os.WriteFile(garbage, []byte("not a transport stream"), 0o600))
	_, err = m.Open(ctx, OpenRequest{Path: garbage})
	assert.Error(t, err)
	assert.Zero(t, m.Stats().ActiveSessions)
}

func TestManager_MaxSessions(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxSessions = 1
	m := newManager(t, cfg)
	path := writeStream(t, 100*time.Millisecond)

	_, err := m.Open(context.Background(), OpenRequest{Path: path})
	require.NoError(t, err)
	_, err = m.Open(context.Background(), OpenRequest{Path: path})
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestManager_MaxSessionsConcurrentOpens(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxSessions = 1
	m := newManager(t, cfg)
	path := writeStream(t, 100*time.Millisecond)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Open(context.Background(), OpenRequest{Path: path, Backend: backend.KindElementary})
		}()
	}
	wg.Wait()

	opened := 0
	for _, err := range errs {
		if err == nil {
			opened++
			continue
		}
		assert.ErrorIs(t, err, ErrTooManySessions)
	}
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, m.Stats().ActiveSessions)
}

func TestManager_FailedOpenReleasesSlot(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxSessions = 1
	m := newManager(t, cfg)
	path := writeStream(t, 100*time.Millisecond)

	_, err := m.Open(context.Background(), OpenRequest{Path: path, Backend: "no-such-backend"})
	require.Error(t, err)

	_, err = m.Open(context.Background(), OpenRequest{Path: path, Backend: backend.KindElementary})
	assert.NoError(t, err)
}

func TestManager_InvalidPlayerConfig(t *testing.T) {
	cfg := testManagerConfig()
	cfg.Player.StatePollInterval = 0
	m := newManager(t, cfg)

	_, err := m.Open(context.Background(), OpenRequest{Path: writeStream(t, 100*time.Millisecond)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid player config")
	assert.Zero(t, m.Stats().ActiveSessions)

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Zero(t, m.reserved)
}

func TestManager_ClosesIdleSessions(t *testing.T) {
	cfg := testManagerConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond
	m := newManager(t, cfg)

	_, err := m.Open(context.Background(), OpenRequest{Path: writeStream(t, 100*time.Millisecond)})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(m.List()) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestManager_OpenAfterCloseAll(t *testing.T) {
	m := NewManager(testManagerConfig(), testLogger())
	require.NoError(t, m.CloseAll(context.Background()))

	_, err := m.Open(context.Background(), OpenRequest{Path: writeStream(t, 100*time.Millisecond)})
	assert.ErrorIs(t, err, player.ErrClosed)
}

func TestEventLog_Ring(t *testing.T) {
	l := NewEventLog(3, nil)
	assert.Empty(t, l.Since(0))

	for i := 0; i < 5; i++ {
		l.Append(player.EventTimeUpdate, time.Duration(i).String())
	}
	events := l.Since(0)
	require.Len(t, events, 3)
	assert.Equal(t, []uint64{3, 4, 5}, []uint64{events[0].Seq, events[1].Seq, events[2].Seq})
	assert.Equal(t, "time_update", events[0].Kind)

	assert.Len(t, l.Since(4), 1)
	assert.Empty(t, l.Since(5))
	assert.Equal(t, uint64(5), l.Last())
}

func TestEventLog_Callbacks(t *testing.T) {
	l := NewEventLog(16, nil)
	ended := false
	cb := l.Callbacks(func() { ended = true })

	cb.OnSeekComplete(nil)
	cb.OnSeekComplete(errors.New("boom"))
	cb.OnMediaDataChange(640, 360)
	cb.OnEnded()

	events := l.Since(0)
	require.Len(t, events, 4)
	assert.Equal(t, "ok", events[0].Detail)
	assert.Equal(t, "boom", events[1].Detail)
	assert.Equal(t, "640x360", events[2].Detail)
	assert.True(t, ended)
	assert.Len(t, cb.Registered(), 8)
}

func TestEventLog_Changed(t *testing.T) {
	l := NewEventLog(4, nil)
	ch := l.Changed()

	select {
	case <-ch:
		t.Fatal("changed before any append")
	default:
	}

	l.Append(player.EventEnded, "")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("append did not signal")
	}
	assert.NotEqual(t, ch, l.Changed())
}
