package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplay/internal/media"
	"github.com/jmylchreest/esplay/internal/player"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferBytes = [media.NumStreamTypes]int64{1000, 1000}
	cfg.TransitionLatency = time.Millisecond
	cfg.SeekLatency = 5 * time.Millisecond
	cfg.InitLatency = 20 * time.Millisecond
	cfg.ClockInterval = 2 * time.Millisecond
	return cfg
}

type listener struct {
	mu       sync.Mutex
	prepared int
	complete int
	errs     []error
	fills    map[media.StreamType]int64
	seeks    int
}

func newListener() *listener {
	return &listener{fills: make(map[media.StreamType]int64)}
}

func (l *listener) OnPrepared() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prepared++
}

func (l *listener) OnPlaybackComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.complete++
}

func (l *listener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *listener) OnBufferStatus(t media.StreamType, bytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fills[t] = bytes
}

func (l *listener) OnSeekComplete() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seeks++
}

func (l *listener) get(fn func(*listener) int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(l)
}

func frame(t *testing.T, st media.StreamType, pts time.Duration, size int, released *atomic.Int32) *media.EncodedFrame {
	t.Helper()
	f, err := media.NewFrame(media.FrameParams{
		Type:     st,
		Payload:  media.NewOwnership(media.NewSharedBuffer(make([]byte, size), func() { released.Add(1) })),
		PTS:      pts,
		Duration: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return f
}

func waitState(t *testing.T, b player.Backend, want player.State) {
	t.Helper()
	require.Eventually(t, func() bool { return b.GetState() == want },
		time.Second, time.Millisecond, "backend never reached %s", want)
}

func prepared(t *testing.T, b player.Backend) *listener {
	t.Helper()
	l := newListener()
	require.NoError(t, b.Initialize(context.Background(), l))
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.SetMediaStreamInfo(media.StreamVideo, media.StreamConfig{Type: media.StreamVideo, Codec: "h264"}))
	require.NoError(t, b.Prepare())
	waitState(t, b, player.StateReady)
	return l
}

func TestNew(t *testing.T) {
	for _, kind := range Kinds() {
		b, err := New(kind, testConfig(), testLogger())
		require.NoError(t, err)
		assert.Equal(t, kind, b.Name())
	}
	_, err := New("hardware", testConfig(), testLogger())
	assert.Error(t, err)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate("push_packet", codeOK))
	assert.True(t, player.IsTransient(translate("push_packet", codeBufferFull)))
	assert.True(t, errors.Is(translate("set_rate", codeNotSupported), player.ErrNotSupported))
	assert.True(t, errors.Is(translate("seek", codeAborted), player.ErrAborted))
	assert.True(t, errors.Is(translate("push_packet", codeInvalidParam), player.ErrBadArgument))
	assert.True(t, errors.Is(translate("decode", codeDecodeFailed), player.ErrBackendFailure))

	var pe *player.Error
	require.True(t, errors.As(translate("play", codeInvalidState), &pe))
	assert.Equal(t, int(codeInvalidState), pe.Code)
	assert.Equal(t, "play", pe.Op)
}

func TestPlayer_PrepareNeedsStreams(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	require.NoError(t, b.Initialize(context.Background(), newListener()))
	defer b.Close()

	assert.True(t, errors.Is(b.Prepare(), player.ErrBadArgument))
	assert.True(t, errors.Is(b.Play(), player.ErrBackendFailure), "play from idle")
}

func TestPlayer_UnsupportedCodec(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	err := b.SetMediaStreamInfo(media.StreamVideo, media.StreamConfig{Codec: "theora"})
	assert.True(t, errors.Is(err, player.ErrNotSupported))
	err = b.SetMediaStreamInfo(media.StreamAudio, media.StreamConfig{Codec: "h264"})
	assert.True(t, errors.Is(err, player.ErrNotSupported))
}

func TestPlayer_PrepareFiresCallback(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	l := prepared(t, b)
	require.Eventually(t, func() bool { return l.get(func(l *listener) int { return l.prepared }) == 1 },
		time.Second, time.Millisecond)
}

func TestPlayer_PushBufferFull(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	prepared(t, b)

	var released atomic.Int32
	require.NoError(t, b.PushPacket(frame(t, media.StreamVideo, 0, 600, &released)))

	f := frame(t, media.StreamVideo, 10*time.Millisecond, 600, &released)
	err := b.PushPacket(f)
	require.Error(t, err)
	assert.True(t, player.IsTransient(err))
	assert.True(t, f.Payload().Held(), "rejected frame stays with the caller")

	assert.True(t, errors.Is(b.PushPacket(media.NewEOSFrame(media.StreamAudio, 0)), player.ErrBadArgument),
		"unconfigured stream")
}

func TestPlayer_ConsumesAndCompletes(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	l := prepared(t, b)

	var released atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, b.PushPacket(frame(t, media.StreamVideo, time.Duration(i)*10*time.Millisecond, 100, &released)))
	}
	require.NoError(t, b.PushPacket(media.NewEOSFrame(media.StreamVideo, 50*time.Millisecond)))
	require.NoError(t, b.Play())

	require.Eventually(t, func() bool { return l.get(func(l *listener) int { return l.complete }) == 1 },
		2*time.Second, time.Millisecond)
	assert.Equal(t, int32(5), released.Load())
	assert.Equal(t, 50*time.Millisecond, b.GetPlayingTime())
	assert.Equal(t, player.StatePaused, b.GetState())
}

func TestPlayer_ClockWaitsForData(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	prepared(t, b)

	var released atomic.Int32
	require.NoError(t, b.PushPacket(frame(t, media.StreamVideo, 0, 100, &released)))
	require.NoError(t, b.Play())
	waitState(t, b, player.StatePlaying)

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, b.GetPlayingTime(), 10*time.Millisecond)
}

func TestPlayer_SeekFlushesAndSupersedes(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	l := prepared(t, b)

	var released atomic.Int32
	require.NoError(t, b.PushPacket(frame(t, media.StreamVideo, 0, 100, &released)))

	results := make(chan error, 2)
	require.NoError(t, b.SetPlayPosition(time.Second, true, func(err error) { results <- err }))
	assert.Equal(t, int32(1), released.Load(), "seek releases buffered frames")
	require.NoError(t, b.SetPlayPosition(2*time.Second, true, func(err error) { results <- err }))

	var got []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			got = append(got, err)
		case <-time.After(time.Second):
			t.Fatal("seek never completed")
		}
	}
	aborted := 0
	for _, err := range got {
		if errors.Is(err, player.ErrAborted) {
			aborted++
		} else {
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, aborted)
	assert.Equal(t, 2*time.Second, b.GetPlayingTime())
	assert.Equal(t, 1, l.get(func(l *listener) int { return l.seeks }))
}

func TestPlayer_EncryptedFrameWithoutDRM(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	l := prepared(t, b)

	f, err := media.NewFrame(media.FrameParams{
		Type:       media.StreamVideo,
		Payload:    media.NewOwnership(media.NewOwnedBuffer(make([]byte, 10))),
		Duration:   10 * time.Millisecond,
		Encryption: &media.Encryption{Handle: "key-1", Size: 10},
	})
	require.NoError(t, err)
	require.NoError(t, b.PushPacket(f))
	require.NoError(t, b.Play())

	require.Eventually(t, func() bool { return l.get(func(l *listener) int { return len(l.errs) }) > 0 },
		time.Second, time.Millisecond)
}

func TestPlayer_ReportsBufferFill(t *testing.T) {
	b := NewPlayer(testConfig(), testLogger())
	l := prepared(t, b)

	var released atomic.Int32
	require.NoError(t, b.PushPacket(frame(t, media.StreamVideo, 0, 300, &released)))
	require.Eventually(t, func() bool {
		return l.get(func(l *listener) int { return int(l.fills[media.StreamVideo]) }) == 300
	}, time.Second, time.Millisecond)
}

func TestElementary_InitBarrier(t *testing.T) {
	b := NewElementary(testConfig(), testLogger())
	defer b.Close()

	start := time.Now()
	require.NoError(t, b.Initialize(context.Background(), newListener()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, player.StateIdle, b.GetState())
}

func TestElementary_InitFailure(t *testing.T) {
	cfg := testConfig()
	cfg.FailInit = true
	b := NewElementary(cfg, testLogger())
	defer b.Close()

	err := b.Initialize(context.Background(), newListener())
	require.Error(t, err)
	assert.True(t, IsInitFailure(err))
	assert.True(t, errors.Is(err, player.ErrBackendFailure))
}

func TestElementary_InitCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.InitLatency = time.Second
	b := NewElementary(cfg, testLogger())
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Initialize(ctx, newListener())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestElementary_RateNotSupported(t *testing.T) {
	b := NewElementary(testConfig(), testLogger())
	assert.True(t, errors.Is(b.SetPlaybackRate(2), player.ErrNotSupported))
	assert.NoError(t, b.SetVolume(0.3))
}
