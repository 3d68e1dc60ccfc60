package player

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplay/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StatePollInterval = 5 * time.Millisecond
	cfg.TransitionTimeout = 2 * time.Second
	cfg.TimeUpdateInterval = 20 * time.Millisecond
	cfg.ChannelMaxBytes = [media.NumStreamTypes]int64{1024, 4096}
	cfg.BackendBufferBytes = [media.NumStreamTypes]int64{1000, 1000}
	return cfg
}

// fakeBackend applies transitions immediately when auto is set; otherwise
// the test moves the state with setState.
type fakeBackend struct {
	mu       sync.Mutex
	state    State
	auto     bool
	listener BackendListener
	calls    map[string]int
	pushed   []*media.EncodedFrame
	taken    []*media.SharedBuffer
	full     bool
	pushErr  error
	seeks    []time.Duration
	seekErr  error
	holdSeek bool
	held     []func(error)
	rateErr  error
	volErr   error
	position time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{auto: true, calls: make(map[string]int)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Initialize(_ context.Context, l BackendListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
	b.state = StateIdle
	b.calls["initialize"]++
	return nil
}

func (b *fakeBackend) transition(op string, to State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	if b.auto {
		b.state = to
	}
	return nil
}

func (b *fakeBackend) Prepare() error   { return b.transition("prepare", StateReady) }
func (b *fakeBackend) Unprepare() error { return b.transition("unprepare", StateIdle) }
func (b *fakeBackend) Play() error      { return b.transition("play", StatePlaying) }
func (b *fakeBackend) Pause() error     { return b.transition("pause", StatePaused) }
func (b *fakeBackend) Stop() error      { return b.transition("stop", StateIdle) }

func (b *fakeBackend) SetPlayPosition(t time.Duration, _ bool, done func(error)) error {
	b.mu.Lock()
	b.seeks = append(b.seeks, t)
	b.position = t
	err := b.seekErr
	if b.holdSeek {
		b.held = append(b.held, done)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()
	done(err)
	return nil
}

func (b *fakeBackend) SetMediaStreamInfo(media.StreamType, media.StreamConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["stream_info"]++
	return nil
}

func (b *fakeBackend) PushPacket(frame *media.EncodedFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return ErrBufferSpace
	}
	if b.pushErr != nil {
		return b.pushErr
	}
	b.pushed = append(b.pushed, frame)
	if buf := frame.Payload().Take(); buf != nil {
		b.taken = append(b.taken, buf)
	}
	return nil
}

func (b *fakeBackend) SetVolume(float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.volErr
}

func (b *fakeBackend) SetPlaybackRate(float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rateErr
}

func (b *fakeBackend) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *fakeBackend) GetPlayingTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["close"]++
	return nil
}

func (b *fakeBackend) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

func (b *fakeBackend) setAuto(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auto = v
}

func (b *fakeBackend) setFull(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.full = v
}

func (b *fakeBackend) count(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *fakeBackend) pushedFrames(t media.StreamType) []*media.EncodedFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*media.EncodedFrame
	for _, f := range b.pushed {
		if f.Type() == t {
			out = append(out, f)
		}
	}
	return out
}

func (b *fakeBackend) seekTargets() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]time.Duration(nil), b.seeks...)
}

func (b *fakeBackend) listenerRef() BackendListener {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listener
}

// fakeDemuxer records requests; tests answer them through client.
type fakeDemuxer struct {
	mu       sync.Mutex
	client   DemuxerClient
	requests [media.NumStreamTypes]int
	seeks    []time.Duration
	paused   [media.NumStreamTypes]bool
	closed   bool
}

func (d *fakeDemuxer) Initialize(client DemuxerClient) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.client = client
	return nil
}

func (d *fakeDemuxer) RequestDemuxerData(t media.StreamType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests[t]++
}

func (d *fakeDemuxer) RequestDemuxerSeek(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks = append(d.seeks, t)
}

func (d *fakeDemuxer) SetFlowPaused(t media.StreamType, paused bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused[t] = paused
}

func (d *fakeDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDemuxer) requestCount(t media.StreamType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[t]
}

func (d *fakeDemuxer) seekCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seeks)
}

func (d *fakeDemuxer) flowPaused(t media.StreamType) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused[t]
}

func (d *fakeDemuxer) clientRef() DemuxerClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

// recorder collects host events.
type recorder struct {
	mu           sync.Mutex
	seekResults  []error
	errs         []error
	readyStates  []ReadyState
	playerStates []State
	network      []NetworkState
	ended        atomic.Int32
}

func (r *recorder) events() Events {
	return Events{
		OnSeekComplete: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.seekResults = append(r.seekResults, err)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnReadyStateChange: func(s ReadyState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.readyStates = append(r.readyStates, s)
		},
		OnPlayerStateChange: func(s State) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.playerStates = append(r.playerStates, s)
		},
		OnNetworkStateChange: func(s NetworkState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.network = append(r.network, s)
		},
		OnEnded: func() { r.ended.Add(1) },
	}
}

func (r *recorder) seeks() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.seekResults...)
}

func (r *recorder) errorList() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) readyStateList() []ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReadyState(nil), r.readyStates...)
}

func (r *recorder) networkStates() []NetworkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NetworkState(nil), r.network...)
}

func testFrame(t *testing.T, st media.StreamType, pts time.Duration, size int) *media.EncodedFrame {
	t.Helper()
	f, err := media.NewFrame(media.FrameParams{
		Type:     st,
		Payload:  media.NewOwnership(media.NewOwnedBuffer(make([]byte, size))),
		PTS:      pts,
		Duration: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return f
}

func trackedBuffer(size int, released *atomic.Int32) *media.Ownership {
	return media.NewOwnership(media.NewSharedBuffer(make([]byte, size), func() { released.Add(1) }))
}
