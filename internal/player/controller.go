package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/esplay/internal/media"
)

// Controller bridges a DemuxerPort to a Backend. All state is owned by the
// loop goroutine; the exported methods hand work over and wait for it.
type Controller struct {
	cfg     Config
	backend Backend
	demuxer DemuxerPort
	events  Events
	logger  *slog.Logger
	loop    *Loop

	sm       *stateMachine
	observer *BufferObserver
	seeker   seekCoordinator
	channels [media.NumStreamTypes]*StreamChannel

	started  atomic.Bool
	closed   bool
	cancel   context.CancelFunc
	stopTick func()

	configured   bool
	duration     time.Duration
	ranges       media.RangeSet
	rangesKnown  bool
	position     time.Duration
	readyState   ReadyState
	networkState NetworkState

	// wantPlaying is the host's intent; stalled marks an internal pause
	// taken because too little data was buffered.
	wantPlaying bool
	stalled     bool
	ended       bool

	rate    float64
	volume  float64
	lastErr error
}

// New creates a controller. Start must be called before use.
func New(cfg Config, backend Backend, demuxer DemuxerPort, events Events, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid player config: %w", err)
	}
	if backend == nil || demuxer == nil {
		return nil, errors.New("backend and demuxer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("backend", backend.Name()))

	c := &Controller{
		cfg:         cfg,
		backend:     backend,
		demuxer:     demuxer,
		events:      events,
		logger:      logger,
		loop:        NewLoop(),
		wantPlaying: cfg.Autoplay,
		rate:        1,
		volume:      1,
	}
	c.sm = newStateMachine(backend, c.loop, cfg, logger)
	c.sm.onConfirmed = c.onStateConfirmed
	c.sm.onFailed = c.fail
	c.observer = NewBufferObserver(cfg, c.onBufferStatus)
	return c, nil
}

// Start runs the pipeline loop, initializes the backend and the demuxer and
// requests the Idle state. Elementary-stream backends may block here until
// their asynchronous initialization completes.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("pipeline already started")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.loop.Run(loopCtx)

	var startErr error
	if err := c.loop.Do(ctx, func() { startErr = c.start(ctx) }); err != nil {
		return err
	}
	return startErr
}

func (c *Controller) start(ctx context.Context) error {
	if err := c.backend.Initialize(ctx, &backendListener{c: c}); err != nil {
		return fmt.Errorf("initializing backend: %w", err)
	}
	if err := c.demuxer.Initialize(&demuxerClient{c: c}); err != nil {
		return fmt.Errorf("initializing demuxer: %w", err)
	}
	if err := c.sm.Request(StateIdle); err != nil {
		return fmt.Errorf("requesting idle: %w", err)
	}
	c.setNetworkState(NetworkLoading)
	c.stopTick = c.loop.Every(c.cfg.TimeUpdateInterval, c.tick)
	c.logger.Info("pipeline started")
	return nil
}

// Play starts or resumes playback. Before the backend is ready the request
// is remembered and applied once preparation completes.
func (c *Controller) Play(ctx context.Context) error {
	return c.run(ctx, c.play)
}

// Pause pauses playback.
func (c *Controller) Pause(ctx context.Context) error {
	return c.run(ctx, c.pause)
}

// Seek moves playback to t.
func (c *Controller) Seek(ctx context.Context, t time.Duration) error {
	return c.run(ctx, func() error { return c.seek(t) })
}

// SetRate changes the playback rate. Backends without rate control return
// an ErrNotSupported error.
func (c *Controller) SetRate(ctx context.Context, rate float64) error {
	return c.run(ctx, func() error { return c.setRate(rate) })
}

// SetVolume changes the output volume in [0, 1]. Backends without volume
// control silently ignore it.
func (c *Controller) SetVolume(ctx context.Context, level float64) error {
	return c.run(ctx, func() error { return c.setVolume(level) })
}

// Status returns a snapshot of the pipeline.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.run(ctx, func() error {
		st = c.status()
		return nil
	})
	return st, err
}

// Close tears the pipeline down. Pending completions become no-ops and
// every queued payload is released.
func (c *Controller) Close(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}
	var closeErr error
	err := c.loop.Do(ctx, func() { closeErr = c.close() })
	if errors.Is(err, ErrClosed) {
		return nil
	}
	if err != nil {
		return err
	}
	c.loop.Stop()
	select {
	case <-c.loop.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	c.cancel()
	return closeErr
}

func (c *Controller) run(ctx context.Context, fn func() error) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	var opErr error
	if err := c.loop.Do(ctx, func() {
		if c.closed {
			opErr = ErrClosed
			return
		}
		opErr = fn()
	}); err != nil {
		return err
	}
	return opErr
}

func (c *Controller) play() error {
	if c.seeker.active() {
		c.wantPlaying = true
		c.seeker.deferState(StatePlaying)
		return nil
	}
	c.wantPlaying = true
	if c.ended {
		if err := c.seek(0); err != nil {
			return err
		}
		c.seeker.deferState(StatePlaying)
		return nil
	}
	if !c.sm.Current().AtLeastReady() {
		// Re-prepare after a failure forced the backend back to Idle.
		if c.configured && c.sm.Effective() == StateIdle && c.sm.Current() == StateIdle {
			return c.requestState(StateReady)
		}
		return nil
	}
	if c.readyState < HaveFutureData {
		c.stalled = true
		return nil
	}
	c.stalled = false
	return c.requestState(StatePlaying)
}

func (c *Controller) pause() error {
	c.wantPlaying = false
	c.stalled = false
	if c.seeker.active() {
		c.seeker.deferState(StatePaused)
		return nil
	}
	if !c.sm.Current().AtLeastReady() {
		return nil
	}
	return c.requestState(StatePaused)
}

func (c *Controller) setRate(rate float64) error {
	if !validRate(rate) {
		return BadArgument("set_rate", "rate must be positive, got %v", rate)
	}
	if c.seeker.active() {
		c.seeker.deferRate(rate)
		return nil
	}
	if err := c.backend.SetPlaybackRate(rate); err != nil {
		return err
	}
	c.rate = rate
	return nil
}

func (c *Controller) setVolume(level float64) error {
	if level < 0 || level > 1 {
		return BadArgument("set_volume", "volume must be within [0, 1], got %v", level)
	}
	err := c.backend.SetVolume(level)
	if errors.Is(err, ErrNotSupported) {
		c.logger.Debug("volume control not supported, ignoring", slog.Float64("level", level))
		return nil
	}
	if err != nil {
		return err
	}
	c.volume = level
	return nil
}

// requestState forwards a state request. Caller misuse comes back as-is;
// a backend failure tears the pipeline down to Idle.
func (c *Controller) requestState(s State) error {
	err := c.sm.Request(s)
	if err == nil || errors.Is(err, ErrBadArgument) {
		return err
	}
	c.fail(err)
	return err
}

func (c *Controller) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.stopTick != nil {
		c.stopTick()
	}
	c.seeker.generation++
	c.seeker.reset()
	c.sm.invalidate()
	c.flushChannels()

	var errs []error
	if c.sm.Current().AtLeastReady() {
		if err := c.backend.Stop(); err != nil && !errors.Is(err, ErrNotSupported) {
			errs = append(errs, fmt.Errorf("stopping backend: %w", err))
		}
	}
	if err := c.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing backend: %w", err))
	}
	if closer, ok := c.demuxer.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing demuxer: %w", err))
		}
	}
	c.logger.Info("pipeline closed")
	return errors.Join(errs...)
}

func (c *Controller) tick() {
	if c.closed {
		return
	}
	if !c.seeker.active() && !c.ended && c.sm.Current().AtLeastReady() {
		c.position = c.backend.GetPlayingTime()
		if c.sm.Current() == StatePlaying {
			c.events.timeUpdate(c.position)
		}
	}
	c.recomputeReadyState()
	c.pump()
	c.requestAll()
}

func (c *Controller) onStateConfirmed(s State) {
	c.events.playerStateChange(s)
	if c.closed || s != StateReady {
		return
	}
	if c.seeker.pending {
		c.issueBackendSeek()
	}
	c.pump()
	c.requestAll()

	if _, delayed := c.sm.Delayed(); delayed || c.sm.InFlight() || c.seeker.active() {
		return
	}
	if c.wantPlaying {
		if err := c.play(); err != nil {
			c.logger.Warn("starting playback", slog.String("error", err.Error()))
		}
	}
}

// fail handles an unrecoverable backend error: the backend is forced to
// Idle and the host is told.
func (c *Controller) fail(err error) {
	c.lastErr = err
	if c.seeker.active() {
		c.seeker.reset()
		c.seeker.generation++
		c.events.seekComplete(err)
	}
	c.wantPlaying = false
	c.stalled = false
	if ferr := c.sm.ForceIdle(); ferr != nil {
		c.logger.Debug("backend refused idle", slog.String("error", ferr.Error()))
	}
	c.logger.Error("backend failure", slog.String("error", err.Error()))
	c.setNetworkState(NetworkDecodeError)
	c.events.error(err)
}

func (c *Controller) setNetworkState(s NetworkState) {
	if c.networkState == s {
		return
	}
	c.networkState = s
	c.events.networkStateChange(s)
}

func (c *Controller) onConfigsAvailable(configs media.DemuxerConfigs) {
	first := !c.configured
	for _, t := range media.StreamTypes {
		cfg := configs.Config(t)
		if cfg == nil {
			continue
		}
		sc := *cfg
		sc.Type = t
		if ch := c.channels[t]; ch != nil {
			ch.SetConfig(sc)
		} else {
			c.channels[t] = NewStreamChannel(sc, c.cfg.ChannelMaxBytes[t], c.logger)
		}
		if err := c.backend.SetMediaStreamInfo(t, sc); err != nil {
			c.fail(err)
			return
		}
		if t == media.StreamVideo {
			c.events.mediaDataChange(sc.Width, sc.Height)
		}
		c.logger.Info("stream configured",
			slog.String("stream", t.String()),
			slog.String("codec", sc.Codec))
	}
	if configs.Duration > 0 {
		c.duration = configs.Duration
	}
	c.configured = c.channels[media.StreamAudio] != nil || c.channels[media.StreamVideo] != nil
	if !c.configured {
		return
	}

	if first {
		if err := c.requestState(StateReady); err != nil {
			c.logger.Warn("preparing backend", slog.String("error", err.Error()))
		}
	}
	c.recomputeReadyState()
	c.requestAll()
}

func (c *Controller) onData(buf *media.Ownership, meta media.FrameMetadata) {
	ch := c.channel(meta.Type)
	if ch == nil {
		buf.Release()
		return
	}
	ch.requestPending = false
	if c.closed || c.seeker.state == SeekDemuxerSeeking {
		buf.Release()
		return
	}

	var frame *media.EncodedFrame
	if meta.EndOfStream {
		buf.Release()
		frame = media.NewEOSFrame(meta.Type, meta.Timestamp)
	} else {
		f, err := media.NewFrame(media.FrameParams{
			Type:       meta.Type,
			Payload:    buf,
			PTS:        meta.Timestamp,
			Duration:   meta.Duration,
			KeyFrame:   meta.KeyFrame,
			Encryption: meta.Encryption,
		})
		if err != nil {
			c.logger.Warn("discarding malformed frame", slog.String("error", err.Error()))
			buf.Release()
			c.requestData(meta.Type)
			return
		}
		frame = f
	}

	switch err := ch.PushFrame(frame); {
	case err == nil:
	case errors.Is(err, ErrNoSpace):
		ch.Stash(frame)
		c.setFlowPaused(meta.Type, true)
	default:
		c.logger.Warn("dropping frame", slog.String("error", err.Error()))
		frame.Release()
	}

	if meta.EndOfStream {
		c.onStreamEOS()
	}
	c.pump()
	c.requestData(meta.Type)
}

func (c *Controller) onStreamEOS() {
	for _, ch := range c.channels {
		if ch != nil && !ch.IsEOS() {
			return
		}
	}
	c.setNetworkState(NetworkLoaded)
	c.recomputeReadyState()
}

func (c *Controller) onDurationChanged(d time.Duration) {
	c.duration = d
	c.recomputeReadyState()
}

func (c *Controller) onBufferedRangesChanged(ranges media.RangeSet) {
	c.ranges = ranges
	c.rangesKnown = true
	c.recomputeReadyState()
}

func (c *Controller) onPlaybackComplete() {
	if c.seeker.active() || c.closed {
		return
	}
	c.ended = true
	c.wantPlaying = false
	c.stalled = false
	if c.duration > 0 {
		c.position = c.duration
	} else {
		c.position = c.backend.GetPlayingTime()
	}
	if c.sm.Effective() == StatePlaying {
		if err := c.requestState(StatePaused); err != nil {
			c.logger.Debug("pausing at end", slog.String("error", err.Error()))
		}
	}
	c.logger.Info("playback complete", slog.Duration("position", c.position))
	c.events.timeUpdate(c.position)
	c.events.ended()
}

func (c *Controller) onBufferStatus(t media.StreamType, s BufferStatus) {
	ch := c.channel(t)
	if ch == nil {
		return
	}
	switch s {
	case BufferUnderrun, BufferMinThreshold:
		ch.SetShouldFeed(true)
		c.pump()
		c.requestData(t)
	case BufferMaxThreshold, BufferOverflow, BufferEOS:
		ch.SetShouldFeed(false)
	}
}

func (c *Controller) canPump() bool {
	if c.closed || !c.sm.Current().AtLeastReady() {
		return false
	}
	return c.seeker.state == SeekNone || c.seeker.state == SeekPlayerSeeking
}

// pump drains every channel into the backend.
func (c *Controller) pump() {
	if !c.canPump() {
		return
	}
	for _, ch := range c.channels {
		if ch == nil {
			continue
		}
		c.drain(ch)
		if ch.Stashed() && ch.RetryStash() {
			c.setFlowPaused(ch.Type(), false)
			c.drain(ch)
		}
	}
}

func (c *Controller) drain(ch *StreamChannel) {
	res := ch.DrainIfPossible(c.backend.PushPacket)
	if res.EOSDelivered {
		c.observer.EOSReached(ch.Type())
	}
}

func (c *Controller) requestAll() {
	for _, t := range media.StreamTypes {
		c.requestData(t)
	}
}

// requestData keeps at most one data request outstanding per stream.
func (c *Controller) requestData(t media.StreamType) {
	ch := c.channel(t)
	if ch == nil || c.closed || c.seeker.state == SeekDemuxerSeeking {
		return
	}
	if ch.requestPending || ch.IsEOS() || !ch.HasRoom() {
		return
	}
	ch.requestPending = true
	c.demuxer.RequestDemuxerData(t)
}

func (c *Controller) setFlowPaused(t media.StreamType, paused bool) {
	if fc, ok := c.demuxer.(FlowController); ok {
		fc.SetFlowPaused(t, paused)
	}
}

func (c *Controller) flushChannels() {
	for _, ch := range c.channels {
		if ch != nil {
			if ch.Stashed() {
				c.setFlowPaused(ch.Type(), false)
			}
			ch.ClearQueue()
		}
	}
}

func (c *Controller) channel(t media.StreamType) *StreamChannel {
	if !t.Valid() {
		return nil
	}
	return c.channels[t]
}

func (c *Controller) frameDuration() time.Duration {
	for _, t := range []media.StreamType{media.StreamVideo, media.StreamAudio} {
		if ch := c.channels[t]; ch != nil && ch.LastFrameDuration() > 0 {
			return ch.LastFrameDuration()
		}
	}
	return c.cfg.DefaultFrameDuration
}

func (c *Controller) readyInput() ReadyInput {
	in := ReadyInput{
		HasMetadata:   c.configured,
		Position:      c.position,
		Duration:      c.duration,
		Ranges:        c.ranges,
		RangesKnown:   c.rangesKnown,
		FrameDuration: c.frameDuration(),
		Tick:          c.cfg.TimeUpdateInterval,
		Horizon:       c.cfg.BufferingHorizon,
	}
	attached, eos := 0, 0
	for _, ch := range c.channels {
		if ch == nil {
			continue
		}
		attached++
		if ch.IsEOS() {
			eos++
		}
		in.LastPushedEnd = append(in.LastPushedEnd, ch.LastPushedEnd())
	}
	in.AllEOS = attached > 0 && eos == attached
	return in
}

// recomputeReadyState updates the ready state and applies the stall policy:
// too little lookahead while playing pauses internally, enough lookahead
// while stalled resumes.
func (c *Controller) recomputeReadyState() {
	rs := ComputeReadyState(c.readyInput())
	if rs != c.readyState {
		c.logger.Debug("ready state changed",
			slog.String("from", c.readyState.String()),
			slog.String("to", rs.String()))
		c.readyState = rs
		c.events.readyStateChange(rs)
	}
	if c.seeker.active() || c.closed || !c.sm.Current().AtLeastReady() {
		return
	}

	switch {
	case rs <= HaveCurrentData && c.wantPlaying && !c.stalled && c.sm.Effective() == StatePlaying:
		c.logger.Info("stalled waiting for data", slog.Duration("position", c.position))
		c.stalled = true
		if err := c.requestState(StatePaused); err != nil {
			c.logger.Warn("pausing for data", slog.String("error", err.Error()))
		}
	case rs >= HaveFutureData && c.stalled:
		c.stalled = false
		if c.wantPlaying && c.sm.Effective() != StatePlaying {
			c.logger.Info("resuming after stall", slog.Duration("position", c.position))
			if err := c.requestState(StatePlaying); err != nil {
				c.logger.Warn("resuming after stall", slog.String("error", err.Error()))
			}
		}
	}
}

// Status is a snapshot of the pipeline.
type Status struct {
	Backend       string
	State         State
	Requested     State
	SeekState     SeekState
	ReadyState    ReadyState
	NetworkState  NetworkState
	Position      time.Duration
	Duration      time.Duration
	Rate          float64
	Volume        float64
	WantPlaying   bool
	Stalled       bool
	Ended         bool
	Buffered      []media.TimeRange
	BufferStatus  map[string]string
	Channels      []ChannelStats
	LastError     error
	EventHandlers []EventKind
}

func (c *Controller) status() Status {
	st := Status{
		Backend:       c.backend.Name(),
		State:         c.sm.Current(),
		Requested:     c.sm.Effective(),
		SeekState:     c.seeker.state,
		ReadyState:    c.readyState,
		NetworkState:  c.networkState,
		Position:      c.position,
		Duration:      c.duration,
		Rate:          c.rate,
		Volume:        c.volume,
		WantPlaying:   c.wantPlaying,
		Stalled:       c.stalled,
		Ended:         c.ended,
		Buffered:      c.ranges.Ranges(),
		BufferStatus:  make(map[string]string),
		LastError:     c.lastErr,
		EventHandlers: c.events.Registered(),
	}
	for _, ch := range c.channels {
		if ch == nil {
			continue
		}
		st.Channels = append(st.Channels, ch.Stats())
		st.BufferStatus[ch.Type().String()] = c.observer.Status(ch.Type()).String()
	}
	return st
}

// demuxerClient and backendListener hand foreign callbacks over to the loop.
type demuxerClient struct{ c *Controller }

func (d *demuxerClient) OnConfigsAvailable(configs media.DemuxerConfigs) {
	d.c.loop.Post(func() { d.c.onConfigsAvailable(configs) })
}

func (d *demuxerClient) OnDataAvailable(buf *media.Ownership, meta media.FrameMetadata) {
	if !d.c.loop.Post(func() { d.c.onData(buf, meta) }) {
		buf.Release()
	}
}

func (d *demuxerClient) OnSeekDone(actual time.Duration) {
	d.c.loop.Post(func() { d.c.onSeekDone(actual) })
}

func (d *demuxerClient) OnDurationChanged(dur time.Duration) {
	d.c.loop.Post(func() { d.c.onDurationChanged(dur) })
}

func (d *demuxerClient) OnBufferedRangesChanged(ranges media.RangeSet) {
	d.c.loop.Post(func() { d.c.onBufferedRangesChanged(ranges) })
}

type backendListener struct{ c *Controller }

func (l *backendListener) OnPrepared() {
	l.c.loop.Post(l.c.sm.CheckNow)
}

func (l *backendListener) OnPlaybackComplete() {
	l.c.loop.Post(l.c.onPlaybackComplete)
}

func (l *backendListener) OnError(err error) {
	l.c.loop.Post(func() {
		if !l.c.closed {
			l.c.fail(err)
		}
	})
}

func (l *backendListener) OnBufferStatus(t media.StreamType, bytes int64) {
	l.c.loop.Post(func() {
		if !l.c.closed {
			l.c.observer.UpdateFill(t, bytes)
		}
	})
}

func (l *backendListener) OnSeekComplete() {
	l.c.loop.Post(func() { l.c.logger.Debug("backend reported seek complete") })
}
