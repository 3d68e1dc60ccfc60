package backend

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/esplay/internal/codec"
	"github.com/jmylchreest/esplay/internal/media"
	"github.com/jmylchreest/esplay/internal/player"
)

type engineFrame struct {
	pts       time.Duration
	end       time.Duration
	size      int64
	buf       *media.SharedBuffer
	encrypted bool
}

type engineStream struct {
	configured bool
	config     media.StreamConfig
	queue      []engineFrame
	bytes      int64
	eos        bool
	consumed   uint64
	// pushedEnd is the end of the last frame accepted.
	pushedEnd  time.Duration
}

func (s *engineStream) flush(pos time.Duration) {
	for _, f := range s.queue {
		if f.buf != nil {
			f.buf.Release()
		}
	}
	s.queue = nil
	s.bytes = 0
	s.eos = false
	s.pushedEnd = pos
}

// engine simulates a decoder: frames sit in bounded input buffers and are
// consumed against a media clock. Transitions and seeks complete
// asynchronously, callbacks fire from the engine's own goroutines.
type engine struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	listener player.BackendListener
	state    player.State
	streams  [media.NumStreamTypes]*engineStream

	position  time.Duration
	lastTick  time.Time
	rate      float64
	volume    float64
	completed bool

	transitionGen uint64
	seekGen       uint64

	closed bool
	quit   chan struct{}
	wg     sync.WaitGroup
}

func newEngine(cfg Config, logger *slog.Logger) *engine {
	e := &engine{
		cfg:    cfg,
		logger: logger,
		rate:   1,
		volume: 1,
		quit:   make(chan struct{}),
	}
	for i := range e.streams {
		e.streams[i] = &engineStream{}
	}
	return e
}

func (e *engine) open(l player.BackendListener) code {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codeClosed
	}
	if e.state != player.StateNone {
		return codeInvalidState
	}
	e.listener = l
	e.state = player.StateIdle

	e.wg.Add(1)
	go e.run()
	return codeOK
}

// transition validates from and schedules the move to target after the
// configured latency. A newer transition supersedes an older one.
func (e *engine) transition(target player.State, from ...player.State) code {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codeClosed
	}
	allowed := false
	for _, s := range from {
		if e.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return codeInvalidState
	}
	if target == player.StateReady && !e.anyConfigured() {
		return codeInvalidParam
	}
	if target == player.StateIdle {
		e.flushLocked(0)
		e.position = 0
		e.completed = false
	}

	e.transitionGen++
	gen := e.transitionGen
	e.after(e.cfg.TransitionLatency, func() {
		e.mu.Lock()
		if e.closed || gen != e.transitionGen {
			e.mu.Unlock()
			return
		}
		e.state = target
		e.lastTick = time.Now()
		l := e.listener
		e.mu.Unlock()

		e.logger.Debug("engine state changed", slog.String("state", target.String()))
		if target == player.StateReady && l != nil {
			l.OnPrepared()
		}
	})
	return codeOK
}

func (e *engine) prepare() code {
	return e.transition(player.StateReady, player.StateIdle)
}

func (e *engine) unprepare() code {
	return e.transition(player.StateIdle, player.StateReady)
}

func (e *engine) play() code {
	return e.transition(player.StatePlaying, player.StateReady, player.StatePaused, player.StatePlaying)
}

func (e *engine) pause() code {
	return e.transition(player.StatePaused, player.StateReady, player.StatePlaying, player.StatePaused)
}

func (e *engine) stop() code {
	return e.transition(player.StateIdle, player.StateReady, player.StatePlaying, player.StatePaused)
}

func (e *engine) seek(t time.Duration, done func(code)) code {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codeClosed
	}
	if !e.state.AtLeastReady() {
		return codeInvalidState
	}
	if t < 0 {
		return codeInvalidParam
	}
	e.flushLocked(t)
	e.position = t
	e.completed = false
	e.seekGen++
	gen := e.seekGen

	e.after(e.cfg.SeekLatency, func() {
		e.mu.Lock()
		result := codeOK
		if e.closed || gen != e.seekGen {
			result = codeAborted
		}
		e.lastTick = time.Now()
		l := e.listener
		e.mu.Unlock()

		if result == codeOK && l != nil {
			l.OnSeekComplete()
		}
		done(result)
	})
	return codeOK
}

func (e *engine) setStreamInfo(t media.StreamType, cfg media.StreamConfig) code {
	if !t.Valid() {
		return codeInvalidParam
	}
	switch t {
	case media.StreamVideo:
		if !codec.IsVideo(cfg.Codec) {
			return codeNotSupported
		}
	case media.StreamAudio:
		if !codec.IsAudio(cfg.Codec) {
			return codeNotSupported
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codeClosed
	}
	s := e.streams[t]
	s.configured = true
	s.config = cfg
	return codeOK
}

func (e *engine) push(frame *media.EncodedFrame) code {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return codeClosed
	}
	if !e.state.AtLeastReady() {
		return codeInvalidState
	}
	t := frame.Type()
	if !t.Valid() || !e.streams[t].configured {
		return codeInvalidParam
	}
	s := e.streams[t]
	if s.eos {
		return codeInvalidState
	}
	if frame.EOS() {
		s.eos = true
		return codeOK
	}
	if frame.Size() == 0 {
		return codeInvalidParam
	}
	size := int64(frame.Size())
	if s.bytes+size > e.cfg.BufferBytes[t] {
		return codeBufferFull
	}
	buf := frame.Payload().Take()
	if buf == nil {
		return codeInvalidParam
	}
	end := frame.End()
	if frame.Duration() <= 0 {
		end = frame.PTS()
	}
	s.queue = append(s.queue, engineFrame{
		pts:       frame.PTS(),
		end:       end,
		size:      size,
		buf:       buf,
		encrypted: frame.Encryption() != nil,
	})
	s.bytes += size
	s.pushedEnd = end
	e.completed = false
	return codeOK
}

func (e *engine) setVolume(level float64) code {
	if level < 0 || level > 1 {
		return codeInvalidParam
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = level
	return codeOK
}

func (e *engine) setRate(rate float64) code {
	if rate <= 0 {
		return codeInvalidParam
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = rate
	return codeOK
}

func (e *engine) getState() player.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *engine) playingTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *engine) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.transitionGen++
	e.seekGen++
	e.flushLocked(0)
	e.state = player.StateNone
	close(e.quit)
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *engine) flushLocked(pos time.Duration) {
	for _, s := range e.streams {
		s.flush(pos)
	}
}

func (e *engine) anyConfigured() bool {
	for _, s := range e.streams {
		if s.configured {
			return true
		}
	}
	return false
}

// after runs fn on its own goroutine once d has elapsed, unless the engine
// closes first.
func (e *engine) after(d time.Duration, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-e.quit:
				return
			}
		}
		fn()
	}()
}

func (e *engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ClockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.quit:
			return
		case now := <-ticker.C:
			e.step(now)
		}
	}
}

type fillReport struct {
	t     media.StreamType
	bytes int64
}

// step advances the media clock, consumes due frames and reports buffer
// fill. The clock only moves as far as every unfinished stream has data.
func (e *engine) step(now time.Time) {
	e.mu.Lock()
	l := e.listener
	var (
		reports  []fillReport
		complete bool
		failed   bool
	)

	if e.state == player.StatePlaying && !e.lastTick.IsZero() {
		elapsed := time.Duration(float64(now.Sub(e.lastTick)) * e.rate)
		target := e.position + elapsed
		for _, s := range e.streams {
			if !s.configured || (s.eos && len(s.queue) == 0) {
				continue
			}
			if s.pushedEnd < target {
				target = s.pushedEnd
			}
		}
		if target > e.position {
			e.position = target
		}
	}
	e.lastTick = now

	if e.state == player.StatePlaying {
		for _, s := range e.streams {
			for len(s.queue) > 0 && s.queue[0].pts <= e.position {
				f := s.queue[0]
				s.queue = s.queue[1:]
				s.bytes -= f.size
				s.consumed++
				if f.encrypted && !s.config.Encrypted {
					failed = true
				}
				f.buf.Release()
			}
		}
		if !e.completed && e.allDrained() {
			e.completed = true
			complete = true
			e.state = player.StatePaused
			for _, s := range e.streams {
				if s.configured && s.pushedEnd > e.position {
					e.position = s.pushedEnd
				}
			}
		}
	}

	if e.state.AtLeastReady() {
		for t, s := range e.streams {
			if s.configured && !s.eos {
				reports = append(reports, fillReport{media.StreamType(t), s.bytes})
			}
		}
	}
	e.mu.Unlock()

	if l == nil {
		return
	}
	for _, r := range reports {
		l.OnBufferStatus(r.t, r.bytes)
	}
	if failed {
		l.OnError(translate("decode", codeDecodeFailed))
	}
	if complete {
		e.logger.Debug("engine playback complete")
		l.OnPlaybackComplete()
	}
}

func (e *engine) allDrained() bool {
	configured := false
	for _, s := range e.streams {
		if !s.configured {
			continue
		}
		configured = true
		if !s.eos || len(s.queue) > 0 {
			return false
		}
	}
	return configured
}
