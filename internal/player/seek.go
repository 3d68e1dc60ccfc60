package player

import (
	"log/slog"
	"math"
	"time"

	"github.com/jmylchreest/esplay/internal/observability"
)

// SeekState tracks a seek through its demuxer and backend phases.
type SeekState int

const (
	SeekNone SeekState = iota
	SeekDemuxerSeeking
	// SeekDemuxerSeekDone means the demuxer repositioned but the backend
	// seek waits for the backend to become ready.
	SeekDemuxerSeekDone
	SeekPlayerSeeking
)

func (s SeekState) String() string {
	switch s {
	case SeekNone:
		return "none"
	case SeekDemuxerSeeking:
		return "demuxer_seeking"
	case SeekDemuxerSeekDone:
		return "demuxer_seek_done"
	case SeekPlayerSeeking:
		return "player_seeking"
	default:
		return "unknown"
	}
}

type seekCoordinator struct {
	state      SeekState
	generation uint64
	// outstanding counts demuxer seeks without an OnSeekDone yet. Only the
	// answer to the latest one is acted on.
	outstanding int
	target      time.Duration
	actual      time.Duration
	pending     bool

	deferredState    State
	hasDeferredState bool
	deferredRate     float64
	hasDeferredRate  bool
}

func (s *seekCoordinator) active() bool { return s.state != SeekNone }

func (s *seekCoordinator) deferState(st State) {
	s.deferredState = st
	s.hasDeferredState = true
}

func (s *seekCoordinator) deferRate(r float64) {
	s.deferredRate = r
	s.hasDeferredRate = true
}

func (s *seekCoordinator) reset() {
	s.state = SeekNone
	s.pending = false
	s.hasDeferredState = false
	s.hasDeferredRate = false
}

func (c *Controller) seek(t time.Duration) error {
	if t < 0 {
		return BadArgument("seek", "negative position %s", t)
	}
	if c.duration > 0 && t > c.duration {
		return BadArgument("seek", "position %s beyond duration %s", t, c.duration)
	}
	if !c.configured {
		return BadArgument("seek", "no media configured")
	}

	c.flushChannels()
	c.observer.ResetStatus()

	c.seeker.generation++
	c.seeker.outstanding++
	c.seeker.state = SeekDemuxerSeeking
	c.seeker.target = t
	c.seeker.pending = false
	c.position = t
	c.ended = false

	c.logger.Debug("seek requested",
		slog.Duration("target", t),
		slog.Uint64("generation", c.seeker.generation))
	c.demuxer.RequestDemuxerSeek(t)
	return nil
}

func (c *Controller) onSeekDone(actual time.Duration) {
	if c.seeker.outstanding > 0 {
		c.seeker.outstanding--
	}
	if c.seeker.outstanding > 0 || c.seeker.state != SeekDemuxerSeeking {
		c.logger.Debug("ignoring superseded demuxer seek", slog.Duration("actual", actual))
		return
	}

	// Data requested before the seek may have arrived in between.
	c.flushChannels()
	c.observer.ResetStatus()
	for _, ch := range c.channels {
		if ch != nil {
			ch.ResetPosition(actual)
			ch.SetShouldFeed(true)
		}
	}
	c.seeker.actual = actual
	c.position = actual

	if !c.sm.Current().AtLeastReady() {
		c.seeker.state = SeekDemuxerSeekDone
		c.seeker.pending = true
		c.logger.Debug("backend not ready, holding seek", slog.Duration("actual", actual))
		// After a failure forced Idle nothing else will prepare the backend,
		// and the held seek would never complete.
		if c.sm.Effective() == StateIdle {
			if err := c.requestState(StateReady); err != nil {
				// fail already completed the seek for backend errors.
				if c.seeker.active() {
					c.failSeek(err)
				}
				return
			}
		}
		c.requestAll()
		return
	}
	c.issueBackendSeek()
}

func (c *Controller) issueBackendSeek() {
	c.seeker.state = SeekPlayerSeeking
	c.seeker.pending = false
	gen := c.seeker.generation
	actual := c.seeker.actual

	err := c.backend.SetPlayPosition(actual, c.cfg.AccurateSeek, func(err error) {
		c.loop.Post(func() { c.onBackendSeekDone(gen, err) })
	})
	if err != nil {
		c.failSeek(err)
		return
	}
	c.requestAll()
}

func (c *Controller) onBackendSeekDone(gen uint64, err error) {
	if gen != c.seeker.generation || c.seeker.state != SeekPlayerSeeking {
		c.logger.Debug("dropping stale seek completion",
			slog.Uint64("generation", gen),
			slog.Uint64("current", c.seeker.generation))
		return
	}
	if err != nil {
		c.failSeek(err)
		return
	}

	deferred := c.seeker
	c.seeker.reset()
	c.position = c.seeker.actual

	c.recomputeReadyState()
	if deferred.hasDeferredState {
		var err error
		if deferred.deferredState == StatePlaying {
			err = c.play()
		} else {
			err = c.pause()
		}
		if err != nil {
			c.logger.Warn("applying deferred state", slog.String("error", err.Error()))
		}
	}
	if deferred.hasDeferredRate {
		if err := c.setRate(deferred.deferredRate); err != nil {
			c.logger.Warn("applying deferred rate", slog.String("error", err.Error()))
		}
	}
	c.pump()
	c.requestAll()

	c.logger.Debug("seek complete", slog.Duration("position", c.position))
	c.events.timeUpdate(c.position)
	c.events.seekComplete(nil)
}

// failSeek reports the failure to the host, then drives the backend to Idle.
func (c *Controller) failSeek(err error) {
	c.seeker.reset()
	c.seeker.generation++
	observability.WithError(c.logger, err).Warn("seek failed")
	c.events.seekComplete(err)
	c.fail(err)
}

func validRate(r float64) bool {
	return r > 0 && !math.IsNaN(r) && !math.IsInf(r, 0)
}
