package player

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmylchreest/esplay/internal/media"
	"github.com/jmylchreest/esplay/internal/observability"
)

// PushFunc delivers one frame to the backend.
type PushFunc func(frame *media.EncodedFrame) error

// DrainResult summarizes one DrainIfPossible pass.
type DrainResult struct {
	Delivered int
	Dropped   int
	// Blocked is set when the backend reported no buffer space.
	Blocked bool
	// EOSDelivered is set when the end-of-stream marker reached the backend.
	EOSDelivered bool
}

// StreamChannel holds the per-stream queue of encoded frames waiting for the
// backend. It is owned by the pipeline goroutine and has no internal locking.
type StreamChannel struct {
	streamType media.StreamType
	config     media.StreamConfig
	logger     *slog.Logger

	queue       []*media.EncodedFrame
	queuedBytes int64
	maxBytes    int64

	// stash holds the one frame rejected for lack of queue space.
	stash *media.EncodedFrame

	isEOS        bool
	eosDelivered bool
	shouldFeed   bool

	// requestPending is set while a RequestDemuxerData is unanswered.
	requestPending bool

	lastPushedEnd     time.Duration
	lastFrameDuration time.Duration

	framesPushed  uint64
	framesDropped uint64
	bytesPushed   uint64
}

// NewStreamChannel creates a channel with the given queue budget.
func NewStreamChannel(cfg media.StreamConfig, maxBytes int64, logger *slog.Logger) *StreamChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamChannel{
		streamType: cfg.Type,
		config:     cfg,
		maxBytes:   maxBytes,
		shouldFeed: true,
		logger:     logger.With(slog.String("stream", cfg.Type.String())),
	}
}

// Type returns the stream type.
func (c *StreamChannel) Type() media.StreamType { return c.streamType }

// Config returns the current format descriptor.
func (c *StreamChannel) Config() media.StreamConfig { return c.config }

// SetConfig replaces the format descriptor.
func (c *StreamChannel) SetConfig(cfg media.StreamConfig) { c.config = cfg }

// IsEOS reports whether the end-of-stream marker has been queued.
func (c *StreamChannel) IsEOS() bool { return c.isEOS }

// EOSDelivered reports whether the end-of-stream marker reached the backend.
func (c *StreamChannel) EOSDelivered() bool { return c.eosDelivered }

// ShouldFeed reports whether the backend currently accepts data.
func (c *StreamChannel) ShouldFeed() bool { return c.shouldFeed }

// SetShouldFeed toggles delivery to the backend.
func (c *StreamChannel) SetShouldFeed(v bool) { c.shouldFeed = v }

// Len returns the number of queued frames.
func (c *StreamChannel) Len() int { return len(c.queue) }

// QueuedBytes returns the total payload bytes queued.
func (c *StreamChannel) QueuedBytes() int64 { return c.queuedBytes }

// MaxBytes returns the queue budget.
func (c *StreamChannel) MaxBytes() int64 { return c.maxBytes }

// HasRoom reports whether another frame could be requested.
func (c *StreamChannel) HasRoom() bool {
	return c.stash == nil && c.queuedBytes < c.maxBytes
}

// LastPushedEnd returns the end time of the last frame delivered to the backend.
func (c *StreamChannel) LastPushedEnd() time.Duration { return c.lastPushedEnd }

// LastFrameDuration returns the duration of the last delivered frame.
func (c *StreamChannel) LastFrameDuration() time.Duration { return c.lastFrameDuration }

// PushFrame enqueues a frame. It returns ErrNoSpace when the frame does not
// fit in the remaining budget, and a BadArgument error when it could never
// fit. End-of-stream markers always fit.
func (c *StreamChannel) PushFrame(frame *media.EncodedFrame) error {
	if frame == nil {
		return BadArgument("push_frame", "nil frame")
	}
	if frame.Type() != c.streamType {
		return BadArgument("push_frame", "frame for %s pushed to %s channel", frame.Type(), c.streamType)
	}
	if c.isEOS {
		return BadArgument("push_frame", "%s channel already at end of stream", c.streamType)
	}
	size := int64(frame.Size())
	if size > c.maxBytes {
		return BadArgument("push_frame", "frame of %d bytes exceeds %s budget of %d", size, c.streamType, c.maxBytes)
	}
	if c.queuedBytes+size > c.maxBytes {
		return ErrNoSpace
	}

	c.queue = append(c.queue, frame)
	c.queuedBytes += size
	if frame.EOS() {
		c.isEOS = true
	}
	return nil
}

// Stash parks a frame that PushFrame rejected for lack of space.
func (c *StreamChannel) Stash(frame *media.EncodedFrame) {
	if c.stash != nil {
		c.stash.Release()
	}
	c.stash = frame
}

// Stashed reports whether a frame is parked.
func (c *StreamChannel) Stashed() bool { return c.stash != nil }

// RetryStash tries to enqueue the parked frame. It returns true when the
// stash is empty afterwards.
func (c *StreamChannel) RetryStash() bool {
	if c.stash == nil {
		return true
	}
	err := c.PushFrame(c.stash)
	switch {
	case err == nil:
		c.stash = nil
		return true
	case errors.Is(err, ErrNoSpace):
		return false
	default:
		c.logger.Warn("dropping stashed frame", slog.String("error", err.Error()))
		c.stash.Release()
		c.stash = nil
		c.framesDropped++
		return true
	}
}

// DrainIfPossible delivers queued frames while the backend accepts data.
// A transient "buffer space" result stops the pass and keeps the frame for
// the next attempt; any other failure drops the frame and continues.
func (c *StreamChannel) DrainIfPossible(push PushFunc) DrainResult {
	var res DrainResult
	for len(c.queue) > 0 && c.shouldFeed {
		frame := c.queue[0]
		err := push(frame)
		if err != nil && IsTransient(err) {
			res.Blocked = true
			break
		}

		c.pop()
		if err != nil {
			c.logger.Warn("dropping frame rejected by backend",
				slog.Duration("pts", frame.PTS()),
				slog.Int("size", frame.Size()),
				slog.String("error", err.Error()))
			frame.Release()
			c.framesDropped++
			res.Dropped++
			continue
		}

		res.Delivered++
		c.logger.Log(context.Background(), observability.LevelTrace, "frame pushed",
			slog.Duration("pts", frame.PTS()),
			slog.Int("size", frame.Size()),
			slog.Bool("eos", frame.EOS()))
		if frame.EOS() {
			c.eosDelivered = true
			res.EOSDelivered = true
			continue
		}
		c.framesPushed++
		c.bytesPushed += uint64(frame.Size())
		c.lastPushedEnd = frame.End()
		if frame.Duration() > 0 {
			c.lastFrameDuration = frame.Duration()
		}
	}
	return res
}

func (c *StreamChannel) pop() {
	frame := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	c.queuedBytes -= int64(frame.Size())
	if len(c.queue) == 0 {
		c.queue = nil
	}
}

// ClearQueue discards every queued frame and the stash, releasing their
// payloads, and resets the end-of-stream flags.
func (c *StreamChannel) ClearQueue() {
	for _, f := range c.queue {
		f.Release()
	}
	c.queue = nil
	c.queuedBytes = 0
	if c.stash != nil {
		c.stash.Release()
		c.stash = nil
	}
	c.isEOS = false
	c.eosDelivered = false
}

// ResetPosition sets the pushed-end watermark after a seek.
func (c *StreamChannel) ResetPosition(t time.Duration) {
	c.lastPushedEnd = t
}

// ChannelStats is a snapshot of a channel's counters.
type ChannelStats struct {
	Type          string        `json:"type"`
	Codec         string        `json:"codec"`
	QueuedFrames  int           `json:"queued_frames"`
	QueuedBytes   int64         `json:"queued_bytes"`
	MaxBytes      int64         `json:"max_bytes"`
	ShouldFeed    bool          `json:"should_feed"`
	EOS           bool          `json:"eos"`
	FramesPushed  uint64        `json:"frames_pushed"`
	FramesDropped uint64        `json:"frames_dropped"`
	BytesPushed   uint64        `json:"bytes_pushed"`
	LastPushedEnd time.Duration `json:"last_pushed_end"`
}

// Stats returns a snapshot of the channel counters.
func (c *StreamChannel) Stats() ChannelStats {
	return ChannelStats{
		Type:          c.streamType.String(),
		Codec:         c.config.Codec,
		QueuedFrames:  len(c.queue),
		QueuedBytes:   c.queuedBytes,
		MaxBytes:      c.maxBytes,
		ShouldFeed:    c.shouldFeed,
		EOS:           c.isEOS,
		FramesPushed:  c.framesPushed,
		FramesDropped: c.framesDropped,
		BytesPushed:   c.bytesPushed,
		LastPushedEnd: c.lastPushedEnd,
	}
}
