package player

import (
	"context"
	"time"

	"github.com/jmylchreest/esplay/internal/media"
)

// DemuxerPort is the push-based demuxer feeding the pipeline.
//
// A demuxer answers requests in the order they were issued: data requested
// before a seek is delivered before that seek's OnSeekDone.
type DemuxerPort interface {
	// Initialize registers the client and starts the demuxer. Configs are
	// announced asynchronously through OnConfigsAvailable.
	Initialize(client DemuxerClient) error
	// RequestDemuxerData asks for the next frame of the given stream. The
	// demuxer answers with exactly one OnDataAvailable.
	RequestDemuxerData(t media.StreamType)
	// RequestDemuxerSeek repositions the demuxer; completion is OnSeekDone.
	RequestDemuxerSeek(t time.Duration)
}

// FlowController is implemented by demuxers that want to hear about
// backpressure. The controller calls it when a channel queue rejects a frame
// and again once the stashed frame has been accepted.
type FlowController interface {
	SetFlowPaused(t media.StreamType, paused bool)
}

// DemuxerClient receives demuxer callbacks. Callbacks may arrive on any
// goroutine.
type DemuxerClient interface {
	OnConfigsAvailable(configs media.DemuxerConfigs)
	// OnDataAvailable delivers a frame. buf is nil for end-of-stream.
	OnDataAvailable(buf *media.Ownership, meta media.FrameMetadata)
	OnSeekDone(actual time.Duration)
	OnDurationChanged(d time.Duration)
	OnBufferedRangesChanged(ranges media.RangeSet)
}

// Backend is the player backend adapter. Every returned error is already a
// classified *Error. PushPacket returns nil for OK, an ErrTransient-kind
// error for BUFFER_SPACE, anything else for FAILURE.
//
// Operations never block; completions arrive through BackendListener or the
// SetPlayPosition callback, possibly on foreign goroutines.
type Backend interface {
	Name() string
	// Initialize opens the backend session. Elementary-stream backends block
	// here until their asynchronous init completes.
	Initialize(ctx context.Context, listener BackendListener) error

	Prepare() error
	Unprepare() error
	Play() error
	Pause() error
	Stop() error

	SetPlayPosition(t time.Duration, accurate bool, done func(error)) error
	SetMediaStreamInfo(t media.StreamType, cfg media.StreamConfig) error
	// PushPacket submits a frame. On success the backend takes the frame's
	// payload ownership; on failure the caller keeps it.
	PushPacket(frame *media.EncodedFrame) error

	SetVolume(level float64) error
	SetPlaybackRate(rate float64) error

	GetState() State
	GetPlayingTime() time.Duration

	Close() error
}

// BackendListener receives backend callbacks. Callbacks may arrive on any
// goroutine.
type BackendListener interface {
	OnPrepared()
	OnPlaybackComplete()
	OnError(err error)
	// OnBufferStatus reports the backend's input buffer fill for one stream.
	OnBufferStatus(t media.StreamType, bytes int64)
	// OnSeekComplete is informational; seek completion is delivered through
	// the SetPlayPosition callback.
	OnSeekComplete()
}
