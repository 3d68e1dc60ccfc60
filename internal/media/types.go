// Package media defines the data model shared by the demuxer, the pipeline
// controller and the player backends: stream types, encoded frames, format
// descriptors and buffered time ranges.
package media

import (
	"fmt"
	"time"
)

// StreamType identifies an elementary stream within a pipeline.
// The set is closed: per-type state is stored in [NumStreamTypes]T arrays
// indexed by the ordinal value.
type StreamType int

const (
	// StreamAudio is the audio elementary stream.
	StreamAudio StreamType = iota
	// StreamVideo is the video elementary stream.
	StreamVideo

	// NumStreamTypes is the number of stream types.
	NumStreamTypes
)

// StreamTypes lists every stream type in ordinal order.
var StreamTypes = [NumStreamTypes]StreamType{StreamAudio, StreamVideo}

func (t StreamType) String() string {
	switch t {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	default:
		return fmt.Sprintf("stream(%d)", int(t))
	}
}

// Valid reports whether t is a known stream type.
func (t StreamType) Valid() bool {
	return t >= 0 && t < NumStreamTypes
}

// ParseStreamType converts a stream type name to a StreamType.
func ParseStreamType(s string) (StreamType, error) {
	switch s {
	case "audio":
		return StreamAudio, nil
	case "video":
		return StreamVideo, nil
	default:
		return 0, fmt.Errorf("unknown stream type %q", s)
	}
}

// StreamConfig describes the format of one elementary stream. It may be
// replaced mid-stream when the demuxer reports a configuration change.
type StreamConfig struct {
	Type  StreamType
	Codec string

	// Video
	Width  int
	Height int

	// Audio
	SampleRate   int
	ChannelCount int

	// CodecData holds codec private data (SPS/PPS, AudioSpecificConfig).
	CodecData []byte

	Encrypted bool
}

// DemuxerConfigs is the set of stream configurations announced by a demuxer.
type DemuxerConfigs struct {
	Audio    *StreamConfig
	Video    *StreamConfig
	Duration time.Duration
}

// Config returns the configuration for the given stream type, or nil.
func (c DemuxerConfigs) Config(t StreamType) *StreamConfig {
	switch t {
	case StreamAudio:
		return c.Audio
	case StreamVideo:
		return c.Video
	default:
		return nil
	}
}

// Encryption is the opaque encryption descriptor attached to a frame.
type Encryption struct {
	// Handle references key material held by the DRM layer.
	Handle string `masq:"secret"`
	Size   int
}

// FrameMetadata accompanies a buffer delivered by a demuxer.
type FrameMetadata struct {
	Type        StreamType
	Size        int
	Timestamp   time.Duration
	Duration    time.Duration
	KeyFrame    bool
	EndOfStream bool
	Encryption  *Encryption
}
