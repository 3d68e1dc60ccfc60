package demux

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/esplay/internal/media"
)

// GenerateOptions controls the synthetic stream written by Generate.
type GenerateOptions struct {
	Duration time.Duration
	// FrameRate is the video frame rate. Zero disables video.
	FrameRate int
	// SampleRate is the AAC sample rate. Zero disables audio.
	SampleRate int
	// GOP is the number of video frames per key frame.
	GOP int
	// StartPTS is the first timestamp in 90 kHz ticks.
	StartPTS int64
	// VideoFrameSize and AudioFrameSize are payload sizes in bytes.
	VideoFrameSize int
	AudioFrameSize int
}

// DefaultGenerateOptions returns a 2 second 25 fps H.264 + 48 kHz AAC stream.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Duration:       2 * time.Second,
		FrameRate:      25,
		SampleRate:     48000,
		GOP:            25,
		StartPTS:       media.Timescale,
		VideoFrameSize: 2048,
		AudioFrameSize: 256,
	}
}

// GeneratedStream summarizes what Generate wrote.
type GeneratedStream struct {
	VideoFrames int
	AudioFrames int
	KeyFrames   []time.Duration
	Width       int
	Height      int
}

// 1280x720 High profile.
var (
	generatorSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	generatorPPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
)

const (
	nalIDR   = 0x65
	nalSlice = 0x41
)

// Generate writes a synthetic MPEG-TS stream: H.264 access units with
// parameter sets on every key frame and raw AAC frames, interleaved in
// presentation order. Payloads are filler, not decodable pictures.
func Generate(w io.Writer, opts GenerateOptions) (GeneratedStream, error) {
	var out GeneratedStream
	if opts.Duration <= 0 {
		return out, errors.New("duration must be positive")
	}
	if opts.FrameRate <= 0 && opts.SampleRate <= 0 {
		return out, errors.New("at least one of video or audio is required")
	}
	if opts.GOP <= 0 {
		opts.GOP = max(opts.FrameRate, 1)
	}
	if opts.VideoFrameSize < 8 {
		opts.VideoFrameSize = 8
	}
	if opts.AudioFrameSize < 8 {
		opts.AudioFrameSize = 8
	}

	var (
		tracks     []*mpegts.Track
		videoTrack *mpegts.Track
		audioTrack *mpegts.Track
	)
	if opts.FrameRate > 0 {
		videoTrack = &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
		tracks = append(tracks, videoTrack)
		out.Width, out.Height = 1280, 720
	}
	if opts.SampleRate > 0 {
		audioTrack = &mpegts.Track{
			PID: 257,
			Codec: &mpegts.CodecMPEG4Audio{
				Config: mpeg4audio.AudioSpecificConfig{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   opts.SampleRate,
					ChannelCount: 2,
				},
			},
		}
		tracks = append(tracks, audioTrack)
	}

	muxer := &mpegts.Writer{W: w, Tracks: tracks}
	if err := muxer.Initialize(); err != nil {
		return out, fmt.Errorf("initializing mpegts writer: %w", err)
	}

	total := media.ToTicks(opts.Duration)
	var videoStep, audioStep int64
	if videoTrack != nil {
		videoStep = media.Timescale / int64(opts.FrameRate)
	}
	if audioTrack != nil {
		audioStep = 1024 * media.Timescale / int64(opts.SampleRate)
	}

	var videoAt, audioAt int64
	for {
		videoDue := videoTrack != nil && videoAt < total
		audioDue := audioTrack != nil && audioAt < total
		if !videoDue && !audioDue {
			break
		}

		if videoDue && (!audioDue || videoAt <= audioAt) {
			key := out.VideoFrames%opts.GOP == 0
			pts := opts.StartPTS + videoAt
			if err := muxer.WriteH264(videoTrack, pts, pts, videoAccessUnit(key, out.VideoFrames, opts.VideoFrameSize)); err != nil {
				return out, fmt.Errorf("writing video frame %d: %w", out.VideoFrames, err)
			}
			if key {
				out.KeyFrames = append(out.KeyFrames, media.FromTicks(videoAt))
			}
			out.VideoFrames++
			videoAt = int64(out.VideoFrames) * videoStep
			continue
		}

		pts := opts.StartPTS + audioAt
		if err := muxer.WriteMPEG4Audio(audioTrack, pts, [][]byte{filler(out.AudioFrames, opts.AudioFrameSize)}); err != nil {
			return out, fmt.Errorf("writing audio frame %d: %w", out.AudioFrames, err)
		}
		out.AudioFrames++
		audioAt = int64(out.AudioFrames) * audioStep
	}
	return out, nil
}

func videoAccessUnit(key bool, n, size int) [][]byte {
	if !key {
		return [][]byte{append([]byte{nalSlice}, filler(n, size-1)...)}
	}
	return [][]byte{
		generatorSPS,
		generatorPPS,
		append([]byte{nalIDR}, filler(n, size-1)...),
	}
}

// filler avoids zero runs so the payload never contains a start code.
func filler(seed, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(0x10 + (seed+i)%0xE0)
	}
	return b
}
