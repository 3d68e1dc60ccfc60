package demux

import (
	"fmt"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/esplay/internal/codec"
	"github.com/jmylchreest/esplay/internal/media"
)

// sample is one access unit as it leaves the mediacommon reader, still in
// 90 kHz ticks and not yet normalized.
type sample struct {
	streamType media.StreamType
	pts        int64
	// duration is known up front for audio only. Video durations come from
	// the PTS delta to the next access unit.
	duration int64
	data     []byte
	keyFrame bool
}

// trackSet binds the reader's tracks to per-codec handlers that turn access
// units into samples. At most one video and one audio track are attached.
type trackSet struct {
	logger *slog.Logger
	emit   func(sample)

	video      *mpegts.Track
	audio      *mpegts.Track
	videoCodec codec.Video
	audioCodec codec.Audio

	audioSampleRate    int
	audioChannels      int
	audioConfig        []byte
	audioFrameDuration int64
}

func newTrackSet(logger *slog.Logger, emit func(sample)) *trackSet {
	return &trackSet{logger: logger, emit: emit}
}

// attach registers callbacks for every supported track the reader found.
func (ts *trackSet) attach(r *mpegts.Reader) {
	for _, track := range r.Tracks() {
		ts.setupTrackCallback(r, track)
	}
}

func (ts *trackSet) setupTrackCallback(r *mpegts.Reader, track *mpegts.Track) {
	switch c := track.Codec.(type) {
	case *mpegts.CodecH264:
		if ts.video != nil {
			return
		}
		ts.video, ts.videoCodec = track, codec.VideoH264
		r.OnDataH264(track, func(pts, _ int64, au [][]byte) error {
			return ts.handleVideo(pts, au)
		})
		ts.logger.Debug("found H.264 video track", slog.Uint64("pid", uint64(track.PID)))

	case *mpegts.CodecH265:
		if ts.video != nil {
			return
		}
		ts.video, ts.videoCodec = track, codec.VideoH265
		r.OnDataH265(track, func(pts, _ int64, au [][]byte) error {
			return ts.handleVideo(pts, au)
		})
		ts.logger.Debug("found H.265 video track", slog.Uint64("pid", uint64(track.PID)))

	case *mpegts.CodecMPEG4Audio:
		if ts.audio != nil {
			return
		}
		ts.setAudio(track, codec.AudioAAC, c.Config.SampleRate, c.Config.ChannelCount)
		if asc, err := c.Config.Marshal(); err == nil {
			ts.audioConfig = asc
		}
		r.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			return ts.handleAudioUnits(pts, aus)
		})

	case *mpegts.CodecAC3:
		if ts.audio != nil {
			return
		}
		ts.setAudio(track, codec.AudioAC3, c.SampleRate, c.ChannelCount)
		r.OnDataAC3(track, func(pts int64, frame []byte) error {
			return ts.handleAudioUnits(pts, [][]byte{frame})
		})

	case *mpegts.CodecMPEG1Audio:
		if ts.audio != nil {
			return
		}
		ts.setAudio(track, codec.AudioMP3, 0, 2)
		r.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			return ts.handleAudioUnits(pts, frames)
		})

	case *mpegts.CodecOpus:
		if ts.audio != nil {
			return
		}
		ts.setAudio(track, codec.AudioOpus, 48000, c.ChannelCount)
		r.OnDataOpus(track, func(pts int64, packets [][]byte) error {
			return ts.handleAudioUnits(pts, packets)
		})

	default:
		ts.logger.Debug("skipping unsupported track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("type", fmt.Sprintf("%T", track.Codec)))
	}
}

func (ts *trackSet) setAudio(track *mpegts.Track, a codec.Audio, sampleRate, channels int) {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	samples := a.SamplesPerFrame()
	if samples <= 0 {
		samples = 1024
	}
	ts.audio = track
	ts.audioCodec = a
	ts.audioSampleRate = sampleRate
	ts.audioChannels = channels
	ts.audioFrameDuration = int64(samples) * media.Timescale / int64(sampleRate)

	ts.logger.Debug("found audio track",
		slog.Uint64("pid", uint64(track.PID)),
		slog.String("codec", a.String()),
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels),
		slog.Int64("frame_duration_ticks", ts.audioFrameDuration))
}

// handleVideo emits the whole access unit as one Annex B sample.
func (ts *trackSet) handleVideo(pts int64, au [][]byte) error {
	if len(au) == 0 {
		return nil
	}
	annexB, err := h264.AnnexB(au).Marshal()
	if err != nil || len(annexB) == 0 {
		return nil
	}
	ts.emit(sample{
		streamType: media.StreamVideo,
		pts:        pts,
		data:       annexB,
		keyFrame:   codec.IsRandomAccess(ts.videoCodec, au),
	})
	return nil
}

// handleAudioUnits emits one sample per unit. Units sharing a PES get
// consecutive timestamps one frame apart.
func (ts *trackSet) handleAudioUnits(pts int64, units [][]byte) error {
	current := pts
	for _, u := range units {
		if len(u) == 0 {
			continue
		}
		ts.emit(sample{
			streamType: media.StreamAudio,
			pts:        current,
			duration:   ts.audioFrameDuration,
			data:       append([]byte(nil), u...),
			keyFrame:   true,
		})
		current += ts.audioFrameDuration
	}
	return nil
}

func (ts *trackSet) has(t media.StreamType) bool {
	switch t {
	case media.StreamVideo:
		return ts.video != nil
	case media.StreamAudio:
		return ts.audio != nil
	default:
		return false
	}
}

func (ts *trackSet) audioStreamConfig() *media.StreamConfig {
	if ts.audio == nil {
		return nil
	}
	return &media.StreamConfig{
		Type:         media.StreamAudio,
		Codec:        ts.audioCodec.String(),
		SampleRate:   ts.audioSampleRate,
		ChannelCount: ts.audioChannels,
		CodecData:    ts.audioConfig,
	}
}

func splitAnnexB(data []byte) ([][]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, err
	}
	return au, nil
}

func joinAnnexB(nalus [][]byte) []byte {
	if len(nalus) == 0 {
		return nil
	}
	out, err := h264.AnnexB(nalus).Marshal()
	if err != nil {
		return nil
	}
	return out
}
