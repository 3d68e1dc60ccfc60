// Package codec provides the codec registry used by the demuxer and the
// player backends: canonical codec names, aliases, and the per-codec facts
// the pipeline needs to schedule frames (audio frame sizes, demuxability).
package codec

import "strings"

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264  Video = "h264" // H.264/AVC
	VideoH265  Video = "h265" // H.265/HEVC
	VideoMPEG1 Video = "mpeg1"
	VideoMPEG4 Video = "mpeg4"
	VideoVP9   Video = "vp9"
	VideoAV1   Video = "av1"
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC  Audio = "aac"  // AAC
	AudioMP3  Audio = "mp3"  // MPEG-1 Layer III
	AudioAC3  Audio = "ac3"  // Dolby Digital (AC-3)
	AudioEAC3 Audio = "eac3" // Dolby Digital Plus (E-AC-3)
	AudioOpus Audio = "opus" // Opus
	AudioPCM  Audio = "pcm"
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// String returns the string representation of the audio codec.
func (a Audio) String() string {
	return string(a)
}

// videoInfo contains metadata about a video codec.
type videoInfo struct {
	Name    Video
	Aliases []string
	// Whether this codec can be demuxed by the mediacommon MPEG-TS reader
	Demuxable bool
	// Whether the backend needs parameter sets before the first key frame
	NeedsParameterSets bool
}

// audioInfo contains metadata about an audio codec.
type audioInfo struct {
	Name      Audio
	Aliases   []string
	Demuxable bool
	// Samples carried by one access unit (0 = variable)
	SamplesPerFrame int
}

var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name:               VideoH264,
		Aliases:            []string{"h264", "avc", "avc1", "h.264"},
		Demuxable:          true,
		NeedsParameterSets: true,
	},
	VideoH265: {
		Name:               VideoH265,
		Aliases:            []string{"h265", "hevc", "hev1", "hvc1", "h.265"},
		Demuxable:          true,
		NeedsParameterSets: true,
	},
	VideoMPEG1: {
		Name:      VideoMPEG1,
		Aliases:   []string{"mpeg1", "mpeg1video", "mpeg2", "mpeg2video"},
		Demuxable: true,
	},
	VideoMPEG4: {
		Name:      VideoMPEG4,
		Aliases:   []string{"mpeg4", "mp4v"},
		Demuxable: true,
	},
	VideoVP9: {
		Name:    VideoVP9,
		Aliases: []string{"vp9", "vp09"},
	},
	VideoAV1: {
		Name:    VideoAV1,
		Aliases: []string{"av1", "av01"},
	},
}

var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Name:            AudioAAC,
		Aliases:         []string{"aac", "mp4a", "mpeg4audio"},
		Demuxable:       true,
		SamplesPerFrame: 1024,
	},
	AudioMP3: {
		Name:            AudioMP3,
		Aliases:         []string{"mp3", "mpeg1audio", "mp2"},
		Demuxable:       true,
		SamplesPerFrame: 1152,
	},
	AudioAC3: {
		Name:            AudioAC3,
		Aliases:         []string{"ac3", "ac-3", "a52"},
		Demuxable:       true,
		SamplesPerFrame: 1536,
	},
	AudioEAC3: {
		Name:            AudioEAC3,
		Aliases:         []string{"eac3", "ec-3"},
		SamplesPerFrame: 1536,
	},
	AudioOpus: {
		Name:            AudioOpus,
		Aliases:         []string{"opus"},
		Demuxable:       true,
		SamplesPerFrame: 960,
	},
	AudioPCM: {
		Name:    AudioPCM,
		Aliases: []string{"pcm", "lpcm", "pcm_s16le"},
	},
}

var (
	videoAliasIndex map[string]Video
	audioAliasIndex map[string]Audio
)

func init() {
	videoAliasIndex = make(map[string]Video)
	for codec, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = codec
		}
	}

	audioAliasIndex = make(map[string]Audio)
	for codec, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = codec
		}
	}
}

// ParseVideo parses a codec name or alias to a Video codec.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	v, ok := videoAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// ParseAudio parses a codec name or alias to an Audio codec.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	a, ok := audioAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return a, ok
}

// Normalize returns the canonical name for any known codec, or the lower-cased
// input when the codec is unknown.
func Normalize(name string) string {
	if v, ok := ParseVideo(name); ok {
		return string(v)
	}
	if a, ok := ParseAudio(name); ok {
		return string(a)
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// IsDemuxable returns whether the MPEG-TS reader can carry this codec.
func (v Video) IsDemuxable() bool {
	if info, ok := videoRegistry[v]; ok {
		return info.Demuxable
	}
	return false
}

// IsDemuxable returns whether the MPEG-TS reader can carry this codec.
func (a Audio) IsDemuxable() bool {
	if info, ok := audioRegistry[a]; ok {
		return info.Demuxable
	}
	return false
}

// NeedsParameterSets reports whether decoding requires SPS/PPS-style
// parameter sets ahead of the first key frame.
func (v Video) NeedsParameterSets() bool {
	if info, ok := videoRegistry[v]; ok {
		return info.NeedsParameterSets
	}
	return false
}

// SamplesPerFrame returns the number of PCM samples one access unit decodes
// to, or 0 when it is variable or unknown.
func (a Audio) SamplesPerFrame() int {
	if info, ok := audioRegistry[a]; ok {
		return info.SamplesPerFrame
	}
	return 0
}

// IsVideo reports whether name is a known video codec.
func IsVideo(name string) bool {
	_, ok := ParseVideo(name)
	return ok
}

// IsAudio reports whether name is a known audio codec.
func IsAudio(name string) bool {
	_, ok := ParseAudio(name)
	return ok
}
