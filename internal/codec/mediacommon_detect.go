// Package codec provides runtime detection of mediacommon codec support.
// The demuxer only attaches tracks whose codec mediacommon can carry, so the
// registry's Demuxable flags follow what the linked library exports.
package codec

import (
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

var mediacommonSupportedCodecs = struct {
	H264  bool
	H265  bool
	MPEG1 bool
	MPEG4 bool
	AAC   bool
	AC3   bool
	MP3   bool
	Opus  bool
}{}

func init() {
	mediacommonSupportedCodecs.H264 = !isUnsupportedCodec(&mpegts.CodecH264{})
	mediacommonSupportedCodecs.H265 = !isUnsupportedCodec(&mpegts.CodecH265{})
	mediacommonSupportedCodecs.MPEG1 = !isUnsupportedCodec(&mpegts.CodecMPEG1Video{})
	mediacommonSupportedCodecs.MPEG4 = !isUnsupportedCodec(&mpegts.CodecMPEG4Video{})
	mediacommonSupportedCodecs.AAC = !isUnsupportedCodec(&mpegts.CodecMPEG4Audio{})
	mediacommonSupportedCodecs.AC3 = !isUnsupportedCodec(&mpegts.CodecAC3{})
	mediacommonSupportedCodecs.MP3 = !isUnsupportedCodec(&mpegts.CodecMPEG1Audio{})
	mediacommonSupportedCodecs.Opus = !isUnsupportedCodec(&mpegts.CodecOpus{})

	updateRegistryWithDetectedSupport()
}

// isUnsupportedCodec checks if a codec is the CodecUnsupported sentinel type
func isUnsupportedCodec(c mpegts.Codec) bool {
	_, isUnsupported := c.(*mpegts.CodecUnsupported)
	return isUnsupported
}

func updateRegistryWithDetectedSupport() {
	videoRegistry[VideoH264].Demuxable = mediacommonSupportedCodecs.H264
	videoRegistry[VideoH265].Demuxable = mediacommonSupportedCodecs.H265
	videoRegistry[VideoMPEG1].Demuxable = mediacommonSupportedCodecs.MPEG1
	videoRegistry[VideoMPEG4].Demuxable = mediacommonSupportedCodecs.MPEG4

	audioRegistry[AudioAAC].Demuxable = mediacommonSupportedCodecs.AAC
	audioRegistry[AudioAC3].Demuxable = mediacommonSupportedCodecs.AC3
	audioRegistry[AudioMP3].Demuxable = mediacommonSupportedCodecs.MP3
	audioRegistry[AudioOpus].Demuxable = mediacommonSupportedCodecs.Opus
}

// FromTrack maps a mediacommon track codec to a registry name. The second
// return value is true for video codecs. Unknown codecs yield "".
func FromTrack(c mpegts.Codec) (name string, video bool) {
	switch c.(type) {
	case *mpegts.CodecH264:
		return string(VideoH264), true
	case *mpegts.CodecH265:
		return string(VideoH265), true
	case *mpegts.CodecMPEG1Video:
		return string(VideoMPEG1), true
	case *mpegts.CodecMPEG4Video:
		return string(VideoMPEG4), true
	case *mpegts.CodecMPEG4Audio:
		return string(AudioAAC), false
	case *mpegts.CodecAC3:
		return string(AudioAC3), false
	case *mpegts.CodecMPEG1Audio:
		return string(AudioMP3), false
	case *mpegts.CodecOpus:
		return string(AudioOpus), false
	default:
		return "", false
	}
}
