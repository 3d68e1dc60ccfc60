package codec

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ErrNoParameterSets is returned when an access unit carries no SPS.
var ErrNoParameterSets = errors.New("no parameter sets in access unit")

// VideoParams is what the pipeline learns from a video access unit's
// parameter sets.
type VideoParams struct {
	Width  int
	Height int
	// ParameterSets holds the raw VPS/SPS/PPS NAL units in Annex B order.
	ParameterSets [][]byte
}

// ExtractVideoParams scans an access unit for parameter sets and decodes the
// SPS. Codecs without parameter sets return ErrNoParameterSets.
func ExtractVideoParams(v Video, au [][]byte) (VideoParams, error) {
	switch v {
	case VideoH264:
		return extractH264(au)
	case VideoH265:
		return extractH265(au)
	default:
		return VideoParams{}, ErrNoParameterSets
	}
}

func extractH264(au [][]byte) (VideoParams, error) {
	var params VideoParams
	var spsNALU []byte
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			spsNALU = nalu
			params.ParameterSets = append(params.ParameterSets, nalu)
		case h264.NALUTypePPS:
			params.ParameterSets = append(params.ParameterSets, nalu)
		}
	}
	if spsNALU == nil {
		return VideoParams{}, ErrNoParameterSets
	}

	var sps h264.SPS
	if err := sps.Unmarshal(spsNALU); err != nil {
		return VideoParams{}, fmt.Errorf("parsing h264 sps: %w", err)
	}
	params.Width = sps.Width()
	params.Height = sps.Height()
	return params, nil
}

func extractH265(au [][]byte) (VideoParams, error) {
	var params VideoParams
	var spsNALU []byte
	for _, nalu := range au {
		if len(nalu) < 2 {
			continue
		}
		switch h265.NALUType((nalu[0] >> 1) & 0b111111) {
		case h265.NALUType_SPS_NUT:
			spsNALU = nalu
			params.ParameterSets = append(params.ParameterSets, nalu)
		case h265.NALUType_VPS_NUT, h265.NALUType_PPS_NUT:
			params.ParameterSets = append(params.ParameterSets, nalu)
		}
	}
	if spsNALU == nil {
		return VideoParams{}, ErrNoParameterSets
	}

	var sps h265.SPS
	if err := sps.Unmarshal(spsNALU); err != nil {
		return VideoParams{}, fmt.Errorf("parsing h265 sps: %w", err)
	}
	params.Width = sps.Width()
	params.Height = sps.Height()
	return params, nil
}

// IsRandomAccess reports whether a video access unit is a key frame.
func IsRandomAccess(v Video, au [][]byte) bool {
	switch v {
	case VideoH264:
		return h264.IsRandomAccess(au)
	case VideoH265:
		return h265.IsRandomAccess(au)
	default:
		return true
	}
}

// AudioParams describes a decoded AudioSpecificConfig.
type AudioParams struct {
	SampleRate   int
	ChannelCount int
}

// ParseAACConfig decodes an MPEG-4 AudioSpecificConfig.
func ParseAACConfig(asc []byte) (AudioParams, error) {
	var conf mpeg4audio.AudioSpecificConfig
	if err := conf.Unmarshal(asc); err != nil {
		return AudioParams{}, fmt.Errorf("parsing audio specific config: %w", err)
	}
	return AudioParams{SampleRate: conf.SampleRate, ChannelCount: conf.ChannelCount}, nil
}
