package player

import (
	"time"

	"github.com/jmylchreest/esplay/internal/media"
)

// ReadyState mirrors the media element readiness levels.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

func (s ReadyState) String() string {
	switch s {
	case HaveNothing:
		return "have_nothing"
	case HaveMetadata:
		return "have_metadata"
	case HaveCurrentData:
		return "have_current_data"
	case HaveFutureData:
		return "have_future_data"
	case HaveEnoughData:
		return "have_enough_data"
	default:
		return "unknown"
	}
}

// ReadyInput is everything ComputeReadyState looks at.
type ReadyInput struct {
	// HasMetadata is false until the demuxer announced its configs.
	HasMetadata bool
	Position    time.Duration
	Duration    time.Duration
	// Ranges is the demuxer's buffered range set. When RangesKnown is false
	// the range [0, min(LastPushedEnd)] is used instead.
	Ranges      media.RangeSet
	RangesKnown bool
	// LastPushedEnd holds the end of the last frame pushed for each attached
	// stream.
	LastPushedEnd []time.Duration
	FrameDuration time.Duration
	Tick          time.Duration
	Horizon       time.Duration
	AllEOS        bool
}

// ComputeReadyState derives the readiness level from the buffered data
// ahead of the playback position.
func ComputeReadyState(in ReadyInput) ReadyState {
	if !in.HasMetadata {
		return HaveNothing
	}
	if in.AllEOS {
		return HaveEnoughData
	}

	ranges := in.Ranges
	if !in.RangesKnown {
		ranges = fallbackRanges(in.LastPushedEnd)
	}

	r, ok := ranges.Find(in.Position + in.FrameDuration)
	if !ok {
		return HaveMetadata
	}

	remaining := r.End - in.Position
	if in.Duration > 0 && in.Duration-r.End <= in.FrameDuration {
		return HaveEnoughData
	}
	if remaining > in.Horizon {
		return HaveEnoughData
	}
	if remaining > in.Tick+in.FrameDuration {
		return HaveFutureData
	}
	return HaveCurrentData
}

func fallbackRanges(ends []time.Duration) media.RangeSet {
	if len(ends) == 0 {
		return media.RangeSet{}
	}
	end := ends[0]
	for _, e := range ends[1:] {
		if e < end {
			end = e
		}
	}
	return media.NewRangeSet(media.TimeRange{Start: 0, End: end})
}
