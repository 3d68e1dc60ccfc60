package media

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// TimeRange is a closed interval of playable media time.
type TimeRange struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Contains reports whether t lies within the range, end inclusive.
func (r TimeRange) Contains(t time.Duration) bool {
	return t >= r.Start && t <= r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start, r.End)
}

// RangeSet is an ordered set of disjoint time ranges.
type RangeSet struct {
	ranges []TimeRange
}

// NewRangeSet normalizes the input: empty ranges are dropped, the rest are
// sorted and overlapping or touching ranges merged.
func NewRangeSet(in ...TimeRange) RangeSet {
	rs := make([]TimeRange, 0, len(in))
	for _, r := range in {
		if r.End < r.Start {
			continue
		}
		rs = append(rs, r)
	}
	slices.SortFunc(rs, func(a, b TimeRange) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	merged := rs[:0]
	for _, r := range rs {
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return RangeSet{ranges: merged}
}

// Len returns the number of ranges.
func (s RangeSet) Len() int { return len(s.ranges) }

// Empty reports whether the set holds no ranges.
func (s RangeSet) Empty() bool { return len(s.ranges) == 0 }

// Ranges returns a copy of the ranges.
func (s RangeSet) Ranges() []TimeRange {
	return slices.Clone(s.ranges)
}

// Find returns the range containing t.
func (s RangeSet) Find(t time.Duration) (TimeRange, bool) {
	i, _ := slices.BinarySearchFunc(s.ranges, t, func(r TimeRange, t time.Duration) int {
		switch {
		case r.End < t:
			return -1
		case r.Start > t:
			return 1
		default:
			return 0
		}
	})
	if i < len(s.ranges) && s.ranges[i].Contains(t) {
		return s.ranges[i], true
	}
	return TimeRange{}, false
}

// End returns the end of the last range.
func (s RangeSet) End() time.Duration {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[len(s.ranges)-1].End
}

func (s RangeSet) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Timescale is the MPEG-TS clock rate.
const Timescale = 90000

// FromTicks converts a 90 kHz timestamp to a duration.
func FromTicks(ticks int64) time.Duration {
	return time.Duration(ticks) * time.Second / Timescale
}

// ToTicks converts a duration to a 90 kHz timestamp.
func ToTicks(d time.Duration) int64 {
	return int64(d * Timescale / time.Second)
}
