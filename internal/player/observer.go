package player

import "github.com/jmylchreest/esplay/internal/media"

// BufferStatus is the fill tier of a backend input buffer.
type BufferStatus int

const (
	BufferNone BufferStatus = iota
	BufferUnderrun
	BufferMinThreshold
	BufferNormal
	BufferMaxThreshold
	BufferOverflow
	BufferEOS
)

func (s BufferStatus) String() string {
	switch s {
	case BufferNone:
		return "none"
	case BufferUnderrun:
		return "underrun"
	case BufferMinThreshold:
		return "min_threshold"
	case BufferNormal:
		return "normal"
	case BufferMaxThreshold:
		return "max_threshold"
	case BufferOverflow:
		return "overflow"
	case BufferEOS:
		return "eos"
	default:
		return "unknown"
	}
}

// BufferObserver turns raw fill reports into edge-triggered status changes.
type BufferObserver struct {
	capacity [media.NumStreamTypes]int64
	min      int64
	max      int64
	overflow int64

	last     [media.NumStreamTypes]BufferStatus
	onChange func(media.StreamType, BufferStatus)
}

// NewBufferObserver creates an observer using the watermarks from cfg.
func NewBufferObserver(cfg Config, onChange func(media.StreamType, BufferStatus)) *BufferObserver {
	return &BufferObserver{
		capacity: cfg.BackendBufferBytes,
		min:      int64(cfg.MinThresholdPercent),
		max:      int64(cfg.MaxThresholdPercent),
		overflow: int64(cfg.OverflowPercent),
		onChange: onChange,
	}
}

// Status returns the last reported tier for t.
func (o *BufferObserver) Status(t media.StreamType) BufferStatus {
	return o.last[t]
}

// Classify maps a fill level to its tier.
func (o *BufferObserver) Classify(t media.StreamType, bytes int64) BufferStatus {
	capacity := o.capacity[t]
	if capacity <= 0 {
		return BufferNormal
	}
	percent := bytes * 100 / capacity
	if bytes > 0 && percent < 1 {
		percent = 1
	}
	switch {
	case percent < 1:
		return BufferUnderrun
	case percent < o.min:
		return BufferMinThreshold
	case percent > o.overflow:
		return BufferOverflow
	case percent > o.max:
		return BufferMaxThreshold
	default:
		return BufferNormal
	}
}

// UpdateFill records a fill report and fires the callback when the tier
// changed. Reports are ignored once the stream reached EOS.
func (o *BufferObserver) UpdateFill(t media.StreamType, bytes int64) {
	if !t.Valid() || o.last[t] == BufferEOS {
		return
	}
	o.report(t, o.Classify(t, bytes))
}

// EOSReached marks the stream as finished.
func (o *BufferObserver) EOSReached(t media.StreamType) {
	if !t.Valid() || o.last[t] == BufferEOS {
		return
	}
	o.report(t, BufferEOS)
}

// ResetStatus forgets the last reported tier for every stream.
func (o *BufferObserver) ResetStatus() {
	for i := range o.last {
		o.last[i] = BufferNone
	}
}

func (o *BufferObserver) report(t media.StreamType, s BufferStatus) {
	if o.last[t] == s {
		return
	}
	o.last[t] = s
	if o.onChange != nil {
		o.onChange(t, s)
	}
}
