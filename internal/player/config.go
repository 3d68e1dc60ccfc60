package player

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/esplay/internal/media"
)

// Config tunes the pipeline controller.
type Config struct {
	// ChannelMaxBytes is the queue budget per stream type.
	ChannelMaxBytes [media.NumStreamTypes]int64
	// BackendBufferBytes is the backend input buffer capacity per stream
	// type, used to turn fill reports into buffer status tiers.
	BackendBufferBytes [media.NumStreamTypes]int64

	// Watermarks in percent of BackendBufferBytes.
	MinThresholdPercent int
	MaxThresholdPercent int
	OverflowPercent     int

	// StatePollInterval is how often an in-flight transition is checked.
	StatePollInterval time.Duration
	// TransitionTimeout bounds how long a transition may stay unconfirmed.
	TransitionTimeout time.Duration

	// TimeUpdateInterval is the periodic tick driving time updates and
	// ready-state recomputation. It is also the scheduling tick used by the
	// ready-state future-data threshold.
	TimeUpdateInterval time.Duration
	// BufferingHorizon is the lookahead that counts as enough data.
	BufferingHorizon time.Duration
	// DefaultFrameDuration is used for lookahead until a frame duration is known.
	DefaultFrameDuration time.Duration

	// AccurateSeek asks the backend for frame-accurate seeks.
	AccurateSeek bool
	// Autoplay starts playback as soon as the backend is ready.
	Autoplay bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChannelMaxBytes: [media.NumStreamTypes]int64{
			media.StreamAudio: 2 * 1024 * 1024,
			media.StreamVideo: 16 * 1024 * 1024,
		},
		BackendBufferBytes: [media.NumStreamTypes]int64{
			media.StreamAudio: 512 * 1024,
			media.StreamVideo: 4 * 1024 * 1024,
		},
		MinThresholdPercent:  30,
		MaxThresholdPercent:  80,
		OverflowPercent:      95,
		StatePollInterval:    20 * time.Millisecond,
		TransitionTimeout:    5 * time.Second,
		TimeUpdateInterval:   250 * time.Millisecond,
		BufferingHorizon:     5 * time.Second,
		DefaultFrameDuration: 33 * time.Millisecond,
		AccurateSeek:         true,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	for _, t := range media.StreamTypes {
		if c.ChannelMaxBytes[t] <= 0 {
			return fmt.Errorf("channel max bytes for %s must be positive", t)
		}
		if c.BackendBufferBytes[t] <= 0 {
			return fmt.Errorf("backend buffer bytes for %s must be positive", t)
		}
	}
	if c.MinThresholdPercent <= 0 || c.MinThresholdPercent >= c.MaxThresholdPercent ||
		c.MaxThresholdPercent >= c.OverflowPercent || c.OverflowPercent > 100 {
		return errors.New("watermarks must satisfy 0 < min < max < overflow <= 100")
	}
	if c.StatePollInterval <= 0 {
		return errors.New("state poll interval must be positive")
	}
	if c.TransitionTimeout < c.StatePollInterval {
		return errors.New("transition timeout must be at least one poll interval")
	}
	if c.TimeUpdateInterval <= 0 {
		return errors.New("time update interval must be positive")
	}
	if c.BufferingHorizon <= 0 {
		return errors.New("buffering horizon must be positive")
	}
	if c.DefaultFrameDuration <= 0 {
		return errors.New("default frame duration must be positive")
	}
	return nil
}
