// Package backend provides the player backend adapters driven by the
// pipeline controller. Both adapters share a simulated decoder engine and
// differ in how they initialize and which features they expose.
package backend

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/esplay/internal/media"
	"github.com/jmylchreest/esplay/internal/player"
)

// Backend kinds.
const (
	KindPlayer     = "player"
	KindElementary = "es"
)

// Config tunes the simulated engine.
type Config struct {
	// BufferBytes is the input buffer capacity per stream type.
	BufferBytes [media.NumStreamTypes]int64
	// TransitionLatency delays every state change.
	TransitionLatency time.Duration
	// SeekLatency delays seek completion.
	SeekLatency time.Duration
	// InitLatency delays the asynchronous init of the elementary backend.
	InitLatency time.Duration
	// ClockInterval is the media clock resolution.
	ClockInterval time.Duration
	// FailInit makes the elementary backend's init callback report failure.
	FailInit bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferBytes: [media.NumStreamTypes]int64{
			media.StreamAudio: 512 * 1024,
			media.StreamVideo: 4 * 1024 * 1024,
		},
		TransitionLatency: 10 * time.Millisecond,
		SeekLatency:       20 * time.Millisecond,
		InitLatency:       20 * time.Millisecond,
		ClockInterval:     10 * time.Millisecond,
	}
}

// Kinds lists the available backend kinds.
func Kinds() []string {
	return []string{KindPlayer, KindElementary}
}

// New creates a backend of the given kind.
func New(kind string, cfg Config, logger *slog.Logger) (player.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockInterval <= 0 {
		return nil, fmt.Errorf("clock interval must be positive")
	}
	switch kind {
	case KindPlayer, "":
		return NewPlayer(cfg, logger), nil
	case KindElementary:
		return NewElementary(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want one of %v)", kind, Kinds())
	}
}
