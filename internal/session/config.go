package session

import (
	"github.com/jmylchreest/esplay/internal/config"
	"github.com/jmylchreest/esplay/internal/media"
)

// ManagerConfigFrom maps the file/env configuration onto a ManagerConfig.
// Zero values keep the built-in defaults.
func ManagerConfigFrom(cfg *config.Config) ManagerConfig {
	mc := DefaultManagerConfig()
	if cfg == nil {
		return mc
	}

	if cfg.Session.MaxSessions > 0 {
		mc.MaxSessions = cfg.Session.MaxSessions
	}
	mc.IdleTimeout = cfg.Session.IdleTimeout
	if cfg.Session.CleanupInterval > 0 {
		mc.CleanupInterval = cfg.Session.CleanupInterval
	}
	if cfg.Session.EventLogSize > 0 {
		mc.EventLogSize = cfg.Session.EventLogSize
	}
	if cfg.Backend.Kind != "" {
		mc.DefaultBackend = cfg.Backend.Kind
	}

	p := &mc.Player
	setSizes(&p.ChannelMaxBytes, cfg.Player.QueueBytes)
	setSizes(&p.BackendBufferBytes, cfg.Backend.BufferBytes)
	setPositive(&p.MinThresholdPercent, cfg.Player.MinThresholdPercent)
	setPositive(&p.MaxThresholdPercent, cfg.Player.MaxThresholdPercent)
	setPositive(&p.OverflowPercent, cfg.Player.OverflowPercent)
	setPositive(&p.StatePollInterval, cfg.Player.StatePollInterval)
	setPositive(&p.TransitionTimeout, cfg.Player.TransitionTimeout)
	setPositive(&p.TimeUpdateInterval, cfg.Player.TimeUpdateInterval)
	setPositive(&p.BufferingHorizon, cfg.Player.BufferingHorizon)
	setPositive(&p.DefaultFrameDuration, cfg.Player.DefaultFrameDuration)
	p.AccurateSeek = cfg.Player.AccurateSeek

	b := &mc.Backend
	setSizes(&b.BufferBytes, cfg.Backend.BufferBytes)
	setPositive(&b.TransitionLatency, cfg.Backend.TransitionLatency)
	setPositive(&b.SeekLatency, cfg.Backend.SeekLatency)
	setPositive(&b.InitLatency, cfg.Backend.InitLatency)
	setPositive(&b.ClockInterval, cfg.Backend.ClockInterval)

	return mc
}

func setSizes(dst *[media.NumStreamTypes]int64, src config.StreamSizes) {
	if src.Audio > 0 {
		dst[media.StreamAudio] = src.Audio.Bytes()
	}
	if src.Video > 0 {
		dst[media.StreamVideo] = src.Video.Bytes()
	}
}

func setPositive[T ~int | ~int64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}
