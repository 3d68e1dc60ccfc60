package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/esplay/internal/media"
	"github.com/jmylchreest/esplay/internal/observability"
	"github.com/jmylchreest/esplay/internal/player"
)

// Player is the full player backend: asynchronous prepare with an
// OnPrepared callback and playback rate control.
type Player struct {
	e *engine
}

// NewPlayer creates a player backend.
func NewPlayer(cfg Config, logger *slog.Logger) *Player {
	return &Player{e: newEngine(cfg, observability.WithComponent(logger, "backend."+KindPlayer))}
}

func (p *Player) Name() string { return KindPlayer }

// Initialize opens the backend. It never blocks.
func (p *Player) Initialize(_ context.Context, l player.BackendListener) error {
	return translate("initialize", p.e.open(l))
}

func (p *Player) Prepare() error   { return translate("prepare", p.e.prepare()) }
func (p *Player) Unprepare() error { return translate("unprepare", p.e.unprepare()) }
func (p *Player) Play() error      { return translate("play", p.e.play()) }
func (p *Player) Pause() error     { return translate("pause", p.e.pause()) }
func (p *Player) Stop() error      { return translate("stop", p.e.stop()) }

func (p *Player) SetPlayPosition(t time.Duration, _ bool, done func(error)) error {
	return translate("seek", p.e.seek(t, func(c code) { done(translate("seek", c)) }))
}

func (p *Player) SetMediaStreamInfo(t media.StreamType, cfg media.StreamConfig) error {
	return translate("set_stream_info", p.e.setStreamInfo(t, cfg))
}

func (p *Player) PushPacket(frame *media.EncodedFrame) error {
	return translate("push_packet", p.e.push(frame))
}

func (p *Player) SetVolume(level float64) error {
	return translate("set_volume", p.e.setVolume(level))
}

func (p *Player) SetPlaybackRate(rate float64) error {
	return translate("set_rate", p.e.setRate(rate))
}

func (p *Player) GetState() player.State        { return p.e.getState() }
func (p *Player) GetPlayingTime() time.Duration { return p.e.playingTime() }

func (p *Player) Close() error {
	p.e.close()
	return nil
}
