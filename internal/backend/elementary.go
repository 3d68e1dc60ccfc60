package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/esplay/internal/media"
	"github.com/jmylchreest/esplay/internal/observability"
	"github.com/jmylchreest/esplay/internal/player"
)

// Elementary is the elementary-stream backend. Its session init completes
// asynchronously, so Initialize waits on a condition variable until the init
// callback fires. Playback rate control is not available.
type Elementary struct {
	e      *engine
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	initDone bool
	initCode code
}

// NewElementary creates an elementary-stream backend.
func NewElementary(cfg Config, logger *slog.Logger) *Elementary {
	logger = observability.WithComponent(logger, "backend."+KindElementary)
	b := &Elementary{
		e:      newEngine(cfg, logger),
		cfg:    cfg,
		logger: logger,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Elementary) Name() string { return KindElementary }

// Initialize starts the asynchronous session init and blocks until its
// callback fires or ctx is done.
func (b *Elementary) Initialize(ctx context.Context, l player.BackendListener) error {
	go b.asyncInit()

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	start := time.Now()
	b.mu.Lock()
	for !b.initDone && ctx.Err() == nil {
		b.cond.Wait()
	}
	done, result := b.initDone, b.initCode
	b.mu.Unlock()

	if !done {
		return fmt.Errorf("waiting for backend init: %w", ctx.Err())
	}
	b.logger.Debug("elementary backend initialized",
		slog.Duration("waited", time.Since(start)),
		slog.String("result", result.String()))
	if result != codeOK {
		return translate("initialize", result)
	}
	return translate("initialize", b.e.open(l))
}

func (b *Elementary) asyncInit() {
	if b.cfg.InitLatency > 0 {
		time.Sleep(b.cfg.InitLatency)
	}
	b.mu.Lock()
	b.initDone = true
	b.initCode = codeOK
	if b.cfg.FailInit {
		b.initCode = codeInitFailed
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *Elementary) Prepare() error   { return translate("prepare", b.e.prepare()) }
func (b *Elementary) Unprepare() error { return translate("unprepare", b.e.unprepare()) }
func (b *Elementary) Play() error      { return translate("play", b.e.play()) }
func (b *Elementary) Pause() error     { return translate("pause", b.e.pause()) }
func (b *Elementary) Stop() error      { return translate("stop", b.e.stop()) }

func (b *Elementary) SetPlayPosition(t time.Duration, _ bool, done func(error)) error {
	return translate("seek", b.e.seek(t, func(c code) { done(translate("seek", c)) }))
}

func (b *Elementary) SetMediaStreamInfo(t media.StreamType, cfg media.StreamConfig) error {
	return translate("set_stream_info", b.e.setStreamInfo(t, cfg))
}

func (b *Elementary) PushPacket(frame *media.EncodedFrame) error {
	return translate("push_packet", b.e.push(frame))
}

func (b *Elementary) SetVolume(level float64) error {
	return translate("set_volume", b.e.setVolume(level))
}

// SetPlaybackRate is not supported by elementary-stream sessions.
func (b *Elementary) SetPlaybackRate(float64) error {
	return translate("set_rate", codeNotSupported)
}

func (b *Elementary) GetState() player.State        { return b.e.getState() }
func (b *Elementary) GetPlayingTime() time.Duration { return b.e.playingTime() }

func (b *Elementary) Close() error {
	b.e.close()
	return nil
}

// IsInitFailure reports whether err came from a failed session init.
func IsInitFailure(err error) bool {
	var pe *player.Error
	return errors.As(err, &pe) && pe.Code == int(codeInitFailed)
}
