package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/esplay/internal/session"
)

var playCmd = &cobra.Command{
	Use:   "play <file.ts>",
	Short: "Play a transport stream file to the end",
	Long: `Open a single playback session for a transport stream file, play it
to the end and print every player event as it happens.

Press Ctrl-C to stop early.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

var playOpts struct {
	seek    time.Duration
	rate    float64
	volume  float64
	json    bool
	timeout time.Duration
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().String("backend", "player", "Backend (player, es)")
	playCmd.Flags().DurationVar(&playOpts.seek, "seek", 0, "Seek to this position once the media is configured")
	playCmd.Flags().Float64Var(&playOpts.rate, "rate", 1, "Playback rate")
	playCmd.Flags().Float64Var(&playOpts.volume, "volume", 1, "Volume in [0, 1]")
	playCmd.Flags().BoolVar(&playOpts.json, "json", false, "Print events as JSON lines")
	playCmd.Flags().DurationVar(&playOpts.timeout, "timeout", 0, "Give up after this long (0 waits forever)")
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, map[string]string{"backend.kind": "backend"})
	if err != nil {
		return err
	}

	mc := session.ManagerConfigFrom(cfg)
	mc.MaxSessions = 1
	mc.IdleTimeout = 0
	manager := session.NewManager(mc, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if playOpts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, playOpts.timeout)
		defer cancel()
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := manager.CloseAll(closeCtx); err != nil {
			logger.Warn("closing session", slog.String("error", err.Error()))
		}
	}()

	s, err := manager.Open(ctx, session.OpenRequest{Path: args[0], Autoplay: playOpts.seek == 0})
	if err != nil {
		return fmt.Errorf("opening %s: %w", args[0], err)
	}
	if err := applyPlayOptions(ctx, cmd, s); err != nil {
		return err
	}

	started := time.Now()
	if err := printEvents(ctx, cmd.OutOrStdout(), s); err != nil {
		return err
	}

	infoCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := s.Info(infoCtx)
	if err != nil {
		logger.Debug("reading final status", slog.String("error", err.Error()))
		return nil
	}
	var frames uint64
	for _, n := range info.Demuxer.Delivered {
		frames += n
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "played %s to %s in %s (%s frames)\n",
		info.Path, info.Status.Position.Round(time.Millisecond),
		time.Since(started).Round(time.Millisecond), humanize.Comma(int64(frames)))
	return nil
}

// applyPlayOptions applies the flags that differ from the defaults. A seek
// has to wait until the media is configured, after which playback starts.
func applyPlayOptions(ctx context.Context, cmd *cobra.Command, s *session.Session) error {
	if cmd.Flags().Changed("volume") {
		if err := s.SetVolume(ctx, playOpts.volume); err != nil {
			return fmt.Errorf("setting volume: %w", err)
		}
	}
	if cmd.Flags().Changed("rate") {
		if err := s.SetRate(ctx, playOpts.rate); err != nil {
			return fmt.Errorf("setting rate: %w", err)
		}
	}
	if playOpts.seek <= 0 {
		return nil
	}

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		err := s.Seek(ctx, playOpts.seek)
		if err == nil {
			break
		}
		// Seeks are rejected until the first stream configuration arrives.
		select {
		case <-ctx.Done():
			return fmt.Errorf("seeking to %s: %w", playOpts.seek, err)
		case <-s.Ended():
			return nil
		case <-tick.C:
		}
	}
	return s.Play(ctx)
}

// printEvents writes events until playback ends, the session closes or ctx
// is cancelled.
func printEvents(ctx context.Context, w io.Writer, s *session.Session) error {
	var last uint64
	enc := json.NewEncoder(w)
	flush := func() error {
		for _, ev := range s.Events().Since(last) {
			last = ev.Seq
			if playOpts.json {
				if err := enc.Encode(ev); err != nil {
					return err
				}
				continue
			}
			line := fmt.Sprintf("%s %-22s", ev.Time.Format("15:04:05.000"), ev.Kind)
			if ev.Detail != "" {
				line += " " + ev.Detail
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		changed := s.Events().Changed()
		if err := flush(); err != nil {
			return err
		}
		select {
		case <-changed:
		case <-s.Ended():
			return flush()
		case <-s.Done():
			return flush()
		case <-ctx.Done():
			if err := flush(); err != nil {
				return err
			}
			if ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("playback did not finish: %w", ctx.Err())
			}
			return nil
		}
	}
}
