package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/esplay/internal/demux"
)

var generateCmd = &cobra.Command{
	Use:   "generate <out.ts>",
	Short: "Write a synthetic H.264/AAC transport stream",
	Long: `Write a synthetic MPEG-TS file with a 1280x720 H.264 video track and
an AAC audio track. The payloads are placeholders; the timing, key frames
and codec configuration are real, which is all the pipeline needs.

  esplay generate --duration 10s --gop 50 clip.ts`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

var genOpts = demux.DefaultGenerateOptions()

func init() {
	rootCmd.AddCommand(generateCmd)

	f := generateCmd.Flags()
	f.DurationVar(&genOpts.Duration, "duration", genOpts.Duration, "Stream duration")
	f.IntVar(&genOpts.FrameRate, "fps", genOpts.FrameRate, "Video frame rate (0 disables video)")
	f.IntVar(&genOpts.SampleRate, "sample-rate", genOpts.SampleRate, "AAC sample rate (0 disables audio)")
	f.IntVar(&genOpts.GOP, "gop", genOpts.GOP, "Video frames per key frame")
	f.Int64Var(&genOpts.StartPTS, "start-pts", genOpts.StartPTS, "First timestamp in 90 kHz ticks")
	f.IntVar(&genOpts.VideoFrameSize, "video-frame-size", genOpts.VideoFrameSize, "Video payload bytes per frame")
	f.IntVar(&genOpts.AudioFrameSize, "audio-frame-size", genOpts.AudioFrameSize, "Audio payload bytes per frame")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}

	out, err := demux.Generate(f, genOpts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(args[0])
		return fmt.Errorf("generating stream: %w", err)
	}

	var size uint64
	if st, err := os.Stat(args[0]); err == nil {
		size = uint64(st.Size())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %s, %d video frames (%dx%d, %d key), %d audio frames, %s\n",
		args[0], genOpts.Duration.Round(time.Millisecond),
		out.VideoFrames, out.Width, out.Height, len(out.KeyFrames), out.AudioFrames,
		humanize.IBytes(size))
	return nil
}
