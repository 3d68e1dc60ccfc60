package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/esplay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Without a config file or ESPLAY_ environment variables this prints the
defaults, which makes a usable template:

  esplay config dump > config.yaml

Environment variables use the ESPLAY_ prefix and underscores for nesting.
Example: player.queue_bytes.video -> ESPLAY_PLAYER_QUEUE_BYTES_VIDEO`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Durations and byte sizes marshal to their human-readable forms.
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# esplay configuration")
	fmt.Fprintln(out, "# Duration format: 250ms, 30s, 5m")
	fmt.Fprintln(out, "# Size format: 512KiB, 16MiB, 8MB")
	fmt.Fprintln(out)
	_, err = out.Write(data)
	return err
}
