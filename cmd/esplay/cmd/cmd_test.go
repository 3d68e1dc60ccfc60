package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	out := run(t, "version")
	assert.Contains(t, out, "esplay version")
}

func TestConfigDump(t *testing.T) {
	out := run(t, "config", "dump")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	for _, section := range []string{"server", "logging", "player", "backend", "session"} {
		assert.Contains(t, doc, section)
	}
	assert.Contains(t, out, "queue_bytes")
	assert.Contains(t, out, "MiB")
}

func TestGenerateAndPlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ts")

	out := run(t, "generate", path, "--duration", "400ms")
	assert.Contains(t, out, "video frames")
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, st.Size())

	t.Setenv("ESPLAY_BACKEND_TRANSITION_LATENCY", "1ms")
	t.Setenv("ESPLAY_BACKEND_CLOCK_INTERVAL", "5ms")
	out = run(t, "play", path, "--timeout", "10s", "--log-level", "error")
	assert.Contains(t, out, "player_state_change")
	assert.Contains(t, out, "ended")
}
