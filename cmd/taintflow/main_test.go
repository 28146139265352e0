package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kolkov/taintflow/internal/taint/config"
)

// setup resets the globals PersistentPreRunE would fill in.
func setup(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	logger = zap.NewNop()
	cfg = config.Default()
	cfg.Logging.Level = "error"
	configPath = filepath.Join(t.TempDir(), "taintflow.yaml")
	configForce = false
	linkVersion, linkLocal, linkDryRun = "", "", false
	demoWorkers = 4

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestConfigShow(t *testing.T) {
	cmd, buf := setup(t)
	require.NoError(t, runConfigShow(cmd, nil))
	assert.Contains(t, buf.String(), "enabled: true")
	assert.Contains(t, buf.String(), "level: error")
}

func TestConfigInit(t *testing.T) {
	cmd, buf := setup(t)
	require.NoError(t, runConfigInit(cmd, nil))
	assert.Contains(t, buf.String(), configPath)

	loaded, err := config.Load(configPath)
	require.NoError(t, err)
	assert.True(t, loaded.Enabled)

	err = runConfigInit(cmd, nil)
	require.Error(t, err, "existing file needs --force")
	assert.Contains(t, err.Error(), "--force")

	configForce = true
	assert.NoError(t, runConfigInit(cmd, nil))
}

func TestLinkDryRun(t *testing.T) {
	cmd, buf := setup(t)
	dir := t.TempDir()
	gomod := filepath.Join(dir, "go.mod")
	original := "module example.com/app\n\ngo 1.25\n"
	require.NoError(t, os.WriteFile(gomod, []byte(original), 0o644))

	linkDryRun = true
	linkVersion = "v0.1.0"
	require.NoError(t, runLink(cmd, []string{dir}))
	assert.Contains(t, buf.String(), "require github.com/kolkov/taintflow v0.1.0")

	data, err := os.ReadFile(gomod)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestLinkWrites(t *testing.T) {
	cmd, buf := setup(t)
	dir := t.TempDir()
	gomod := filepath.Join(dir, "go.mod")
	require.NoError(t, os.WriteFile(gomod, []byte("module example.com/app\n\ngo 1.25\n"), 0o644))

	require.NoError(t, runLink(cmd, []string{dir}))
	assert.Contains(t, buf.String(), "Linked github.com/kolkov/taintflow into example.com/app")
	assert.Contains(t, buf.String(), "defer taint.Fini()")

	buf.Reset()
	require.NoError(t, runLink(cmd, []string{dir}))
	assert.Contains(t, buf.String(), "already requires")
}

func TestDemo(t *testing.T) {
	cmd, buf := setup(t)
	require.NoError(t, runDemo(cmd, nil))

	out := buf.String()
	assert.Contains(t, out, `concat("42", " suffix") = "42 suffix"  origins {n1}`)
	assert.Contains(t, out, `reply.Text = "hello"  origins {tool-b}`)
	assert.Contains(t, out, `reply.Model = "m-1"  origins {llm-a}`)
	assert.Contains(t, out, "[y x]")
	for i := range demoWorkers {
		assert.Contains(t, out, "answer(q"+string(rune('0'+i))+")")
	}
	assert.Contains(t, out, "Provenance Report")
}

func TestDemoWorkers(t *testing.T) {
	cmd, _ := setup(t)
	demoWorkers = 0
	assert.Error(t, runDemo(cmd, nil))
}

func TestRootCommand(t *testing.T) {
	_, _ = setup(t)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"--config", configPath, "version"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(buf.String(), "taintflow version "))
	require.NotNil(t, cfg)
	require.NotNil(t, logger)
}
