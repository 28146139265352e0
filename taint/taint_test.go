package taint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestInitFini verifies the process-wide engine lifecycle.
func TestInitFini(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TAINTFLOW_ENABLED", "")
	t.Setenv("TAINTFLOW_REPORT", "")

	reportPath := filepath.Join(dir, "report.txt")
	cfg := DefaultConfig()
	cfg.Report.OnClose = true
	cfg.Report.Output = reportPath
	require.NoError(t, cfg.Save("taintflow.yaml"))

	assert.Nil(t, Default())
	assert.False(t, GetInfo().Enabled)

	e, err := Init(WithLogger(zap.NewNop()))
	require.NoError(t, err)
	again, err := Init()
	require.NoError(t, err)
	assert.Same(t, e, again, "Init is idempotent")
	assert.Same(t, e, Default())
	assert.True(t, GetInfo().Enabled)

	v := e.Record("x", Of("A"))
	require.NoError(t, Fini())
	require.NoError(t, Fini())
	assert.Nil(t, Default())

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Provenance Report")
	assert.NotNil(t, v)
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("TAINTFLOW_ENABLED", "false")
	e, err := New(WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer e.Close()
	assert.False(t, e.Enabled())

	t.Setenv("TAINTFLOW_ENABLED", "sometimes")
	_, err = New(WithLogger(zap.NewNop()))
	assert.Error(t, err)
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.Build)
	assert.True(t, strings.HasPrefix(info.Go, "go") || strings.HasPrefix(info.Go, "devel"), "got %q", info.Go)
}

func TestNewOrigin(t *testing.T) {
	a, b := NewOrigin(), NewOrigin()
	assert.NotEqual(t, a, b)
	assert.True(t, Of(a, b).Contains(a))
}
