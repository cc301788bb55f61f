package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/runbook/internal/config"
	"github.com/vk/runbook/internal/testutil"
)

func TestParsePositionalNotebookPath(t *testing.T) {
	var buf testutil.SafeBuffer
	cfg, params, help, err := Parse([]string{"reports/quarterly.yaml"}, &buf)
	require.NoError(t, err)
	require.False(t, help)

	assert.Equal(t, "reports/quarterly.yaml", cfg.NotebookPath)
	assert.Equal(t, config.StoreMemory, cfg.Store)
	assert.True(t, cfg.StopOnError, "stop-on-error is the default policy")
	assert.Equal(t, "quarterly", cfg.Namespace, "namespace derives from the file name")
	assert.Equal(t, 500*time.Millisecond, cfg.SettleDelay)
	assert.Equal(t, "local", cfg.Environment)
	assert.Empty(t, params)
}

func TestParseNotebookFlagVariants(t *testing.T) {
	var buf testutil.SafeBuffer

	cfg, _, _, err := Parse([]string{"-notebook", "a.yaml"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "a.yaml", cfg.NotebookPath)

	cfg, _, _, err = Parse([]string{"-n", "b.yaml"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "b.yaml", cfg.NotebookPath)
}

func TestParseNoArgsPrintsUsage(t *testing.T) {
	var buf testutil.SafeBuffer
	cfg, _, help, err := Parse(nil, &buf)
	require.NoError(t, err)
	assert.True(t, help)
	assert.Nil(t, cfg)
	assert.Contains(t, buf.String(), "Usage:")
}

func TestParseHelpFlag(t *testing.T) {
	var buf testutil.SafeBuffer
	_, _, help, err := Parse([]string{"-h"}, &buf)
	require.NoError(t, err)
	assert.True(t, help)
}

func TestParseCallTimeParameters(t *testing.T) {
	var buf testutil.SafeBuffer
	_, params, _, err := Parse([]string{
		"-param", "region=eu-west-1",
		"-param", "limit=10",
		"-param", "ratio=0.5",
		"-param", "dry_run=true",
		"nb.yaml",
	}, &buf)
	require.NoError(t, err)

	assert.Equal(t, cty.StringVal("eu-west-1"), params["region"])
	assert.Equal(t, cty.NumberIntVal(10), params["limit"])
	assert.Equal(t, cty.NumberFloatVal(0.5), params["ratio"])
	assert.Equal(t, cty.True, params["dry_run"])
}

func TestParseRejectsMalformedParameter(t *testing.T) {
	var buf testutil.SafeBuffer
	_, _, _, err := Parse([]string{"-param", "no-equals", "nb.yaml"}, &buf)
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParseContinueOnError(t *testing.T) {
	var buf testutil.SafeBuffer
	cfg, _, _, err := Parse([]string{"-continue-on-error", "nb.yaml"}, &buf)
	require.NoError(t, err)
	assert.False(t, cfg.StopOnError)
}

func TestParseCredentialEnvFallback(t *testing.T) {
	t.Setenv(CredentialEnvVar, "from-env")
	var buf testutil.SafeBuffer
	cfg, _, _, err := Parse([]string{
		"-log", "redis",
		"-url", "localhost:6379",
		"-namespace", "nb",
		"nb.yaml",
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Credential)
}

func TestParseFlagBeatsCredentialEnv(t *testing.T) {
	t.Setenv(CredentialEnvVar, "from-env")
	var buf testutil.SafeBuffer
	cfg, _, _, err := Parse([]string{
		"-log", "redis",
		"-url", "localhost:6379",
		"-credential", "from-flag",
		"nb.yaml",
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Credential)
}

func TestParseInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"bad log format", []string{"-log-format", "xml", "nb.yaml"}},
		{"bad log level", []string{"-log-level", "verbose", "nb.yaml"}},
		{"bad store", []string{"-log", "sqlite", "nb.yaml"}},
		{"remote store without credential", []string{"-log", "redis", "-url", "localhost:6379", "nb.yaml"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf testutil.SafeBuffer
			_, _, _, err := Parse(tc.args, &buf)
			require.Error(t, err)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}

func TestParseConfigFileWithFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
connection {
  namespace = "from-file"
}

execution {
  timeout_ms = 30000
  settle_ms  = 100
}
`), 0o644))

	var buf testutil.SafeBuffer
	cfg, _, _, err := Parse([]string{
		"-config", path,
		"-execution-timeout", "90s",
		"nb.yaml",
	}, &buf)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Namespace)
	assert.Equal(t, 90*time.Second, cfg.ExecutionTimeout, "explicit flag overrides the file")
	assert.Equal(t, 100*time.Millisecond, cfg.SettleDelay, "file fills fields no flag set")
}

func TestDefaultNamespace(t *testing.T) {
	assert.Equal(t, "report", defaultNamespace("report.yaml"))
	assert.Equal(t, "report", defaultNamespace("deep/path/report.yaml"))
	assert.Equal(t, "report", defaultNamespace("report"))
}
