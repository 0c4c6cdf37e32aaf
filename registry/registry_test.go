package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testadapt/testadapt/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runnables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRegistry(t *testing.T) {
	validConfig := `
defaults:
  run_timeout: 5m
  parallel: 2
runnables:
  - id: unit
    path: /opt/tests/unit_tests
    framework: catch2
    group_by:
      - kind: tags
        ungrouped_to: misc
  - id: integration
    path: /opt/tests/integration_tests
    framework: gtest
    parallel: 4
    run_timeout: 20m
`
	configPath := writeConfig(t, validConfig)

	r, err := NewRegistry(Config{
		Log:                log.New(),
		RunnableConfigFile: configPath,
	})
	require.NoError(t, err)

	runnables := r.GetRunnables()
	require.Len(t, runnables, 2)

	unit, ok := r.GetRunnable("unit")
	require.True(t, ok)
	assert.Equal(t, 2, unit.Parallel, "file-level default applies")
	assert.Equal(t, 5*time.Minute, unit.RunTimeout.Std())

	integration, ok := r.GetRunnable("integration")
	require.True(t, ok)
	assert.Equal(t, 4, integration.Parallel, "explicit value wins over default")
	assert.Equal(t, 20*time.Minute, integration.RunTimeout.Std())

	_, ok = r.GetRunnable("missing")
	assert.False(t, ok)
}

func TestRegistryErrors(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name:   "no runnables",
			config: "runnables: []",
		},
		{
			name: "duplicate ids",
			config: `
runnables:
  - id: unit
    path: /opt/a
  - id: unit
    path: /opt/b
`,
		},
		{
			name: "missing path",
			config: `
runnables:
  - id: unit
`,
		},
		{
			name: "unknown framework",
			config: `
runnables:
  - id: unit
    path: /opt/a
    framework: mocha
`,
		},
		{
			name: "invalid grouping pattern",
			config: `
runnables:
  - id: unit
    path: /opt/a
    group_by:
      - kind: regex
        pattern: "(["
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(Config{
				Log:                log.New(),
				RunnableConfigFile: writeConfig(t, tt.config),
			})
			assert.Error(t, err)
		})
	}
}

func TestRegistryRequiresConfigFile(t *testing.T) {
	_, err := NewRegistry(Config{Log: log.New()})
	require.Error(t, err)

	_, err = NewRegistry(Config{Log: log.New(), RunnableConfigFile: "nonexistent.yaml"})
	require.Error(t, err)
}

func TestRegistryFallsBackToProcessDefaultTimeout(t *testing.T) {
	config := `
runnables:
  - id: unit
    path: /opt/tests/unit_tests
`
	r, err := NewRegistry(Config{
		Log:                log.New(),
		RunnableConfigFile: writeConfig(t, config),
		DefaultRunTimeout:  types.Duration(10 * time.Minute),
	})
	require.NoError(t, err)

	unit, ok := r.GetRunnable("unit")
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, unit.RunTimeout.Std())
}
