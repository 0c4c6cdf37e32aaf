package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testadapt/testadapt/framework"
)

func TestCacheRoundTrip(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "unit_tests")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0755))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(exe, past, past))

	enum := framework.Enumeration{
		Version: "3.4.0",
		Cases: []framework.CaseInfo{
			{ID: "a", Label: "a", Tags: []string{"fast"}, File: "/src/a.cpp", Line: 3},
		},
	}
	require.NoError(t, writeCache(exe, enum))

	got, ok := readCache(exe)
	require.True(t, ok)
	assert.Equal(t, enum, got)
}

func TestCacheIgnoredWhenOlderThanExecutable(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "unit_tests")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0755))

	require.NoError(t, writeCache(exe, framework.Enumeration{}))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(cachePath(exe), past, past))

	_, ok := readCache(exe)
	assert.False(t, ok)
}

func TestCacheIgnoredWhenCorrupt(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "unit_tests")
	require.NoError(t, os.WriteFile(exe, []byte("bin"), 0755))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(exe, past, past))

	require.NoError(t, os.WriteFile(cachePath(exe), []byte("{not json"), 0644))

	_, ok := readCache(exe)
	assert.False(t, ok)
}
