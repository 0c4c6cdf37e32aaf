package testadapt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestsFailedErrorMatchesSentinel(t *testing.T) {
	err := testsFailedError("3 tests: 1 passed, 2 failed, 0 skipped")
	require.ErrorIs(t, err, ErrTestsFailed)
	assert.Contains(t, err.Error(), "2 failed")

	wrapped := fmt.Errorf("run-once: %w", err)
	assert.True(t, errors.Is(wrapped, ErrTestsFailed))
	assert.False(t, errors.Is(errors.New("config not found"), ErrTestsFailed))
}
