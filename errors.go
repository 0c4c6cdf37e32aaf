package testadapt

import (
	"errors"
	"fmt"
)

// ErrTestsFailed marks a completed run in which at least one test failed,
// errored or timed out. The CLI exits 1 for it; every other error is
// operational and exits 2.
var ErrTestsFailed = errors.New("tests failed")

// testsFailedError attaches the closing tally to ErrTestsFailed so the exit
// message carries the counts.
func testsFailedError(tally string) error {
	return fmt.Errorf("%w: %s", ErrTestsFailed, tally)
}
