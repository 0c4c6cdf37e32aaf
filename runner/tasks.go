package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// TaskRunner executes one auxiliary task command. A non-nil error means the
// task exited non-zero or could not be started.
type TaskRunner interface {
	Run(ctx context.Context, command string) error
}

// ExecTaskRunner runs tasks through the shell, in the runnable's working
// directory and environment.
type ExecTaskRunner struct {
	Log log.Logger
	Dir string
	Env map[string]string
}

func (r *ExecTaskRunner) Run(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range r.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.Log.Debug("Running auxiliary task", "command", command)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("task %q: %w (output: %s)", command, err,
			strings.TrimSpace(output.String()))
	}
	return nil
}
