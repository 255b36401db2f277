// Package command runs external tools such as forge and cast.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrNotFound is returned when the tool binary is not on PATH.
var ErrNotFound = errors.New("command not found")

// Result is the captured output of one invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ExitError is returned when a command exits with a non-zero status.
// The captured output is kept so callers can inspect it.
type ExitError struct {
	Name   string
	Result Result
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Result.Combined())
	if len(out) > 512 {
		out = out[len(out)-512:]
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.Result.ExitCode, out)
}

// Runner executes an external command and captures its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Dir is the working directory; empty means the current directory.
	Dir    string
	Env    []string
	Logger *slog.Logger
}

// NewExecRunner creates a runner rooted at dir.
func NewExecRunner(dir string, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Dir: dir, Logger: logger}
}

// Run executes name with args. A non-zero exit returns *ExitError together
// with the captured Result.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Debug("executing command", "name", name, "args", redact(args), "dir", r.Dir)

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Name: name, Result: res}
	}
	if errors.Is(err, exec.ErrNotFound) {
		return res, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, fmt.Errorf("running %s: %w", name, err)
}

// secretFlags have their following value masked in logs.
var secretFlags = map[string]bool{
	"--etherscan-api-key": true,
	"--private-key":       true,
}

func redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if secretFlags[out[i]] {
			out[i+1] = "****"
		}
	}
	return out
}
