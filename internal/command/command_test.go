package command

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Success(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	r := NewExecRunner(t.TempDir(), nil)
	res, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2")

	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	r := NewExecRunner("", nil)
	res, err := r.Run(context.Background(), "sh", "-c", "echo 'Contract is already verified' 1>&2; exit 3")

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Result.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Combined(), "already verified")
	assert.Contains(t, err.Error(), "status 3")
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner("", nil)
	_, err := r.Run(context.Background(), "contraverify-definitely-missing-binary")

	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestResultCombined(t *testing.T) {
	assert.Equal(t, "a", Result{Stdout: "a"}.Combined())
	assert.Equal(t, "b", Result{Stderr: "b"}.Combined())
	assert.Equal(t, "a\nb", Result{Stdout: "a", Stderr: "b"}.Combined())
}

func TestRedact(t *testing.T) {
	args := []string{"verify-contract", "0x00", "--etherscan-api-key", "SECRET", "--watch"}
	got := redact(args)

	assert.Equal(t, "****", got[3])
	assert.Equal(t, "SECRET", args[3], "input must not be modified")
}
