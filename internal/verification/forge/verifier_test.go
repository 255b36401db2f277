package forge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/command"
	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type run struct {
	res command.Result
	err error
}

// fakeRunner returns scripted results, repeating the last one.
type fakeRunner struct {
	runs  []run
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (command.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	r := f.runs[0]
	if len(f.runs) > 1 {
		f.runs = f.runs[1:]
	}
	return r.res, r.err
}

func exitErr(stdout, stderr string) run {
	res := command.Result{Stdout: stdout, Stderr: stderr, ExitCode: 1}
	return run{res: res, err: &command.ExitError{Name: "forge", Result: res}}
}

func contract() domain.Contract {
	return domain.Contract{
		Name:       "DssSpell",
		Address:    "0x8De6DDbCd5053d32292AAA0D2105A32d108484a6",
		ChainID:    "1",
		SourcePath: "src/DssSpell.sol",
	}
}

func TestVerifier_Args(t *testing.T) {
	v := NewVerifier(Config{Verifier: Etherscan, Chains: []string{"1"}, APIKey: "secret"}, nil, retry.NoDelay(0), testLogger)

	c := contract()
	c.ConstructorArgs = "0x00ff"
	c.Library = domain.Library{Path: "src/DssExecLib.sol", Name: "DssExecLib", Address: "0xfD88CeE74f7D78697775aBDAE53f9Da1559728E4"}

	assert.Equal(t, []string{
		"verify-contract",
		"0x8De6DDbCd5053d32292AAA0D2105A32d108484a6",
		"src/DssSpell.sol:DssSpell",
		"--verifier", "etherscan",
		"--etherscan-api-key", "secret",
		"--flatten", "--watch",
		"--constructor-args", "0x00ff",
		"--libraries", "src/DssExecLib.sol:DssExecLib:0xfD88CeE74f7D78697775aBDAE53f9Da1559728E4",
	}, v.Args(c))

	plain := NewVerifier(SourcifyConfig(), nil, retry.NoDelay(0), testLogger)
	assert.Equal(t, []string{
		"verify-contract",
		"0x8De6DDbCd5053d32292AAA0D2105A32d108484a6",
		"src/DssSpell.sol:DssSpell",
		"--verifier", "sourcify",
		"--flatten", "--watch",
	}, plain.Args(contract()))
}

func TestVerifier_Verify(t *testing.T) {
	tests := []struct {
		name       string
		runs       []run
		wantStatus domain.Status
		wantCalls  int
		wantReason string
	}{
		{
			name:       "clean exit",
			runs:       []run{{res: command.Result{Stdout: "Contract successfully verified"}}},
			wantStatus: domain.StatusSuccess,
			wantCalls:  1,
		},
		{
			name:       "already verified on failure",
			runs:       []run{exitErr("", "Error: Contract source code Already Verified")},
			wantStatus: domain.StatusAlreadyVerified,
			wantCalls:  1,
		},
		{
			name:       "retried then verified",
			runs:       []run{{err: errors.New("signal: killed")}, {res: command.Result{Stdout: "ok"}}},
			wantStatus: domain.StatusSuccess,
			wantCalls:  2,
		},
		{
			name:       "non-zero exit is not retried",
			runs:       []run{exitErr("Submitting verification", "Error: bytecode mismatch\n")},
			wantStatus: domain.StatusFailure,
			wantCalls:  1,
			wantReason: "Error: bytecode mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{runs: tt.runs}
			v := NewVerifier(SourcifyConfig(), runner, retry.NoDelay(2), testLogger)

			got, err := v.Verify(context.Background(), contract())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Len(t, runner.calls, tt.wantCalls)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, got.Reason)
			}
			if got.OK() {
				assert.Equal(t, "https://sourcify.dev/#/lookup/0x8De6DDbCd5053d32292AAA0D2105A32d108484a6", got.URL)
			}
		})
	}
}

func TestVerifier_MissingBinary(t *testing.T) {
	runner := &fakeRunner{runs: []run{{err: command.ErrNotFound}}}
	v := NewVerifier(SourcifyConfig(), runner, retry.NoDelay(3), testLogger)

	_, err := v.Verify(context.Background(), contract())
	assert.ErrorIs(t, err, command.ErrNotFound)
	assert.Len(t, runner.calls, 1)
}

func TestVerifier_FailedExitRunsOnce(t *testing.T) {
	runner := &fakeRunner{runs: []run{exitErr("", "Error: bytecode mismatch")}}
	v := NewVerifier(SourcifyConfig(), runner, retry.NoDelay(retry.DefaultMaxRetries), testLogger)

	got, err := v.Verify(context.Background(), contract())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailure, got.Status)
	assert.Equal(t, "Error: bytecode mismatch", got.Reason)
	assert.Len(t, runner.calls, 1)
}

func TestVerifier_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{runs: []run{{err: errors.New("signal: killed")}}}
	v := NewVerifier(SourcifyConfig(), runner, retry.NoDelay(3), testLogger)

	_, err := v.Verify(ctx, contract())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, runner.calls, 1)
}

func TestVerifier_Availability(t *testing.T) {
	v := NewVerifier(SourcifyConfig(), nil, retry.NoDelay(0), testLogger)
	assert.True(t, v.IsAvailable("1"))
	assert.False(t, v.IsAvailable("11155111"))
	assert.Equal(t, "forge-sourcify", v.Name())
	assert.Equal(t, domain.KindCLIDelegated, v.Kind())

	bs := NewVerifier(Config{Verifier: Blockscout, ExplorerURL: "https://eth.blockscout.com/"}, nil, retry.NoDelay(0), testLogger)
	assert.Equal(t, "https://eth.blockscout.com/address/0xabc", bs.ResultURL("1", "0xabc"))

	es := NewVerifier(Config{Verifier: Etherscan}, nil, retry.NoDelay(0), testLogger)
	assert.Equal(t, "https://sepolia.etherscan.io/address/0xabc#code", es.ResultURL("11155111", "0xabc"))
}
