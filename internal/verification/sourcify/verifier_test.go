package sourcify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSources struct{ err error }

func (f fakeSources) Source(ctx context.Context, sourcePath, contract string) (foundry.Source, error) {
	if f.err != nil {
		return foundry.Source{}, f.err
	}
	return foundry.Source{
		Code:     "contract DssSpell {}",
		Metadata: foundry.Metadata{CompilerVersion: "v0.8.16+commit.07a7930e", OptimizerRuns: 200},
	}, nil
}

func contract() domain.Contract {
	return domain.Contract{
		Name:            "DssSpell",
		Address:         "0x8De6DDbCd5053d32292AAA0D2105A32d108484a6",
		ChainID:         "11155111",
		SourcePath:      "src/DssSpell.sol",
		ConstructorArgs: "00ff",
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus domain.Status
		wantReason string
		wantCalls  int
		wantErr    bool
	}{
		{"perfect", 200, `{"status":"perfect"}`, domain.StatusSuccess, "", 1, false},
		{"partial", 200, `{"result":[{"address":"0x8de6","chainId":"11155111","status":"partial"}]}`, domain.StatusSuccess, "", 1, false},
		{"rejected", 400, `{"error":"Bytecode does not match"}`, domain.StatusFailure, "Bytecode does not match", 1, false},
		{"no match", 200, `{"status":"false","message":"No match"}`, domain.StatusFailure, "No match", 1, false},
		{"server down", 503, `unavailable`, "", "", 3, true},
		{"garbage", 200, `<html>`, "", "", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			var got verifyRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				assert.Equal(t, "/verify", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			v := NewVerifier(server.URL+"/", fakeSources{}, retry.NoDelay(2), testLogger)
			out, err := v.Verify(context.Background(), contract())

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, out.Status)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, out.Reason)
			}
			if out.OK() {
				assert.Equal(t, "https://sourcify.dev/#/lookup/0x8De6DDbCd5053d32292AAA0D2105A32d108484a6", out.URL)
			}

			assert.Equal(t, "0x8De6DDbCd5053d32292AAA0D2105A32d108484a6", got.Address)
			assert.Equal(t, "11155111", got.Chain)
			assert.Equal(t, "00ff", got.ConstructorArgs)
			assert.Equal(t, "contract DssSpell {}", got.Files["contract.sol"])
			assert.Contains(t, got.Files["metadata.json"], "v0.8.16+commit.07a7930e")
		})
	}
}

func TestVerify_SourceErrorIsFatal(t *testing.T) {
	v := NewVerifier("", fakeSources{err: foundry.ErrFlatten}, retry.NoDelay(0), testLogger)

	_, err := v.Verify(context.Background(), contract())
	assert.ErrorIs(t, err, domain.ErrFatal)
	assert.ErrorIs(t, err, foundry.ErrFlatten)
}

func TestVerifier_Availability(t *testing.T) {
	v := NewVerifier("", fakeSources{}, retry.NoDelay(0), testLogger)
	assert.True(t, v.IsAvailable("1"))
	assert.True(t, v.IsAvailable("11155111"))
	assert.False(t, v.IsAvailable("137"))
	assert.Equal(t, domain.KindExplorerAPI, v.Kind())
	assert.Equal(t, DefaultServerURL, v.serverURL)
}
