// Package sourcify verifies contracts with the Sourcify server API.
package sourcify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/verification/explorer"
)

// Name identifies this backend in reports.
const Name = "sourcify"

// DefaultServerURL is the public Sourcify server.
const DefaultServerURL = "https://sourcify.dev/server"

var supportedChains = []string{"1", "11155111"}

// Match statuses returned by the server.
const (
	statusPerfect = "perfect"
	statusPartial = "partial"
)

// ErrInvalidResponse is returned when the server answers with something that is not JSON.
var ErrInvalidResponse = errors.New("sourcify responded with invalid JSON")

type verifyRequest struct {
	Address         string            `json:"address"`
	Chain           string            `json:"chain"`
	Files           map[string]string `json:"files"`
	ConstructorArgs string            `json:"constructorArgs,omitempty"`
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Result  []struct {
		Address string `json:"address"`
		ChainID string `json:"chainId"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"result"`
}

// status returns the match status, which newer servers report per contract.
func (r verifyResponse) status() string {
	if r.Status != "" {
		return r.Status
	}
	if len(r.Result) > 0 {
		return r.Result[0].Status
	}
	return ""
}

func (r verifyResponse) reason() string {
	for _, s := range []string{r.Message, r.Error} {
		if s != "" {
			return s
		}
	}
	if len(r.Result) > 0 && r.Result[0].Message != "" {
		return r.Result[0].Message
	}
	return "unknown error"
}

// Verifier is the Explorer-API backend for Sourcify. The server answers
// synchronously, so there is no polling step.
type Verifier struct {
	serverURL  string
	httpClient *http.Client
	sources    explorer.SourceProvider
	policy     retry.Policy
	logger     *slog.Logger
}

var _ domain.Backend = (*Verifier)(nil)

// NewVerifier creates the backend. An empty serverURL selects DefaultServerURL.
func NewVerifier(serverURL string, sources explorer.SourceProvider, policy retry.Policy, logger *slog.Logger) *Verifier {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Retryable == nil {
		policy.Retryable = explorer.IsRetryable
	}
	return &Verifier{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sources:    sources,
		policy:     policy,
		logger:     logger.With("backend", Name),
	}
}

func (v *Verifier) Name() string      { return Name }
func (v *Verifier) Kind() domain.Kind { return domain.KindExplorerAPI }

func (v *Verifier) IsAvailable(chainID string) bool {
	return slices.Contains(supportedChains, chainID)
}

// ResultURL returns the Sourcify lookup page for address.
func (v *Verifier) ResultURL(chainID, address string) string {
	return "https://sourcify.dev/#/lookup/" + address
}

// Verify posts the flattened source and its settings to /verify.
func (v *Verifier) Verify(ctx context.Context, c domain.Contract) (domain.Outcome, error) {
	logger := v.logger.With("contract", c.Name, "address", c.Address)

	src, err := v.sources.Source(ctx, c.SourcePath, c.Name)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: preparing source: %w", domain.ErrFatal, err)
	}
	meta, err := json.Marshal(src.Metadata)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("encoding metadata: %w", err)
	}

	body, err := json.Marshal(verifyRequest{
		Address: c.Address,
		Chain:   c.ChainID,
		Files: map[string]string{
			"contract.sol":  src.Code,
			"metadata.json": string(meta),
		},
		ConstructorArgs: c.ConstructorArgs,
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("encoding request: %w", err)
	}

	logger.Info("submitting source")
	resp, err := retry.Do(ctx, v.policy, logger, func(ctx context.Context) (verifyResponse, error) {
		return v.post(ctx, "/verify", body)
	})
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("verifying on sourcify: %w", err)
	}

	resultURL := v.ResultURL(c.ChainID, c.Address)
	switch resp.status() {
	case statusPerfect:
		logger.Info("contract verified", "match", statusPerfect)
		return domain.Verified(resultURL), nil
	case statusPartial:
		logger.Info("contract partially verified", "match", statusPartial)
		return domain.Verified(resultURL), nil
	}
	logger.Warn("verification failed", "reason", resp.reason())
	return domain.Failed(resp.reason()), nil
}

func (v *Verifier) post(ctx context.Context, path string, body []byte) (verifyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return verifyResponse{}, retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", explorer.UserAgent)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return verifyResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return verifyResponse{}, err
	}

	var out verifyResponse
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode >= 400 {
		// rejected verifications come back as 4xx with a JSON error body
		if decodeErr == nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return out, nil
		}
		return verifyResponse{}, &explorer.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if decodeErr != nil {
		return verifyResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, decodeErr)
	}
	return out, nil
}

