// Package explorer holds what the HTTP explorer backends share: the source
// they submit and how their API failures are classified.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/retry"
)

// UserAgent is sent with every explorer request.
const UserAgent = "contraverify"

// SourceProvider supplies flattened source and compiler settings.
type SourceProvider interface {
	Source(ctx context.Context, sourcePath, contract string) (foundry.Source, error)
}

// HTTPError is a non-2xx answer from an explorer API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable classifies API failures. Client errors other than 429 are
// final, everything else is treated as transient.
func IsRetryable(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
