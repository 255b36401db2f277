package explorer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pendergraft/contraverify/internal/retry"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport", errors.New("connection reset"), true},
		{"server error", &HTTPError{StatusCode: 500}, true},
		{"bad gateway wrapped", fmt.Errorf("submitting: %w", &HTTPError{StatusCode: 502}), true},
		{"rate limited", &HTTPError{StatusCode: 429}, true},
		{"not found", &HTTPError{StatusCode: 404}, false},
		{"forbidden", &HTTPError{StatusCode: 403}, false},
		{"marked", retry.NonRetryable(errors.New("bad")), false},
		{"invalid input", retry.ErrInvalidInput, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestHTTPError(t *testing.T) {
	assert.Equal(t, "HTTP 502", (&HTTPError{StatusCode: 502}).Error())
	assert.Equal(t, "HTTP 403: forbidden", (&HTTPError{StatusCode: 403, Body: "forbidden"}).Error())
}
