//go:build e2e

package e2e

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/pkg/client"
)

// TestAuth_VerifyRequiresKey tests that starting a verification needs a valid key
func TestAuth_VerifyRequiresKey(t *testing.T) {
	req := client.VerifyRequest{Name: "DssSpell", Address: spellAddress}

	t.Run("no key", func(t *testing.T) {
		_, err := newClient(testCtx.TestServer, "").Verify(context.Background(), req)
		assertStatus(t, err, http.StatusUnauthorized)
	})

	t.Run("malformed key", func(t *testing.T) {
		_, err := newClient(testCtx.TestServer, "not-a-key").Verify(context.Background(), req)
		assertStatus(t, err, http.StatusUnauthorized)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := newClient(testCtx.TestServer, "cv_key_0000000000000000").Verify(context.Background(), req)
		assertStatus(t, err, http.StatusUnauthorized)
	})

	t.Run("revoked key", func(t *testing.T) {
		key := createTestAPIKey(t, testCtx.Store, "test-auth-revoked")
		keys, err := testCtx.Store.ListAPIKeys(context.Background())
		require.NoError(t, err)
		for _, k := range keys {
			if k.Name == "test-auth-revoked" {
				require.NoError(t, testCtx.Store.RevokeAPIKey(context.Background(), k.ID))
			}
		}

		_, err = newClient(testCtx.TestServer, key).Verify(context.Background(), req)
		assertStatus(t, err, http.StatusUnauthorized)
	})
}

// TestAuth_UnauthenticatedRead tests that reports can be read without a key
func TestAuth_UnauthenticatedRead(t *testing.T) {
	key := createTestAPIKey(t, testCtx.Store, "test-auth-read")
	report, err := newClient(testCtx.TestServer, key).Verify(context.Background(), client.VerifyRequest{
		Name:    "DssSpell",
		Address: spellAddress,
	})
	require.NoError(t, err)

	anon := newClient(testCtx.TestServer, "")

	t.Run("list reports without auth", func(t *testing.T) {
		list, err := anon.ListReports(context.Background(), client.ListOptions{})
		require.NoError(t, err)
		assert.NotEmpty(t, list.Data)
	})

	t.Run("get report without auth", func(t *testing.T) {
		got, err := anon.GetReport(context.Background(), report.ID)
		require.NoError(t, err)
		assert.Equal(t, report.ID, got.ID)
	})
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, status, apiErr.StatusCode)
}
