package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPageSize is used when a list request does not set a limit.
const DefaultPageSize = 20

// MaxPageSize caps list requests.
const MaxPageSize = 100

// APIKeyPrefix starts every generated API key.
const APIKeyPrefix = "cv_key_"

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new API key
func generateAPIKey() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return APIKeyPrefix + hex.EncodeToString(b)
}

// hashAPIKey hashes an API key for storage
func hashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}

// Report lists are ordered newest first by (started_at, id); the cursor is
// the position of the last row returned.
type cursor struct {
	StartedAt time.Time
	ID        string
}

func encodeCursor(c cursor) string {
	raw := c.StartedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return cursor{}, ErrInvalidCursor
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return cursor{}, ErrInvalidCursor
	}
	return cursor{StartedAt: t, ID: id}, nil
}

// reportQuery builds the WHERE clause shared by both SQL dialects.
// placeholder returns the bind marker for the n-th argument (1-based).
// Cursor times are bound through timeArg so each dialect can store them
// in its own representation.
func reportQuery(filter ReportFilter, pagination PaginationParams, placeholder func(int) string, timeArg func(time.Time) any) (string, []any, error) {
	var where []string
	var args []any
	bind := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.ChainID != "" {
		where = append(where, "chain_id = "+bind(filter.ChainID))
	}
	if filter.Address != "" {
		where = append(where, "LOWER(address) = "+bind(strings.ToLower(filter.Address)))
	}
	if filter.Success != nil {
		where = append(where, "success = "+bind(*filter.Success))
	}
	if pagination.Cursor != "" {
		c, err := decodeCursor(pagination.Cursor)
		if err != nil {
			return "", nil, err
		}
		t := timeArg(c.StartedAt)
		where = append(where, fmt.Sprintf("(started_at < %s OR (started_at = %s AND id < %s))", bind(t), bind(t), bind(c.ID)))
	}

	query := `SELECT id, chain_id, mode, contract_name, address, success, error, data, started_at, finished_at FROM reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT " + bind(normalizeLimit(pagination.Limit)+1)
	return query, args, nil
}

// paginate trims the extra row fetched to detect further pages.
func paginate(reports []Report, limit int) *PaginatedResult[Report] {
	limit = normalizeLimit(limit)
	result := &PaginatedResult[Report]{Data: reports}
	if len(reports) > limit {
		result.Data = reports[:limit]
		result.HasMore = true
		last := result.Data[len(result.Data)-1]
		result.NextCursor = encodeCursor(cursor{StartedAt: last.StartedAt, ID: last.ID})
	}
	return result
}
