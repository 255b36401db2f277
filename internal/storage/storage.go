package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/contraverify/internal/config"
)

// ReportStore persists finished verification reports
type ReportStore interface {
	SaveReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	ListReports(ctx context.Context, filter ReportFilter, pagination PaginationParams) (*PaginatedResult[Report], error)
}

// APIKeyStore manages the keys that guard the write API. Only SHA-256
// hashes are persisted; CreateAPIKey returns the plaintext exactly once.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store is implemented by the sqlite and postgres backends. Consumers depend
// on ReportStore or APIKeyStore instead where they can.
type Store interface {
	ReportStore
	APIKeyStore
	Migrate(ctx context.Context) error
	Close() error
}

// Report is a stored verification run. Data holds the full report as JSON;
// the other fields are indexed copies used for listing and filtering.
type Report struct {
	ID           string
	ChainID      string
	Mode         string
	ContractName string
	Address      string
	Success      bool
	Error        string
	Data         []byte
	StartedAt    time.Time
	FinishedAt   time.Time
}

// APIKey is a stored key. Timestamps are RFC 3339 strings; empty means never.
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// ReportFilter narrows ListReports. Zero fields match everything.
type ReportFilter struct {
	ChainID string
	Address string
	Success *bool
}

// PaginationParams selects a page by keyset cursor.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult is one page of T. NextCursor is set only when HasMore is.
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New opens the store selected by cfg.Type.
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
