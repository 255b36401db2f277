package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTime is fixed width so that timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verification reports
	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		chain_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		contract_name TEXT NOT NULL,
		address TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_reports_started ON reports(started_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_reports_lookup ON reports(chain_id, address);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// SaveReport stores a report, assigning an ID when it has none
func (s *SQLiteStore) SaveReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		r.ID = generateID()
	}
	query := `
		INSERT INTO reports (id, chain_id, mode, contract_name, address, success, error, data, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.ChainID, r.Mode, r.ContractName, r.Address, r.Success, r.Error, string(r.Data),
		r.StartedAt.UTC().Format(sqliteTime), r.FinishedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by ID
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*Report, error) {
	query := `
		SELECT id, chain_id, mode, contract_name, address, success, error, data, started_at, finished_at
		FROM reports
		WHERE id = ?
	`
	r, err := scanSQLiteReport(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListReports lists reports newest first with cursor-based pagination
func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter, pagination PaginationParams) (*PaginatedResult[Report], error) {
	query, args, err := reportQuery(filter, pagination,
		func(int) string { return "?" },
		func(t time.Time) any { return t.UTC().Format(sqliteTime) },
	)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanSQLiteReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return paginate(reports, pagination.Limit), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteReport(row rowScanner) (*Report, error) {
	var r Report
	var data, started, finished string
	if err := row.Scan(&r.ID, &r.ChainID, &r.Mode, &r.ContractName, &r.Address, &r.Success, &r.Error, &data, &started, &finished); err != nil {
		return nil, err
	}
	r.Data = []byte(data)

	var err error
	if r.StartedAt, err = time.Parse(sqliteTime, started); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if r.FinishedAt, err = time.Parse(sqliteTime, finished); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	return &r, nil
}

// CreateAPIKey creates a new API key
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all API keys
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.String
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ? AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
