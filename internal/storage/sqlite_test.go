package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

func testReport(i int, chainID string, success bool) *Report {
	started := time.Date(2025, 3, 1, 12, 0, i, 0, time.UTC)
	return &Report{
		ChainID:      chainID,
		Mode:         "all",
		ContractName: "DssSpell",
		Address:      fmt.Sprintf("0x%040x", i),
		Success:      success,
		Data:         []byte(fmt.Sprintf(`{"n":%d}`, i)),
		StartedAt:    started,
		FinishedAt:   started.Add(90 * time.Second),
	}
}

func TestSQLiteStore_Reports(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		r := testReport(1, "1", true)
		r.Error = ""
		if err := store.SaveReport(ctx, r); err != nil {
			t.Fatalf("SaveReport() error = %v", err)
		}
		if r.ID == "" {
			t.Fatal("SaveReport() did not assign an ID")
		}

		got, err := store.GetReport(ctx, r.ID)
		if err != nil {
			t.Fatalf("GetReport() error = %v", err)
		}
		if got.Address != r.Address || got.ChainID != "1" || !got.Success {
			t.Errorf("GetReport() = %+v, want %+v", got, r)
		}
		if string(got.Data) != `{"n":1}` {
			t.Errorf("GetReport().Data = %s", got.Data)
		}
		if !got.StartedAt.Equal(r.StartedAt) || !got.FinishedAt.Equal(r.FinishedAt) {
			t.Errorf("GetReport() times = %v/%v, want %v/%v", got.StartedAt, got.FinishedAt, r.StartedAt, r.FinishedAt)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetReport(ctx, "does-not-exist")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetReport() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteStore_ListReports(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		chainID := "1"
		if i%2 == 1 {
			chainID = "11155111"
		}
		if err := store.SaveReport(ctx, testReport(i, chainID, i != 4)); err != nil {
			t.Fatalf("SaveReport() error = %v", err)
		}
	}

	t.Run("NewestFirstWithPagination", func(t *testing.T) {
		page, err := store.ListReports(ctx, ReportFilter{}, PaginationParams{Limit: 2})
		if err != nil {
			t.Fatalf("ListReports() error = %v", err)
		}
		if len(page.Data) != 2 || !page.HasMore {
			t.Fatalf("ListReports() = %d rows hasMore=%v, want 2 rows with more", len(page.Data), page.HasMore)
		}
		if page.Data[0].Address != fmt.Sprintf("0x%040x", 4) {
			t.Errorf("first row = %s, want newest report", page.Data[0].Address)
		}

		var seen []string
		cursor := ""
		for {
			page, err := store.ListReports(ctx, ReportFilter{}, PaginationParams{Limit: 2, Cursor: cursor})
			if err != nil {
				t.Fatalf("ListReports() error = %v", err)
			}
			for _, r := range page.Data {
				seen = append(seen, r.Address)
			}
			if !page.HasMore {
				break
			}
			cursor = page.NextCursor
		}
		if len(seen) != 5 {
			t.Errorf("paginated through %d reports, want 5", len(seen))
		}
	})

	t.Run("FilterByChain", func(t *testing.T) {
		page, err := store.ListReports(ctx, ReportFilter{ChainID: "11155111"}, PaginationParams{})
		if err != nil {
			t.Fatalf("ListReports() error = %v", err)
		}
		if len(page.Data) != 2 {
			t.Errorf("ListReports(chain) = %d rows, want 2", len(page.Data))
		}
	})

	t.Run("FilterByAddressAndSuccess", func(t *testing.T) {
		failed := false
		page, err := store.ListReports(ctx, ReportFilter{Success: &failed}, PaginationParams{})
		if err != nil {
			t.Fatalf("ListReports() error = %v", err)
		}
		if len(page.Data) != 1 || page.Data[0].Success {
			t.Errorf("ListReports(failed) = %+v, want one failed report", page.Data)
		}

		upper := "0X" + fmt.Sprintf("%040X", 3)
		page, err = store.ListReports(ctx, ReportFilter{Address: upper}, PaginationParams{})
		if err != nil {
			t.Fatalf("ListReports() error = %v", err)
		}
		if len(page.Data) != 1 {
			t.Errorf("ListReports(address) = %d rows, want 1", len(page.Data))
		}
	})

	t.Run("InvalidCursor", func(t *testing.T) {
		_, err := store.ListReports(ctx, ReportFilter{}, PaginationParams{Cursor: "!!"})
		if !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("ListReports() error = %v, want ErrInvalidCursor", err)
		}
	})
}

func TestSQLiteStore_APIKeys(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	key, err := store.CreateAPIKey(ctx, "ci")
	if err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	ak, err := store.ValidateAPIKey(ctx, key)
	if err != nil {
		t.Fatalf("ValidateAPIKey() error = %v", err)
	}
	if ak.Name != "ci" {
		t.Errorf("ValidateAPIKey().Name = %s, want ci", ak.Name)
	}

	if _, err := store.ValidateAPIKey(ctx, "cv_key_wrong"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ValidateAPIKey(wrong) error = %v, want ErrNotFound", err)
	}

	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys() error = %v", err)
	}
	if len(keys) != 1 || keys[0].LastUsedAt == "" {
		t.Errorf("ListAPIKeys() = %+v, want one used key", keys)
	}

	if err := store.RevokeAPIKey(ctx, ak.ID); err != nil {
		t.Fatalf("RevokeAPIKey() error = %v", err)
	}
	if _, err := store.ValidateAPIKey(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("ValidateAPIKey(revoked) error = %v, want ErrNotFound", err)
	}
	if err := store.RevokeAPIKey(ctx, ak.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("RevokeAPIKey(twice) error = %v, want ErrNotFound", err)
	}
}
