package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pendergraft/contraverify/internal/storage"
)

// ErrReportNotFound is returned when a stored report does not exist.
var ErrReportNotFound = errors.New("report not found")

// HistoryFilter selects stored reports.
type HistoryFilter struct {
	ChainID string
	Address string
	Success *bool
}

// HistoryPage is one page of stored reports, newest first.
type HistoryPage struct {
	Reports    []Report `json:"reports" yaml:"reports"`
	HasMore    bool     `json:"hasMore" yaml:"hasMore"`
	NextCursor string   `json:"nextCursor,omitempty" yaml:"nextCursor,omitempty"`
}

// History stores and retrieves finished reports.
type History interface {
	Save(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	List(ctx context.Context, filter HistoryFilter, limit int, cursor string) (*HistoryPage, error)
}

type history struct {
	store storage.ReportStore
}

// NewHistory creates a History backed by store.
func NewHistory(store storage.ReportStore) History {
	return &history{store: store}
}

// Save stores r and sets its ID.
func (h *history) Save(ctx context.Context, r *Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	rec := &storage.Report{
		ID:         r.ID,
		ChainID:    r.ChainID,
		Mode:       string(r.Mode),
		Success:    r.Success,
		Error:      r.Error,
		Data:       data,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if p := r.Primary(); p != nil {
		rec.ContractName = p.Name
		rec.Address = p.Address
	}

	if err := h.store.SaveReport(ctx, rec); err != nil {
		return err
	}
	r.ID = rec.ID
	return nil
}

func (h *history) Get(ctx context.Context, id string) (*Report, error) {
	rec, err := h.store.GetReport(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("getting report: %w", err)
	}
	return decodeReport(rec)
}

func (h *history) List(ctx context.Context, filter HistoryFilter, limit int, cursor string) (*HistoryPage, error) {
	result, err := h.store.ListReports(ctx, storage.ReportFilter{
		ChainID: filter.ChainID,
		Address: filter.Address,
		Success: filter.Success,
	}, storage.PaginationParams{Limit: limit, Cursor: cursor})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("listing reports: %w", err)
	}

	page := &HistoryPage{
		Reports:    make([]Report, 0, len(result.Data)),
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}
	for i := range result.Data {
		r, err := decodeReport(&result.Data[i])
		if err != nil {
			return nil, err
		}
		page.Reports = append(page.Reports, *r)
	}
	return page, nil
}

func decodeReport(rec *storage.Report) (*Report, error) {
	var r Report
	if err := json.Unmarshal(rec.Data, &r); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", rec.ID, err)
	}
	r.ID = rec.ID
	return &r, nil
}

// RecordingMiddleware returns a service middleware that saves every report
// that got past input validation. A failed save is logged and does not
// change the verification result.
func RecordingMiddleware(h History, logger *slog.Logger) func(Verifier) Verifier {
	return func(next Verifier) Verifier {
		return &recordingMiddleware{next: next, history: h, logger: logger}
	}
}

type recordingMiddleware struct {
	next    Verifier
	history History
	logger  *slog.Logger
}

func (m *recordingMiddleware) Verify(ctx context.Context, req Request) (*Report, error) {
	report, err := m.next.Verify(ctx, req)
	if report == nil || report.ChainID == "" {
		return report, err
	}

	// the run may have been cancelled; the record is still wanted
	saveCtx := context.WithoutCancel(ctx)
	if saveErr := m.history.Save(saveCtx, report); saveErr != nil {
		m.logger.Warn("saving report failed", "error", saveErr)
	}
	return report, err
}
