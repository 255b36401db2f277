package domain

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Verifier is the interface served by the verification service.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Report, error)
}

// LoggingMiddleware returns a service middleware that logs every run.
func LoggingMiddleware(logger *slog.Logger) func(Verifier) Verifier {
	return func(next Verifier) Verifier {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Verifier
	logger *slog.Logger
}

func (m *loggingMiddleware) Verify(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	report, err := m.next.Verify(ctx, req)

	attrs := []any{
		"name", req.Name,
		"address", req.Address,
		"duration", time.Since(start),
	}
	if report != nil {
		attrs = append(attrs, "chain_id", report.ChainID, "success", report.Success, "contracts", len(report.Contracts))
	}
	if err != nil {
		m.logger.Error("Verify", append(attrs, "error", err)...)
		return report, err
	}
	m.logger.Info("Verify", attrs...)
	return report, nil
}

// ObserveFunc receives one backend outcome.
type ObserveFunc func(backend string, status Status, d time.Duration)

// InstrumentBackend wraps b so that every outcome is passed to observe.
func InstrumentBackend(b Backend, observe ObserveFunc) Backend {
	return &instrumentedBackend{Backend: b, observe: observe}
}

type instrumentedBackend struct {
	Backend
	observe ObserveFunc
}

func (b *instrumentedBackend) Verify(ctx context.Context, c Contract) (Outcome, error) {
	start := time.Now()
	out, err := b.Backend.Verify(ctx, c)
	status := out.Status
	if err != nil {
		status = StatusFailure
	}
	b.observe(b.Name(), status, time.Since(start))
	return out, err
}

// RunResult classifies a finished run for metrics.
func RunResult(report *Report, err error) string {
	switch {
	case err == nil:
		return "success"
	case report != nil && errors.Is(err, ErrVerificationFailed):
		return "failure"
	}
	return "error"
}

// InstrumentingMiddleware returns a service middleware that passes the chain
// ID and RunResult of every run to observe.
func InstrumentingMiddleware(observe func(chainID, result string)) func(Verifier) Verifier {
	return func(next Verifier) Verifier {
		return &instrumentingMiddleware{next: next, observe: observe}
	}
}

type instrumentingMiddleware struct {
	next    Verifier
	observe func(chainID, result string)
}

func (m *instrumentingMiddleware) Verify(ctx context.Context, req Request) (*Report, error) {
	report, err := m.next.Verify(ctx, req)
	chainID := ""
	if report != nil {
		chainID = report.ChainID
	}
	m.observe(chainID, RunResult(report, err))
	return report, err
}
