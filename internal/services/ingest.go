// Package services orchestrates the write path (ingestion) and the read
// path (queries) between the HTTP surface and the ledger store.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kharcha/internal/core"
	applog "kharcha/internal/log"
	"kharcha/internal/storage"
)

// ErrMissingIdempotencyKey rejects a submission whose idempotency token
// is absent or blank. Callers must supply a fresh non-blank token per
// logically distinct submission.
var ErrMissingIdempotencyKey = errors.New("idempotency key is required")

// ValidationError carries the per-field violations of a rejected
// submission.
type ValidationError struct {
	Fields core.FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %d field(s)", len(e.Fields))
}

// ExpenseStore is the slice of the ledger store the ingestion service
// needs. The store is injected so tests run against isolated instances.
type ExpenseStore interface {
	Insert(ctx context.Context, e core.NewExpense, key string, createdAt time.Time) (core.Expense, error)
	FindByKey(ctx context.Context, key string) (core.Expense, error)
}

// EventPublisher announces first-time creations. Publication is best
// effort and never fails the submission.
type EventPublisher interface {
	PublishExpenseCreated(ctx context.Context, id int64, key string) error
}

// IngestService runs the submission state machine:
// Received -> Validated -> Inserted | Replayed | Rejected.
type IngestService struct {
	store  ExpenseStore
	events EventPublisher
}

// NewIngestService wires the ingestion service. events may be nil, in
// which case creation events are skipped.
func NewIngestService(store ExpenseStore, events EventPublisher) *IngestService {
	return &IngestService{store: store, events: events}
}

// Outcome is the result of a successful ingestion attempt. Replayed
// distinguishes "already existed" from first-time creation; the record
// itself is identical in both cases.
type Outcome struct {
	Expense  core.Expense
	Replayed bool
}

// Ingest validates and idempotently persists one submission.
//
// A blank key rejects the attempt before any validation or storage work.
// A duplicate-key insert is recovered by re-reading the winner's record;
// every other storage failure propagates unchanged. A missing record
// after a confirmed duplicate is a consistency fault and propagates too.
func (s *IngestService) Ingest(ctx context.Context, idempotencyKey string, body map[string]any) (Outcome, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return Outcome{}, ErrMissingIdempotencyKey
	}

	expense, fields := core.ValidateExpense(body)
	if len(fields) > 0 {
		return Outcome{}, &ValidationError{Fields: fields}
	}

	stored, err := s.store.Insert(ctx, expense, key, time.Now().UTC())
	if err == nil {
		s.publishCreated(ctx, stored.ID, key)
		return Outcome{Expense: stored}, nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return Outcome{}, fmt.Errorf("persist expense: %w", err)
	}

	existing, err := s.store.FindByKey(ctx, key)
	if err != nil {
		// The winner's row must exist once the constraint fired; a miss
		// here is a consistency fault, not a user error.
		return Outcome{}, fmt.Errorf("replay lookup for key %q: %w", key, err)
	}

	slog.InfoContext(ctx, "Expense replayed",
		applog.FieldExpenseID, existing.ID,
		applog.FieldIdempotencyKey, key)

	return Outcome{Expense: existing, Replayed: true}, nil
}

func (s *IngestService) publishCreated(ctx context.Context, id int64, key string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishExpenseCreated(ctx, id, key); err != nil {
		// The record is durable; a lost event only delays the audit trail
		slog.WarnContext(ctx, "Failed to publish expense created event",
			applog.FieldExpenseID, id, applog.FieldError, err)
	}
}
