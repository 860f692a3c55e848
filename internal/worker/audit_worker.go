// Package worker implements the audit consumer that mirrors created
// expenses into an append-only JSON-lines trail.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kharcha/internal/amqp"
	"kharcha/internal/core"
	applog "kharcha/internal/log"
)

// ExpenseReader looks up the full expense record for an event.
type ExpenseReader interface {
	FindByID(ctx context.Context, id int64) (core.Expense, error)
}

// AuditWorker consumes expense-created events and appends one JSON line
// per expense to the audit trail file.
type AuditWorker struct {
	storage   ExpenseReader
	auditPath string

	mu      sync.Mutex
	written int64
	failed  int64
}

func NewAuditWorker(storage ExpenseReader, auditPath string) *AuditWorker {
	return &AuditWorker{
		storage:   storage,
		auditPath: auditPath,
	}
}

type auditEntry struct {
	RecordedAt     string `json:"recorded_at"`
	ExpenseID      int64  `json:"expense_id"`
	AmountMinor    int64  `json:"amount_minor"`
	Category       string `json:"category"`
	Date           string `json:"date"`
	User           string `json:"user,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedAt      string `json:"created_at"`
}

// HandleExpenseCreated processes a single expense-created event.
// Returning an error requeues the event, so the lookup and the append
// must both succeed before the delivery is acked.
func (w *AuditWorker) HandleExpenseCreated(ctx context.Context, msg *amqp.ExpenseCreatedMessage) error {
	slog.InfoContext(ctx, "Processing expense created event",
		applog.FieldExpenseID, msg.ID,
		applog.FieldIdempotencyKey, msg.IdempotencyKey)

	expense, err := w.storage.FindByID(ctx, msg.ID)
	if err != nil {
		w.countFailure()
		return fmt.Errorf("find expense %d: %w", msg.ID, err)
	}

	entry := auditEntry{
		RecordedAt:     time.Now().UTC().Format(time.RFC3339),
		ExpenseID:      expense.ID,
		AmountMinor:    expense.AmountMinor,
		Category:       expense.Category,
		Date:           expense.Date,
		User:           expense.User,
		IdempotencyKey: expense.IdempotencyKey,
		CreatedAt:      expense.CreatedAt,
	}

	if err := w.appendEntry(entry); err != nil {
		w.countFailure()
		return fmt.Errorf("append audit entry for expense %d: %w", msg.ID, err)
	}

	w.mu.Lock()
	w.written++
	w.mu.Unlock()

	slog.InfoContext(ctx, "Recorded audit entry",
		applog.FieldExpenseID, expense.ID,
		applog.FieldAmountMinor, expense.AmountMinor,
		applog.FieldCategory, expense.Category)

	return nil
}

func (w *AuditWorker) appendEntry(entry auditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	line = append(line, '\n')

	// One writer at a time keeps lines whole under concurrent deliveries
	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.auditPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit directory: %w", err)
		}
	}

	f, err := os.OpenFile(w.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write audit line: %w", err)
	}

	return nil
}

func (w *AuditWorker) countFailure() {
	w.mu.Lock()
	w.failed++
	w.mu.Unlock()
}

// ReportStats logs processing counters at the given interval until ctx
// is cancelled.
func (w *AuditWorker) ReportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			written, failed := w.written, w.failed
			w.mu.Unlock()

			slog.InfoContext(ctx, "Audit worker stats",
				"written", written,
				"failed", failed)
		}
	}
}
