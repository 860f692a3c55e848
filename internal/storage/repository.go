// Package storage implements the durable ledger store on SQLite. It is
// the single source of truth for expense records: every other component
// either reads from it or asks it for derived views.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kharcha/internal/core"
	applog "kharcha/internal/log"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicateKey reports that the idempotency key already identifies
	// a stored record. Insert never partially writes when returning it.
	ErrDuplicateKey = errors.New("idempotency key already exists")

	// ErrNotFound reports that no record matches the lookup.
	ErrNotFound = errors.New("expense not found")
)

// Sort orders accepted by List. Anything else falls back to SortDateDesc.
const (
	SortDateDesc = "date_desc"
	SortDateAsc  = "date_asc"
)

// Filter narrows List and SummarizeByCategory. Empty fields match all rows.
type Filter struct {
	Category string
	User     string
}

// CategorySummary is one row of the per-category aggregation.
type CategorySummary struct {
	Category   string
	TotalMinor int64
	Count      int64
}

// Repository is a SQLite-backed ledger store.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the ledger database at dbPath and
// applies pending migrations before returning.
func NewRepository(dbPath string) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single connection avoids SQLITE_BUSY between pooled writers; the
	// unique constraint, not the serialization, is what guarantees
	// at-most-one row per idempotency key.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Insert persists a validated expense under the given idempotency key and
// returns the stored record with its assigned id and creation timestamp.
//
// Uniqueness is enforced by the UNIQUE constraint itself, not by a prior
// existence check, so two concurrent attempts with the same key cannot
// both commit: the loser observes the constraint violation and gets
// ErrDuplicateKey with nothing written.
func (r *Repository) Insert(ctx context.Context, e core.NewExpense, key string, createdAt time.Time) (core.Expense, error) {
	created := createdAt.UTC().Format(time.RFC3339)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (amount_minor, category, description, date, created_at, idempotency_key, user)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.AmountMinor, e.Category, e.Description, e.Date, created, key, e.User)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Expense{}, ErrDuplicateKey
		}
		return core.Expense{}, fmt.Errorf("insert expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("last insert id: %w", err)
	}

	stored := core.Expense{
		ID:             id,
		AmountMinor:    e.AmountMinor,
		Category:       e.Category,
		Description:    e.Description,
		Date:           e.Date,
		CreatedAt:      created,
		IdempotencyKey: key,
		User:           e.User,
	}

	slog.InfoContext(ctx, "Expense inserted",
		applog.FieldExpenseID, stored.ID,
		applog.FieldAmountMinor, stored.AmountMinor,
		applog.FieldCategory, stored.Category,
		applog.FieldUser, stored.User)

	return stored, nil
}

// FindByKey returns the record stored under the idempotency key, or
// ErrNotFound.
func (r *Repository) FindByKey(ctx context.Context, key string) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, amount_minor, category, description, date, created_at, idempotency_key, user
		FROM expenses
		WHERE idempotency_key = ?`, key)
	return scanExpense(row)
}

// FindByID returns the record with the given id, or ErrNotFound.
func (r *Repository) FindByID(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, amount_minor, category, description, date, created_at, idempotency_key, user
		FROM expenses
		WHERE id = ?`, id)
	return scanExpense(row)
}

// List returns the filtered records in the requested order together with
// the sum of amount_minor over the same set. Both come from a single
// query, so the total always matches the returned items.
//
// date_desc orders by date then creation order descending (the most
// recently created record wins ties on the same date); date_asc is the
// exact reverse on both keys.
func (r *Repository) List(ctx context.Context, f Filter, sort string) ([]core.Expense, int64, error) {
	where, args := buildFilter(f.Category, f.User)

	order := "date DESC, id DESC"
	if sort == SortDateAsc {
		order = "date ASC, id ASC"
	}

	query := `
		SELECT id, amount_minor, category, description, date, created_at, idempotency_key, user
		FROM expenses` + where + `
		ORDER BY ` + order

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var (
		items []core.Expense
		total int64
	)
	for rows.Next() {
		var e core.Expense
		if err := rows.Scan(&e.ID, &e.AmountMinor, &e.Category, &e.Description,
			&e.Date, &e.CreatedAt, &e.IdempotencyKey, &e.User); err != nil {
			return nil, 0, fmt.Errorf("scan expense: %w", err)
		}
		items = append(items, e)
		total += e.AmountMinor
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate expenses: %w", err)
	}

	return items, total, nil
}

// SummarizeByCategory aggregates the (optionally user-filtered) ledger
// per category, ordered by total descending with the category name as a
// stable tiebreak, and returns the grand total across all categories.
func (r *Repository) SummarizeByCategory(ctx context.Context, user string) ([]CategorySummary, int64, error) {
	where, args := buildFilter("", user)

	query := `
		SELECT category, SUM(amount_minor), COUNT(*)
		FROM expenses` + where + `
		GROUP BY category
		ORDER BY SUM(amount_minor) DESC, category ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("summarize by category: %w", err)
	}
	defer rows.Close()

	var (
		summaries []CategorySummary
		grand     int64
	)
	for rows.Next() {
		var s CategorySummary
		if err := rows.Scan(&s.Category, &s.TotalMinor, &s.Count); err != nil {
			return nil, 0, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
		grand += s.TotalMinor
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate summaries: %w", err)
	}

	return summaries, grand, nil
}

// DistinctUsers returns the deduplicated non-empty user labels in
// ascending lexicographic order. Rows migrated from the pre-user schema
// carry an empty label and are skipped.
func (r *Repository) DistinctUsers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user
		FROM expenses
		WHERE TRIM(user) <> ''
		ORDER BY user ASC`)
	if err != nil {
		return nil, fmt.Errorf("distinct users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func scanExpense(row *sql.Row) (core.Expense, error) {
	var e core.Expense
	err := row.Scan(&e.ID, &e.AmountMinor, &e.Category, &e.Description,
		&e.Date, &e.CreatedAt, &e.IdempotencyKey, &e.User)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	return e, nil
}

func buildFilter(category, user string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if user != "" {
		conds = append(conds, "user = ?")
		args = append(args, user)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// dsn builds the connection string with the pragmas the shared database
// file needs: WAL so the API server and the audit worker can read while
// the other writes, and a busy timeout so brief lock contention between
// the two processes waits instead of failing with SQLITE_BUSY.
func dsn(dbPath string) string {
	return "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
