package services

import (
	"context"
	"fmt"
	"strings"

	"kharcha/internal/core"
	"kharcha/internal/storage"
)

// QueryStore is the read-only slice of the ledger store used by the
// query service.
type QueryStore interface {
	List(ctx context.Context, f storage.Filter, sort string) ([]core.Expense, int64, error)
	SummarizeByCategory(ctx context.Context, user string) ([]storage.CategorySummary, int64, error)
	DistinctUsers(ctx context.Context) ([]string, error)
}

// QueryService shapes caller-supplied filter and sort parameters into
// ledger store calls. It never mutates anything.
type QueryService struct {
	store QueryStore
}

func NewQueryService(store QueryStore) *QueryService {
	return &QueryService{store: store}
}

// ListRequest carries raw, untrusted filter parameters. Blank values
// mean "no filter"; an unrecognized sort silently becomes date_desc.
type ListRequest struct {
	Category string
	User     string
	Sort     string
}

// ListResult is the filtered listing plus the aggregates computed over
// the same set.
type ListResult struct {
	Items      []core.Expense
	Count      int
	TotalMinor int64
}

// Summary is the per-category aggregation with its grand total.
type Summary struct {
	Categories      []storage.CategorySummary
	GrandTotalMinor int64
}

// NormalizeSort maps any caller-supplied sort key onto one of the two
// orders the store understands. Unknown values fall back to date_desc
// rather than erroring, and never reach the underlying query verbatim.
func NormalizeSort(s string) string {
	if strings.TrimSpace(s) == storage.SortDateAsc {
		return storage.SortDateAsc
	}
	return storage.SortDateDesc
}

// List returns the filtered, ordered expenses with count and total.
func (s *QueryService) List(ctx context.Context, req ListRequest) (ListResult, error) {
	filter := storage.Filter{
		Category: strings.TrimSpace(req.Category),
		User:     strings.TrimSpace(req.User),
	}

	items, total, err := s.store.List(ctx, filter, NormalizeSort(req.Sort))
	if err != nil {
		return ListResult{}, fmt.Errorf("list expenses: %w", err)
	}

	return ListResult{Items: items, Count: len(items), TotalMinor: total}, nil
}

// Summarize aggregates the ledger per category, optionally scoped to one
// user label.
func (s *QueryService) Summarize(ctx context.Context, user string) (Summary, error) {
	categories, grand, err := s.store.SummarizeByCategory(ctx, strings.TrimSpace(user))
	if err != nil {
		return Summary{}, fmt.Errorf("summarize expenses: %w", err)
	}
	return Summary{Categories: categories, GrandTotalMinor: grand}, nil
}

// Users enumerates the distinct user labels present in the ledger.
func (s *QueryService) Users(ctx context.Context) ([]string, error) {
	users, err := s.store.DistinctUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
