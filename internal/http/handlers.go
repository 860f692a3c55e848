package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"kharcha/internal/core"
	"kharcha/internal/services"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type expenseResponse struct {
	ID          int64  `json:"id"`
	AmountMinor int64  `json:"amount_minor"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Date        string `json:"date"`
	CreatedAt   string `json:"created_at"`
}

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		AmountMinor: e.AmountMinor,
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	}
}

type listResponse struct {
	Items      []expenseResponse `json:"items"`
	Count      int               `json:"count"`
	TotalMinor int64             `json:"total_minor"`
}

type categorySummaryResponse struct {
	Category   string `json:"category"`
	TotalMinor int64  `json:"total_minor"`
	Count      int64  `json:"count"`
}

type summaryResponse struct {
	Categories      []categorySummaryResponse `json:"categories"`
	GrandTotalMinor int64                     `json:"grand_total_minor"`
}

type usersResponse struct {
	Users []string `json:"users"`
}

// handleCreateExpense accepts one submission. The Idempotency-Key header
// is checked before the body is read so a keyless request never touches
// validation or storage.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, codeMissingIdempotencyKey, "Idempotency-Key header is required")
		return
	}

	var body map[string]any
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, codeValidationError, "Request body must be a JSON object")
		return
	}

	outcome, err := s.ingest.Ingest(r.Context(), key, body)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}

	if !outcome.Replayed {
		// A replay changes nothing, so cached reads stay valid
		s.purgeReadCaches()
	}

	status := http.StatusCreated
	if outcome.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toExpenseResponse(outcome.Expense))
}

func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *services.ValidationError
	switch {
	case errors.Is(err, services.ErrMissingIdempotencyKey):
		writeError(w, http.StatusBadRequest, codeMissingIdempotencyKey, "Idempotency-Key header is required")
	case errors.As(err, &verr):
		writeFieldErrors(w, verr.Fields)
	default:
		slog.ErrorContext(r.Context(), "Expense ingestion failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := services.ListRequest{
		Category: q.Get("category"),
		User:     q.Get("user"),
		Sort:     q.Get("sort"),
	}

	key := listCacheKey(req)
	if cached, found := s.listCache.Get(key); found {
		slog.DebugContext(r.Context(), "List cache hit", "key", key)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	result, err := s.query.List(r.Context(), req)
	if err != nil {
		slog.ErrorContext(r.Context(), "Expense listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	resp := listResponse{
		Items:      make([]expenseResponse, 0, len(result.Items)),
		Count:      result.Count,
		TotalMinor: result.TotalMinor,
	}
	for _, e := range result.Items {
		resp.Items = append(resp.Items, toExpenseResponse(e))
	}

	s.listCache.Set(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if cached, found := s.summaryCache.Get(user); found {
		slog.DebugContext(r.Context(), "Summary cache hit", "user", user)
		writeJSON(w, http.StatusOK, cached)
		return
	}

	summary, err := s.query.Summarize(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Expense summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	resp := summaryResponse{
		Categories:      make([]categorySummaryResponse, 0, len(summary.Categories)),
		GrandTotalMinor: summary.GrandTotalMinor,
	}
	for _, c := range summary.Categories {
		resp.Categories = append(resp.Categories, categorySummaryResponse{
			Category:   c.Category,
			TotalMinor: c.TotalMinor,
			Count:      c.Count,
		})
	}

	s.summaryCache.Set(user, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
		return
	}

	const key = "all"
	if cached, found := s.usersCache.Get(key); found {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	users, err := s.query.Users(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "User listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
		return
	}

	if users == nil {
		users = []string{}
	}
	resp := usersResponse{Users: users}
	s.usersCache.Set(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

// listCacheKey joins the normalized list parameters with a separator that
// cannot appear in any of them after trimming.
func listCacheKey(req services.ListRequest) string {
	return strings.TrimSpace(req.Category) + "\x1f" +
		strings.TrimSpace(req.User) + "\x1f" +
		services.NormalizeSort(req.Sort)
}
