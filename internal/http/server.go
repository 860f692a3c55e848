// Package http exposes the expense ledger over a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"kharcha/internal/cache"
	"kharcha/internal/services"
)

// Pinger reports whether the backing store is reachable. Used by the
// readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	ingest      *services.IngestService
	query       *services.QueryService
	pinger      Pinger
	rateLimiter *rateLimiter

	// Read-path response caches, purged on every first-time creation
	listCache    *cache.LRU[listResponse]
	summaryCache *cache.LRU[summaryResponse]
	usersCache   *cache.LRU[usersResponse]

	cacheManager *cache.Manager
	shutdownOnce sync.Once
}

// NewServer configures routes and caches, returning a ready-to-run http.Server.
func NewServer(addr string, ingest *services.IngestService, query *services.QueryService, pinger Pinger, cacheTTL time.Duration) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ingest:       ingest,
		query:        query,
		pinger:       pinger,
		rateLimiter:  newRateLimiter(),
		listCache:    cache.NewLRU[listResponse](200, cacheTTL),
		summaryCache: cache.NewLRU[summaryResponse](100, cacheTTL),
		usersCache:   cache.NewLRU[usersResponse](10, cacheTTL),
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(s.listCache)
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.Register(s.usersCache)
	s.cacheManager.Start(10 * time.Minute)

	mux.HandleFunc("/expenses", s.withMiddleware(s.handleExpenses))
	mux.HandleFunc("/expenses/summary", s.withMiddleware(s.handleSummary))
	mux.HandleFunc("/users", s.withMiddleware(s.handleUsers))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	return s
}

// handleExpenses dispatches the collection endpoint by method.
func (s *Server) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateExpense(w, r)
	case http.MethodGet:
		s.handleListExpenses(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "database unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// purgeReadCaches drops all cached read responses after a write.
func (s *Server) purgeReadCaches() {
	s.listCache.Purge()
	s.summaryCache.Purge()
	s.usersCache.Purge()
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
