package server

import (
	"context"
	"net/http"
	"time"

	"github.com/porticolabs/portico/internal/cache"
	"github.com/porticolabs/portico/internal/clients/aggregate"
	"github.com/porticolabs/portico/internal/common"
	"github.com/porticolabs/portico/internal/models"
	"github.com/porticolabs/portico/internal/views"
)

// envelope is the shared response shape for all portfolio endpoints: the
// projected data plus the cache status flags the dashboard renders from.
// On a failed refresh any previously cached data stays in Data with
// IsError set alongside it.
type envelope struct {
	Data      any       `json:"data"`
	IsLoading bool      `json:"is_loading"`
	IsError   bool      `json:"is_error"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	CacheHit  bool      `json:"cache_hit"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

func newEnvelope(res cache.Result, data any) envelope {
	env := envelope{
		Data:      data,
		IsLoading: res.IsLoading,
		IsError:   res.IsError,
		CacheHit:  res.CacheHit,
		FetchedAt: res.FetchedAt,
	}
	if res.Err != nil {
		env.Error = res.Err.Error()
		env.ErrorKind = errorKind(res.Err)
	}
	return env
}

func errorKind(err error) string {
	switch {
	case aggregate.IsAuthentication(err):
		return "authentication"
	case aggregate.IsValidation(err):
		return "validation"
	case aggregate.IsTransport(err):
		return "transport"
	default:
		return "internal"
	}
}

// errorStatus maps a fetch failure with no usable cached data to an HTTP
// status. With cached data present the response stays 200 regardless.
func errorStatus(err error) int {
	switch {
	case aggregate.IsAuthentication(err):
		return http.StatusUnauthorized
	case aggregate.IsValidation(err):
		return http.StatusBadGateway
	case aggregate.IsTransport(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) keyFromRequest(r *http.Request, id *common.Identity) cache.Key {
	return cache.Key{
		UserID:            id.UserID,
		ForceRefresh:      ParseBoolParam(r, "force_refresh", false),
		IncludeHistorical: ParseBoolParam(r, "include_historical", true),
	}
}

// readAndProject runs a cache read for the request's identity and writes
// the projected view wrapped in the standard envelope.
func (s *Server) readAndProject(w http.ResponseWriter, r *http.Request, project func(*models.CompletePortfolioData) any) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := common.IdentityFromContext(r.Context())
	if id == nil {
		WriteErrorWithCode(w, http.StatusUnauthorized, "Not authenticated", "auth_required")
		return
	}

	key := s.keyFromRequest(r, id)
	res := s.app.Cache.Read(r.Context(), key, id.Token)

	if res.Data == nil && res.Err != nil {
		WriteJSON(w, errorStatus(res.Err), newEnvelope(res, project(nil)))
		return
	}

	WriteJSON(w, http.StatusOK, newEnvelope(res, project(res.Data)))
}

// handleComplete handles GET /api/portfolio/complete.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.readAndProject(w, r, func(d *models.CompletePortfolioData) any { return d })
}

// handleSummary handles GET /api/portfolio/summary.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.readAndProject(w, r, func(d *models.CompletePortfolioData) any { return views.Summary(d) })
}

// handleHoldings handles GET /api/portfolio/holdings.
func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	s.readAndProject(w, r, func(d *models.CompletePortfolioData) any { return views.Holdings(d) })
}

// handleAllocation handles GET /api/portfolio/allocation.
func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	s.readAndProject(w, r, func(d *models.CompletePortfolioData) any { return views.Allocation(d) })
}

// handlePerformance handles GET /api/portfolio/performance.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	s.readAndProject(w, r, func(d *models.CompletePortfolioData) any { return views.Performance(d) })
}

// handleDividends handles GET /api/portfolio/dividends.
func (s *Server) handleDividends(w http.ResponseWriter, r *http.Request) {
	s.readAndProject(w, r, func(d *models.CompletePortfolioData) any { return views.Dividends(d) })
}

// handleTransactions handles GET /api/portfolio/transactions.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	s.readAndProject(w, r, func(d *models.CompletePortfolioData) any { return views.Transactions(d) })
}

// handleMovers handles GET /api/portfolio/movers.
func (s *Server) handleMovers(w http.ResponseWriter, r *http.Request) {
	s.readAndProject(w, r, func(d *models.CompletePortfolioData) any { return views.Movers(d) })
}

// handleRefresh handles POST /api/portfolio/refresh: an unconditional
// re-fetch that ignores the staleness window and asks the upstream to
// bypass its cache too.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := common.IdentityFromContext(r.Context())
	if id == nil {
		WriteErrorWithCode(w, http.StatusUnauthorized, "Not authenticated", "auth_required")
		return
	}

	key := s.keyFromRequest(r, id)
	res := s.app.Cache.ForceRefresh(r.Context(), key, id.Token)

	if res.Data == nil && res.Err != nil {
		WriteJSON(w, errorStatus(res.Err), newEnvelope(res, nil))
		return
	}

	WriteJSON(w, http.StatusOK, newEnvelope(res, res.Data))
}

// handlePrefetch handles POST /api/portfolio/prefetch: a best-effort cache
// warm ahead of an anticipated dashboard load. Always 202; prefetch
// failures never surface to the caller.
func (s *Server) handlePrefetch(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := common.IdentityFromContext(r.Context())
	if id == nil {
		WriteErrorWithCode(w, http.StatusUnauthorized, "Not authenticated", "auth_required")
		return
	}

	// Detached from the request context: the warm-up outlives this response.
	key := s.keyFromRequest(r, id)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.app.Cache.Prefetch(ctx, key, id.Token)
	}()

	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "prefetch started"})
}

// handleInvalidate handles POST /api/portfolio/invalidate: drops every
// cache entry for the calling user. Used on logout so a later session can
// never observe this user's aggregate.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := common.IdentityFromContext(r.Context())
	if id == nil {
		WriteErrorWithCode(w, http.StatusUnauthorized, "Not authenticated", "auth_required")
		return
	}

	dropped := s.app.Cache.Invalidate(id.UserID)
	WriteJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "entries_dropped": dropped})
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.app.StartupTime).String(),
		"version": common.Version,
	})
}

// handleVersion handles GET /api/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.Version,
		"build_time": common.BuildTime,
	})
}

// handleCacheStats handles GET /api/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Cache.Stats())
}
