package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/service"
	"github.com/portfolio-ledger/internal/types"
)

func accountIDFromRequest(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	return id, err == nil
}

// handleTriggerSync starts a sync run for the account. The run continues in
// the background; progress is visible on the status endpoint. A trigger
// during a running sync is rejected, the running sync already covers it.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid account id", nil)
		return
	}

	state, err := s.portfolio.GetSyncState(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if state.Status == types.SyncRunning {
		respondServiceError(w, service.ErrSyncInProgress)
		return
	}

	logger := logging.FromContext(r.Context())
	go func() {
		ctx := logging.WithLogger(context.Background(), logger)
		if _, err := s.syncs.SyncAccount(ctx, accountID); err != nil && !errors.Is(err, service.ErrSyncInProgress) {
			logger.WithError(err).WithField("accountId", accountID.String()).Error("Triggered sync failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{
		"accountId": accountID.String(),
		"status":    string(types.SyncRunning),
	})
}

// handleSyncStatus reports the account's sync state and latest run.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid account id", nil)
		return
	}

	state, err := s.portfolio.GetSyncState(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// handleOverview returns the dashboard headline figures.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid account id", nil)
		return
	}

	overview, err := s.portfolio.GetOverview(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, overview)
}

// handleListAssets returns per-asset positions.
func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid account id", nil)
		return
	}

	assets, err := s.portfolio.ListAssets(r.Context(), accountID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"assets": assets})
}

// parseDateParam accepts a date or RFC 3339 timestamp query parameter.
func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// handlePerformance returns the daily value series with risk figures.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid account id", nil)
		return
	}

	from, err := parseDateParam(r, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid from date", nil)
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid to date", nil)
		return
	}

	perf, err := s.portfolio.GetPerformance(r.Context(), accountID, from, to)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, perf)
}

// handleDCA returns the accumulation summary for one asset.
func (s *Server) handleDCA(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid account id", nil)
		return
	}

	asset := mux.Vars(r)["asset"]
	if asset == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "missing asset", nil)
		return
	}

	analysis, err := s.portfolio.GetDCAAnalysis(r.Context(), accountID, asset)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}

// handleFiscalReport returns the realized result for one calendar year. The
// method query parameter switches between fifo and lifo.
func (s *Server) handleFiscalReport(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDFromRequest(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid account id", nil)
		return
	}

	year, err := strconv.Atoi(mux.Vars(r)["year"])
	if err != nil || year < 2000 || year > 2200 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid year", nil)
		return
	}

	method := types.CostBasisMethod(r.URL.Query().Get("method"))

	report, err := s.portfolio.GetFiscalReport(r.Context(), accountID, year, method)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
