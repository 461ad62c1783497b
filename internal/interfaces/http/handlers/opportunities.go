package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sawpanic/shortrun/internal/persistence"
	"github.com/sawpanic/shortrun/internal/score/shorting"
)

// Positions handles GET /positions
func (h *Handlers) Positions(w http.ResponseWriter, r *http.Request) {
	positions := h.deps.Ledger.Positions()
	var notional float64
	for _, p := range positions {
		notional += p.Notional()
	}

	h.writeJSON(w, http.StatusOK, PositionsResponse{
		Positions:          positions,
		Count:              len(positions),
		TotalShortNotional: notional,
		Config:             h.deps.Ledger.Config(),
		Timestamp:          h.now().UTC(),
	})
}

// Opportunities handles GET /opportunities?min_decline=&top=
func (h *Handlers) Opportunities(w http.ResponseWriter, r *http.Request) {
	if h.deps.Source == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "no_market_source", "No market data source configured")
		return
	}

	minDecline := h.deps.MinExpectedDecline
	top := h.deps.Top

	if s := r.URL.Query().Get("min_decline"); s != "" {
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil || parsed < 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_min_decline", "min_decline must be a non-negative number")
			return
		}
		minDecline = parsed
	}
	if s := r.URL.Query().Get("top"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 0 || parsed > 100 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_top", "top must be an integer between 0 and 100")
			return
		}
		top = parsed
	}

	records, err := h.deps.Source.MarketData(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusBadGateway, "market_data_unavailable", err.Error())
		return
	}
	rates, err := h.deps.Source.FundingRates(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusBadGateway, "funding_rates_unavailable", err.Error())
		return
	}

	opportunities := shorting.Top(shorting.FilterByDecline(shorting.Score(records, rates), minDecline), top)

	h.writeJSON(w, http.StatusOK, OpportunitiesResponse{
		Opportunities: opportunities,
		Count:         len(opportunities),
		MinDecline:    minDecline,
		Generated:     h.now().UTC(),
	})
}

// Decisions handles GET /decisions?limit=&since=&until=. Without a window it
// returns the newest decisions first; with since or until (RFC3339) it
// returns the window oldest first, truncated to limit.
func (h *Handlers) Decisions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Decisions == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "persistence_disabled", "Decision persistence is not enabled")
		return
	}

	q := r.URL.Query()
	limit := 20
	if s := q.Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	var tr persistence.TimeRange
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"since", &tr.From}, {"until", &tr.To}} {
		s := q.Get(bound.name)
		if s == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_"+bound.name, bound.name+" must be an RFC3339 timestamp")
			return
		}
		*bound.dst = parsed
	}
	if !tr.From.IsZero() && !tr.To.IsZero() && tr.To.Before(tr.From) {
		h.writeError(w, r, http.StatusBadRequest, "invalid_range", "until must not be before since")
		return
	}

	var (
		decisions []persistence.Decision
		err       error
	)
	if tr.From.IsZero() && tr.To.IsZero() {
		decisions, err = h.deps.Decisions.Latest(r.Context(), limit)
	} else {
		decisions, err = h.deps.Decisions.ListRange(r.Context(), tr)
		if len(decisions) > limit {
			decisions = decisions[:limit]
		}
	}
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, DecisionsResponse{Decisions: decisions, Count: len(decisions)})
}

// Decision handles GET /decisions/{id}
func (h *Handlers) Decision(w http.ResponseWriter, r *http.Request) {
	if h.deps.Decisions == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "persistence_disabled", "Decision persistence is not enabled")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return
	}

	decision, err := h.deps.Decisions.Get(r.Context(), id)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "decision_not_found", "No decision with id "+id.String())
	case err != nil:
		h.writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
	default:
		h.writeJSON(w, http.StatusOK, decision)
	}
}
