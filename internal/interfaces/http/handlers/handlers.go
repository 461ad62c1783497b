package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sawpanic/shortrun/internal/application/cycle"
	"github.com/sawpanic/shortrun/internal/ledger"
	"github.com/sawpanic/shortrun/internal/market"
	"github.com/sawpanic/shortrun/internal/persistence"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID stores the request id on ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id stored by WithRequestID, or "unknown"
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// RunnerStatus is implemented by cycle.Runner
type RunnerStatus interface {
	Status() cycle.Status
}

// Deps are the read-only views the API serves. Ledger is required.
type Deps struct {
	Ledger    *ledger.Ledger
	Source    market.Source
	Decisions persistence.DecisionRepo
	DBHealth  persistence.RepositoryHealth
	Runner    RunnerStatus
	Breaker   func() string

	MinExpectedDecline float64
	Top                int
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	deps Deps
	now  func() time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, now: time.Now}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: h.now().UTC(),
	})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}
