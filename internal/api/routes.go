package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/circlib/circulation-server/internal/catalog"
	"github.com/circlib/circulation-server/internal/checkpoint"
	"github.com/circlib/circulation-server/internal/clock"
	"github.com/circlib/circulation-server/internal/coverage"
	"github.com/circlib/circulation-server/internal/monitor"
	"github.com/circlib/circulation-server/internal/pool"
	"github.com/circlib/circulation-server/internal/runner"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CollectionStatus summarizes one collection's sync state.
type CollectionStatus struct {
	Collection    string     `json:"collection"`
	Cursor        string     `json:"cursor,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// CheckpointResponse is the stored checkpoint for one collection.
type CheckpointResponse struct {
	MonitorKind   string    `json:"monitor_kind"`
	Collection    string    `json:"collection"`
	Cursor        string    `json:"cursor"`
	LastSuccessAt time.Time `json:"last_success_at"`
}

// RunResponse reports the outcome of a manually triggered job.
type RunResponse struct {
	Status       runner.Status `json:"status"`
	ItemsApplied int           `json:"items_applied"`
	ItemsFailed  int           `json:"items_failed"`
	Message      string        `json:"message,omitempty"`
}

// TitleResponse combines a catalog entry with its pool snapshot.
type TitleResponse struct {
	Identifier      string    `json:"identifier"`
	Collection      string    `json:"collection"`
	Title           string    `json:"title"`
	Author          string    `json:"author,omitempty"`
	Medium          string    `json:"medium,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
	CopiesOwned     int       `json:"copies_owned"`
	CopiesAvailable int       `json:"copies_available"`
	ActiveLoans     int       `json:"active_loans"`
	QueuedHolds     int       `json:"queued_holds"`
}

// LoanResponse is an active loan.
type LoanResponse struct {
	ID        string    `json:"id"`
	PatronID  string    `json:"patron_id"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HoldResponse is a queued or reserved hold.
type HoldResponse struct {
	ID                   string     `json:"id"`
	PatronID             string     `json:"patron_id"`
	Position             int        `json:"position"`
	PlacedAt             time.Time  `json:"placed_at"`
	ReservedAt           *time.Time `json:"reserved_at,omitempty"`
	ReservationExpiresAt *time.Time `json:"reservation_expires_at,omitempty"`
}

// patronRequest is the body of loan and hold creation requests.
type patronRequest struct {
	PatronID string `json:"patron_id"`
}

// refreshRequest is the body of a forced coverage refresh.
type refreshRequest struct {
	Identifier string `json:"identifier"`
}

// Routes defines the routes for the circulation API with dependency injection
type Routes struct {
	monitors    map[string]*monitor.Monitor
	syncJobs    map[string]runner.Job
	run         *runner.Runner
	checkpoints checkpoint.Store
	catalog     catalog.Store
	ledger      coverage.Ledger
	circulation *pool.Service
	clk         clock.Clock
	build       BuildInfo
}

// NewRoutes creates a new Routes instance with the provided collaborators.
// The monitors and syncJobs maps are keyed by collection ID.
func NewRoutes(
	monitors map[string]*monitor.Monitor,
	syncJobs map[string]runner.Job,
	run *runner.Runner,
	checkpoints checkpoint.Store,
	catalogStore catalog.Store,
	ledger coverage.Ledger,
	circulation *pool.Service,
	clk clock.Clock,
	build BuildInfo,
) *Routes {
	return &Routes{
		monitors:    monitors,
		syncJobs:    syncJobs,
		run:         run,
		checkpoints: checkpoints,
		catalog:     catalogStore,
		ledger:      ledger,
		circulation: circulation,
		clk:         clk,
		build:       build,
	}
}

func (*Routes) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (rr *Routes) version(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, http.StatusOK, rr.build)
}

func (rr *Routes) listCollections(w http.ResponseWriter, r *http.Request) {
	statuses := make([]CollectionStatus, 0, len(rr.monitors))
	for collectionID := range rr.monitors {
		status := CollectionStatus{Collection: collectionID}
		cp, err := rr.checkpoints.Load(r.Context(), monitor.Kind, collectionID)
		if err == nil {
			status.Cursor = cp.Cursor
			status.LastSuccessAt = &cp.LastSuccessAt
		}
		statuses = append(statuses, status)
	}
	rr.writeJSONResponse(w, http.StatusOK, statuses)
}

func (rr *Routes) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection")
	cp, err := rr.checkpoints.Load(r.Context(), monitor.Kind, collectionID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			rr.writeErrorResponse(w, "no checkpoint for collection", http.StatusNotFound)
			return
		}
		slog.Error("Failed to load checkpoint", "collection", collectionID, "error", err)
		rr.writeErrorResponse(w, "failed to load checkpoint", http.StatusInternalServerError)
		return
	}
	rr.writeJSONResponse(w, http.StatusOK, CheckpointResponse{
		MonitorKind:   cp.MonitorKind,
		Collection:    cp.CollectionID,
		Cursor:        cp.Cursor,
		LastSuccessAt: cp.LastSuccessAt,
	})
}

// resetCheckpoint removes a collection's checkpoint so its next run is a
// full resync. This is the operator escape hatch for a poisoned cursor.
func (rr *Routes) resetCheckpoint(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection")
	if _, ok := rr.monitors[collectionID]; !ok {
		rr.writeErrorResponse(w, "unknown collection", http.StatusNotFound)
		return
	}

	if err := rr.checkpoints.Reset(r.Context(), monitor.Kind, collectionID); err != nil {
		slog.Error("Failed to reset checkpoint", "collection", collectionID, "error", err)
		rr.writeErrorResponse(w, "failed to reset checkpoint", http.StatusInternalServerError)
		return
	}
	slog.Info("Checkpoint reset", "collection", collectionID)
	w.WriteHeader(http.StatusNoContent)
}

// forceCoverageRefresh resets one coverage record to pending so the next
// provider run reattempts it, whatever state it reached.
func (rr *Routes) forceCoverageRefresh(w http.ResponseWriter, r *http.Request) {
	coverageType := chi.URLParam(r, "type")

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier == "" {
		rr.writeErrorResponse(w, "identifier is required", http.StatusBadRequest)
		return
	}

	err := rr.ledger.ForceRefresh(r.Context(), req.Identifier, coverageType, rr.clk.Now())
	if err != nil {
		if errors.Is(err, coverage.ErrNotFound) {
			rr.writeErrorResponse(w, "no coverage record for identifier", http.StatusNotFound)
			return
		}
		slog.Error("Failed to force coverage refresh",
			"identifier", req.Identifier,
			"coverage_type", coverageType,
			"error", err)
		rr.writeErrorResponse(w, "failed to force refresh", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rr *Routes) triggerSync(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection")
	job, ok := rr.syncJobs[collectionID]
	if !ok {
		rr.writeErrorResponse(w, "unknown collection", http.StatusNotFound)
		return
	}

	result := rr.run.Run(r.Context(), job)
	status := http.StatusOK
	if result.Status == runner.StatusSkipped {
		status = http.StatusConflict
	}
	rr.writeJSONResponse(w, status, RunResponse{
		Status:       result.Status,
		ItemsApplied: result.ItemsApplied,
		ItemsFailed:  result.ItemsFailed,
		Message:      result.Message,
	})
}

func (rr *Routes) selfTest(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection")
	m, ok := rr.monitors[collectionID]
	if !ok {
		rr.writeErrorResponse(w, "unknown collection", http.StatusNotFound)
		return
	}

	if err := m.SelfTest(r.Context()); err != nil {
		rr.writeJSONResponse(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	rr.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rr *Routes) getTitle(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection")
	identifier := chi.URLParam(r, "identifier")

	entry, err := rr.catalog.Get(r.Context(), collectionID, identifier)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			rr.writeErrorResponse(w, "title not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to load catalog entry", "identifier", identifier, "error", err)
		rr.writeErrorResponse(w, "failed to load title", http.StatusInternalServerError)
		return
	}

	response := TitleResponse{
		Identifier: entry.Identifier,
		Collection: entry.CollectionID,
		Title:      entry.Title,
		Author:     entry.Author,
		Medium:     entry.Medium,
		UpdatedAt:  entry.UpdatedAt,
	}
	p, err := rr.circulation.Store().Get(r.Context(), pool.ID{CollectionID: collectionID, TitleID: identifier})
	if err == nil {
		response.CopiesOwned = p.CopiesOwned
		response.CopiesAvailable = p.CopiesAvailable
		response.ActiveLoans = len(p.Loans)
		response.QueuedHolds = len(p.Holds)
	}
	rr.writeJSONResponse(w, http.StatusOK, response)
}

func (rr *Routes) acquireLoan(w http.ResponseWriter, r *http.Request) {
	id, patronID, ok := rr.circulationRequest(w, r)
	if !ok {
		return
	}

	loan, err := rr.circulation.AcquireLoan(r.Context(), id, patronID)
	if err != nil {
		rr.writeCirculationError(w, err)
		return
	}
	rr.writeJSONResponse(w, http.StatusCreated, loanResponse(loan))
}

func (rr *Routes) releaseLoan(w http.ResponseWriter, r *http.Request) {
	id := poolID(r)
	patronID := chi.URLParam(r, "patron")

	if err := rr.circulation.ReleaseLoan(r.Context(), id, patronID); err != nil {
		rr.writeCirculationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rr *Routes) placeHold(w http.ResponseWriter, r *http.Request) {
	id, patronID, ok := rr.circulationRequest(w, r)
	if !ok {
		return
	}

	hold, err := rr.circulation.PlaceHold(r.Context(), id, patronID)
	if err != nil {
		rr.writeCirculationError(w, err)
		return
	}
	rr.writeJSONResponse(w, http.StatusCreated, holdResponse(hold))
}

func (rr *Routes) convertHold(w http.ResponseWriter, r *http.Request) {
	id := poolID(r)
	patronID := chi.URLParam(r, "patron")

	loan, err := rr.circulation.ConvertHold(r.Context(), id, patronID)
	if err != nil {
		rr.writeCirculationError(w, err)
		return
	}
	rr.writeJSONResponse(w, http.StatusCreated, loanResponse(loan))
}

func (rr *Routes) cancelHold(w http.ResponseWriter, r *http.Request) {
	id := poolID(r)
	patronID := chi.URLParam(r, "patron")

	if err := rr.circulation.CancelHold(r.Context(), id, patronID); err != nil {
		rr.writeCirculationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// circulationRequest extracts the pool ID from the path and the patron ID
// from the request body.
func (rr *Routes) circulationRequest(w http.ResponseWriter, r *http.Request) (pool.ID, string, bool) {
	id := poolID(r)

	var req patronRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PatronID == "" {
		rr.writeErrorResponse(w, "patron_id is required", http.StatusBadRequest)
		return pool.ID{}, "", false
	}
	return id, req.PatronID, true
}

func poolID(r *http.Request) pool.ID {
	return pool.ID{
		CollectionID: chi.URLParam(r, "collection"),
		TitleID:      chi.URLParam(r, "identifier"),
	}
}

func loanResponse(loan pool.Loan) LoanResponse {
	return LoanResponse{
		ID:        loan.ID,
		PatronID:  loan.PatronID,
		StartedAt: loan.StartedAt,
		ExpiresAt: loan.ExpiresAt,
	}
}

func holdResponse(hold pool.Hold) HoldResponse {
	return HoldResponse{
		ID:                   hold.ID,
		PatronID:             hold.PatronID,
		Position:             hold.Position,
		PlacedAt:             hold.PlacedAt,
		ReservedAt:           hold.ReservedAt,
		ReservationExpiresAt: hold.ReservationExpiresAt,
	}
}

// writeCirculationError maps pool errors onto HTTP statuses.
func (rr *Routes) writeCirculationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pool.ErrPoolNotFound),
		errors.Is(err, pool.ErrLoanNotFound),
		errors.Is(err, pool.ErrHoldNotFound):
		rr.writeErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pool.ErrPatronBusy),
		errors.Is(err, pool.ErrConflict):
		rr.writeErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pool.ErrNoAvailableCopy),
		errors.Is(err, pool.ErrHoldNotReserved),
		errors.Is(err, pool.ErrReservationExpired):
		rr.writeErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		slog.Error("Circulation operation failed", "error", err)
		rr.writeErrorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (rr *Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	rr.writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}
