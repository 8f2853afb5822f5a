package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlib/circulation-server/internal/catalog"
	"github.com/circlib/circulation-server/internal/checkpoint"
	"github.com/circlib/circulation-server/internal/clock"
	"github.com/circlib/circulation-server/internal/coverage"
	"github.com/circlib/circulation-server/internal/monitor"
	"github.com/circlib/circulation-server/internal/pool"
	"github.com/circlib/circulation-server/internal/runner"
	"github.com/circlib/circulation-server/internal/vendor"
)

type staticFeed struct {
	page vendor.Page
	err  error
}

func (f staticFeed) FetchChanges(context.Context, string) (vendor.Page, error) {
	return f.page, f.err
}

func (f staticFeed) SelfTest(context.Context) error { return f.err }

type testServer struct {
	mux         http.Handler
	checkpoints checkpoint.Store
	catalog     catalog.Store
	pools       pool.Store
	ledger      coverage.Ledger
	circulation *pool.Service
	clk         *clock.Fixed
}

func newTestServer(t *testing.T, feed vendor.Feed) *testServer {
	t.Helper()

	ts := &testServer{
		checkpoints: checkpoint.NewMemoryStore(),
		catalog:     catalog.NewMemoryStore(),
		pools:       pool.NewMemoryStore(),
		ledger:      coverage.NewMemoryLedger(),
		clk:         clock.NewFixed(time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)),
	}

	policy := pool.Policy{LoanPeriod: 21 * 24 * time.Hour, ReservationWindow: 72 * time.Hour}
	ts.circulation = pool.NewService(ts.pools, ts.clk,
		pool.PolicyResolverFunc(func(string) pool.Policy { return policy }), nil)

	m := monitor.New("main", feed, ts.checkpoints, ts.catalog, ts.pools,
		ts.ledger, ts.clk)
	monitors := map[string]*monitor.Monitor{"main": m}
	syncJobs := map[string]runner.Job{"main": runner.NewMonitorJob(m, nil)}

	routes := NewRoutes(monitors, syncJobs, runner.NewRunner(),
		ts.checkpoints, ts.catalog, ts.ledger, ts.circulation, ts.clk,
		BuildInfo{Version: "test", Commit: "abc", BuildDate: "2026-03-01"})
	ts.mux = NewServer(routes)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthAndVersion(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{})

	rec := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	build := decode[BuildInfo](t, rec)
	assert.Equal(t, "test", build.Version)
}

func TestGetCheckpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{})

	rec := ts.do(t, http.MethodGet, "/collections/main/checkpoint", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, ts.checkpoints.Advance(context.Background(),
		monitor.Kind, "main", "42", ts.clk.Now()))

	rec = ts.do(t, http.MethodGet, "/collections/main/checkpoint", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cp := decode[CheckpointResponse](t, rec)
	assert.Equal(t, monitor.Kind, cp.MonitorKind)
	assert.Equal(t, "main", cp.Collection)
	assert.Equal(t, "42", cp.Cursor)
}

func TestListCollections(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{})
	require.NoError(t, ts.checkpoints.Advance(context.Background(),
		monitor.Kind, "main", "7", ts.clk.Now()))

	rec := ts.do(t, http.MethodGet, "/collections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	statuses := decode[[]CollectionStatus](t, rec)
	require.Len(t, statuses, 1)
	assert.Equal(t, "main", statuses[0].Collection)
	assert.Equal(t, "7", statuses[0].Cursor)
	require.NotNil(t, statuses[0].LastSuccessAt)
}

func TestResetCheckpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{})
	require.NoError(t, ts.checkpoints.Advance(context.Background(),
		monitor.Kind, "main", "42", ts.clk.Now()))

	rec := ts.do(t, http.MethodDelete, "/collections/main/checkpoint", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// The checkpoint is gone, so the next sync starts from scratch.
	rec = ts.do(t, http.MethodGet, "/collections/main/checkpoint", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/collections/unknown/checkpoint", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForceCoverageRefresh(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{})
	ctx := context.Background()

	require.NoError(t, ts.ledger.Register(ctx, "b1", "summary", ts.clk.Now()))
	require.NoError(t, ts.ledger.Update(ctx, coverage.Record{
		Identifier:      "b1",
		CoverageType:    "summary",
		Status:          coverage.StatusPermanentFailure,
		AttemptCount:    3,
		ExceptionDetail: "vendor rejected identifier",
		UpdatedAt:       ts.clk.Now(),
	}))

	rec := ts.do(t, http.MethodPost, "/coverage/summary/refresh",
		refreshRequest{Identifier: "b1"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	record, err := ts.ledger.Get(ctx, "b1", "summary")
	require.NoError(t, err)
	assert.Equal(t, coverage.StatusPending, record.Status)
	assert.Zero(t, record.AttemptCount)

	// Unknown records and missing identifiers are rejected.
	rec = ts.do(t, http.MethodPost, "/coverage/summary/refresh",
		refreshRequest{Identifier: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/coverage/summary/refresh", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSync(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{page: vendor.Page{Items: []vendor.ChangeItem{
		{Identifier: "b1", Title: "First", CopiesOwned: 2},
	}}})

	rec := ts.do(t, http.MethodPost, "/collections/main/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[RunResponse](t, rec)
	assert.Equal(t, runner.StatusSuccess, run.Status)
	assert.Equal(t, 1, run.ItemsApplied)

	rec = ts.do(t, http.MethodPost, "/collections/unknown/sync", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelfTest(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{})
	rec := ts.do(t, http.MethodPost, "/collections/main/selftest", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	broken := newTestServer(t, staticFeed{err: vendor.Permanent(assert.AnError)})
	rec = broken.do(t, http.MethodPost, "/collections/main/selftest", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetTitle(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{page: vendor.Page{Items: []vendor.ChangeItem{
		{Identifier: "b1", Title: "First", Author: "Someone", CopiesOwned: 2,
			UpdatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
	}}})

	rec := ts.do(t, http.MethodGet, "/collections/main/titles/b1/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.do(t, http.MethodPost, "/collections/main/sync", nil)

	rec = ts.do(t, http.MethodGet, "/collections/main/titles/b1/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	title := decode[TitleResponse](t, rec)
	assert.Equal(t, "First", title.Title)
	assert.Equal(t, 2, title.CopiesOwned)
	assert.Equal(t, 2, title.CopiesAvailable)
	assert.Zero(t, title.ActiveLoans)
}

func TestCirculationFlow(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, staticFeed{page: vendor.Page{Items: []vendor.ChangeItem{
		{Identifier: "b1", Title: "First", CopiesOwned: 1},
	}}})
	ts.do(t, http.MethodPost, "/collections/main/sync", nil)

	base := "/collections/main/titles/b1"

	// patron-a borrows the only copy.
	rec := ts.do(t, http.MethodPost, base+"/loans", patronRequest{PatronID: "patron-a"})
	require.Equal(t, http.StatusCreated, rec.Code)
	loan := decode[LoanResponse](t, rec)
	assert.Equal(t, "patron-a", loan.PatronID)
	assert.Equal(t, ts.clk.Now().Add(21*24*time.Hour), loan.ExpiresAt)

	// Double-borrow and empty-shelf cases.
	rec = ts.do(t, http.MethodPost, base+"/loans", patronRequest{PatronID: "patron-a"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = ts.do(t, http.MethodPost, base+"/loans", patronRequest{PatronID: "patron-b"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// patron-b queues a hold instead.
	rec = ts.do(t, http.MethodPost, base+"/holds", patronRequest{PatronID: "patron-b"})
	require.Equal(t, http.StatusCreated, rec.Code)
	hold := decode[HoldResponse](t, rec)
	assert.Equal(t, 1, hold.Position)
	assert.Nil(t, hold.ReservedAt)

	// Converting before promotion is rejected.
	rec = ts.do(t, http.MethodPost, base+"/holds/patron-b/convert", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// The returned copy is earmarked for patron-b, who then converts.
	rec = ts.do(t, http.MethodDelete, base+"/loans/patron-a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodPost, base+"/holds/patron-b/convert", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	loan = decode[LoanResponse](t, rec)
	assert.Equal(t, "patron-b", loan.PatronID)

	// Cleanup paths.
	rec = ts.do(t, http.MethodDelete, base+"/loans/patron-b", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, base+"/holds/patron-b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unknown titles map to 404.
	rec = ts.do(t, http.MethodPost, "/collections/main/titles/ghost/loans",
		patronRequest{PatronID: "patron-a"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Missing patron_id is a bad request.
	rec = ts.do(t, http.MethodPost, base+"/loans", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
