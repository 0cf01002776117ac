package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/calibrate"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
)

// ─── Fakes ──────────────────────────────────────────────────

type fakeStore struct {
	mu          sync.Mutex
	reports     map[string]*model.StoredReport
	calibration []cardinality.Entry
	lastFilter  *model.ReportFilter
	err         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{reports: map[string]*model.StoredReport{}}
}

func (f *fakeStore) InsertReport(_ context.Context, rec *model.StoredReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reports[rec.ID] = rec
	return nil
}

func (f *fakeStore) GetReport(_ context.Context, id string) (*model.StoredReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[id], f.err
}

func (f *fakeStore) ListReports(_ context.Context, filter *model.ReportFilter) ([]*model.StoredReport, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	out := []*model.StoredReport{}
	for _, r := range f.reports {
		out = append(out, r)
	}
	return out, len(out), f.err
}

func (f *fakeStore) Stats(_ context.Context, filter *model.ReportFilter) (*model.ReportStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	return &model.ReportStats{Total: len(f.reports)}, f.err
}

func (f *fakeStore) SaveCalibration(_ context.Context, entries []cardinality.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calibration = entries
	return f.err
}

type fixedCalibrator struct {
	counts map[cardinality.Key]float64
}

func (c fixedCalibrator) Calibrate(_ context.Context, edges []calibrate.Edge) *calibrate.Result {
	res := &calibrate.Result{}
	for _, e := range edges {
		if n, ok := c.counts[e.Key]; ok {
			res.Entries = append(res.Entries, cardinality.Entry{Key: e.Key, Count: n, Calibrated: true, MeasuredAt: time.Now()})
			continue
		}
		res.Entries = append(res.Entries, cardinality.Entry{Key: e.Key})
		res.Errors = append(res.Errors, &calibrate.CalibrationError{Edge: e.Key, Err: errors.New("timeout")})
	}
	return res
}

// ─── Helpers ────────────────────────────────────────────────

func newTestServer(t *testing.T, opts Options) (*Server, http.Handler) {
	t.Helper()
	if opts.Analyzers == nil {
		a := analyzer.New(analyzer.Options{Gate: budget.Gate{Ceiling: 20000}},
			observability.NewTestMetrics(), slog.New(slog.NewTextHandler(io.Discard, nil)))
		opts.Analyzers = analyzer.NewHolder(a)
	}
	s := New(opts, observability.NewTestMetrics(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s, s.Routes()
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func querySource(text string) query.Source {
	return query.Source{Name: "q.graphql", Text: text}
}

const scenarioA = `{ site_list(limit:10){ devices(limit:20){ interfaces(limit:50){ name } } } }`

// ─── Analyze ────────────────────────────────────────────────

func TestAnalyze_JSON(t *testing.T) {
	store := newFakeStore()
	_, h := newTestServer(t, Options{Store: store})

	body, _ := json.Marshal(model.Submission{Name: "a.graphql", Query: scenarioA})
	rec := do(t, h, http.MethodPost, "/analyze", "application/json", string(body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.StoredReport](t, rec)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, Source, got.Source)
	assert.Equal(t, int64(10000), got.Report.Score)
	assert.Equal(t, model.VerdictPass, got.Report.Verdict)
	assert.Equal(t, got.ID, rec.Header().Get("X-Report-Id"))
	assert.Equal(t, "PASS", rec.Header().Get("X-Verdict"))

	stored, err := store.GetReport(context.Background(), got.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "a.graphql", stored.Report.QueryID)
}

func TestAnalyze_RawGraphQLWithBudget(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := do(t, h, http.MethodPost, "/analyze?budget=dashboard&name=dash", "application/graphql", scenarioA)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.StoredReport](t, rec)
	assert.Equal(t, int64(50), got.Report.Ceiling)
	assert.Equal(t, model.VerdictFail, got.Report.Verdict)
	assert.Equal(t, "dash", got.Report.QueryID)
}

func TestAnalyze_TextFormat(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := do(t, h, http.MethodPost, "/analyze?format=text&fail_on_warning=true", "application/graphql", `{ site_list { name } }`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "FAIL")
	assert.Contains(t, rec.Body.String(), "UnboundedList")
}

func TestAnalyze_ParseError(t *testing.T) {
	_, h := newTestServer(t, Options{})

	rec := do(t, h, http.MethodPost, "/analyze", "application/graphql", "{ site_list(limit: 1) {\n  name\n")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Contains(t, body["error"], "parse error")
	assert.NotZero(t, body["line"])
}

func TestAnalyze_BadRequests(t *testing.T) {
	_, h := newTestServer(t, Options{})

	tests := []struct {
		name, target, contentType, body string
	}{
		{"bad json", "/analyze", "application/json", `{"query":`},
		{"unknown budget", "/analyze", "application/json", `{"query":"{ a_list(limit: 1) { id } }","budget":"nightly"}`},
		{"bad format", "/analyze?format=xml", "application/json", `{"query":"{ a }"}`},
		{"bad fail_on_warning", "/analyze?fail_on_warning=maybe", "application/graphql", `{ a }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.target, tt.contentType, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[map[string]any](t, rec)["error"])
		})
	}
}

func TestAnalyze_StoreFailureStillAnswers(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("db down")
	_, h := newTestServer(t, Options{Store: store})

	rec := do(t, h, http.MethodPost, "/analyze", "application/graphql", scenarioA)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ─── Reports ────────────────────────────────────────────────

func TestReports_NoStore(t *testing.T) {
	_, h := newTestServer(t, Options{})

	for _, target := range []string{"/reports", "/reports/stats", "/reports/abc"} {
		rec := do(t, h, http.MethodGet, target, "", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestReports_GetAndList(t *testing.T) {
	store := newFakeStore()
	_, h := newTestServer(t, Options{Store: store})

	created := decode[model.StoredReport](t, do(t, h, http.MethodPost, "/analyze", "application/graphql", scenarioA))

	rec := do(t, h, http.MethodGet, "/reports/"+created.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[model.StoredReport](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/reports/"+created.ID+"?format=yaml", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "verdict: PASS")

	rec = do(t, h, http.MethodGet, "/reports/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/reports?verdict=pass,warn&min_score=10&sort_by=score&sort_order=asc&limit=900", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Reports    []*model.StoredReport `json:"reports"`
		TotalCount int                   `json:"total_count"`
	}](t, rec)
	assert.Equal(t, 1, list.TotalCount)
	assert.Equal(t, []model.Verdict{model.VerdictPass, model.VerdictWarn}, store.lastFilter.Verdicts)
	assert.Equal(t, maxListLimit, *store.lastFilter.Limit)
	assert.Equal(t, model.SortFieldScore, *store.lastFilter.SortBy)

	rec = do(t, h, http.MethodGet, "/reports/stats?since=2026-01-01T00:00:00Z", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[model.ReportStats](t, rec).Total)
	require.NotNil(t, store.lastFilter.Since)
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		query string
		ok    bool
	}{
		{"", true},
		{"verdict=FAIL&verdict=warn", true},
		{"verdict=maybe", false},
		{"min_score=abc", false},
		{"since=yesterday", false},
		{"until=2026-10-19T00:00:00Z", true},
		{"sort_by=name", false},
		{"sort_order=sideways", false},
		{"limit=0", false},
		{"offset=-1", false},
		{"limit=10&offset=20", true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/reports?"+tt.query, nil)
			f, err := parseFilter(req.URL.Query())
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, f.Limit)
		})
	}
}

// ─── Calibration ────────────────────────────────────────────

func TestCalibration_ImportExport(t *testing.T) {
	store := newFakeStore()
	s, h := newTestServer(t, Options{Store: store})

	snapshot := `{"version":1,"generated_at":"2026-10-19T00:00:00Z","edges":{"Site.devices":{"count":120,"confidence":1,"measured_at":"2026-10-19T00:00:00Z"}}}`
	rec := do(t, h, http.MethodPut, "/calibration", "application/json", snapshot)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[map[string]int](t, rec)["edges"])
	assert.Len(t, store.calibration, 1)

	est := s.analyzers.Load().Model().Lookup("Site", "devices", true)
	assert.Equal(t, 120, est.Value)
	assert.True(t, est.Calibrated)

	rec = do(t, h, http.MethodGet, "/calibration", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries, err := cardinality.Import(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.InDelta(t, 120.0, entries[0].Count, 1e-9)

	rec = do(t, h, http.MethodPut, "/calibration", "application/json", `{"version":9,"edges":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalibrate_Endpoint(t *testing.T) {
	store := newFakeStore()
	cal := fixedCalibrator{counts: map[cardinality.Key]float64{
		{ParentType: "Site", Field: "devices"}: 120,
	}}
	s, h := newTestServer(t, Options{Store: store, Calibrator: cal})

	rec := do(t, h, http.MethodPost, "/calibrate", "application/json",
		`{"queries":[{"query":"{ site_list(limit: 10) { devices { name } } }"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.InDelta(t, 1, body["edges"], 0)
	assert.Len(t, body["warnings"], 1, "site_list has no calibrated count")
	assert.Len(t, store.calibration, 1)

	r, err := s.analyzers.Load().Analyze(querySource(`{ site_list(limit: 10) { devices { name } } }`))
	require.NoError(t, err)
	assert.Equal(t, int64(1200), r.Score)
}

func TestCalibrate_Unavailable(t *testing.T) {
	_, h := newTestServer(t, Options{})
	rec := do(t, h, http.MethodPost, "/calibrate", "application/json", `{"queries":[]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCalibrate_BadRequests(t *testing.T) {
	_, h := newTestServer(t, Options{Calibrator: fixedCalibrator{}})

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/calibrate", "application/json", `{"queries":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/calibrate", "application/json", `nope`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodPost, "/calibrate", "application/json", `{"queries":[{"query":"{ broken("}]}`).Code)
}

// ─── Health ─────────────────────────────────────────────────

type failingCheck struct{}

func (failingCheck) CheckReadiness(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestServer(t, Options{})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "", "").Code)

	readiness := &observability.Readiness{}
	readiness.Add("database", failingCheck{})
	_, h = newTestServer(t, Options{Readiness: readiness})
	rec := do(t, h, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database: connection refused")
}
