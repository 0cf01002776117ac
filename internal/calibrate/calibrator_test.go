package calibrate

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cost"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func parse(t *testing.T, text string) *model.QueryDocument {
	t.Helper()
	doc, err := query.NewParser(nil).Parse(query.Source{Text: text})
	require.NoError(t, err)
	return doc
}

// sites renders a site_list response where every site has n devices.
func sites(count, n int) string {
	items := make([]string, count)
	for i := range items {
		devices := make([]string, n)
		for j := range devices {
			devices[j] = `{"id":"1"}`
		}
		items[i] = `{"devices":[` + strings.Join(devices, ",") + `]}`
	}
	return `{"data":{"site_list":[` + strings.Join(items, ",") + `]}}`
}

func newCalibrator(url string, cfg Config) *Calibrator {
	cfg.URL = url
	c := New(cfg, nil, observability.NewTestMetrics(), discard())
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func TestCollectEdges(t *testing.T) {
	a := parse(t, `{ site_list(limit: 10) { devices { interfaces { name } } tenant { name } } }`)
	b := parse(t, `{ device(id: 1) { interfaces { name } } }`)

	edges := CollectEdges(a, b)

	keys := make([]string, len(edges))
	for i, e := range edges {
		keys[i] = e.Key.String()
	}
	assert.Equal(t, []string{"Query.site_list", "Site.devices", "Device.interfaces"}, keys)
	assert.Equal(t, 2, edges[2].Ancestors(), "first occurrence wins")
}

func TestEdge_Query(t *testing.T) {
	doc := parse(t, `{ site_list(limit: 10, filters: {status: "active"}) { devices { interfaces { name } } } }`)
	edges := CollectEdges(doc)
	require.Len(t, edges, 3)

	assert.Equal(t, `query CalibrationProbe { site_list(limit: 1000) { id } }`, edges[0].Query(5, 1000))
	assert.Equal(t, `query CalibrationProbe { site_list(limit: 5) { devices(limit: 5) { interfaces { id } } } }`, edges[2].Query(5, 1000))

	for _, e := range edges {
		_, err := query.NewParser(nil).Parse(query.Source{Text: e.Query(5, 1000)})
		assert.NoError(t, err, "probe must be valid GraphQL")
	}
}

func TestEdge_QueryKeepsLookupArguments(t *testing.T) {
	doc := parse(t, `{ device(id: 7) { interfaces { name } } }`)
	edges := CollectEdges(doc)
	require.Len(t, edges, 1)

	assert.Equal(t, `query CalibrationProbe { device(id: 7) { interfaces { id } } }`, edges[0].Query(10, 1000))
}

func TestEdge_Counts(t *testing.T) {
	doc := parse(t, `{ region_list { sites { devices { name } } } }`)
	edges := CollectEdges(doc)
	require.Len(t, edges, 3)

	body := []byte(`{"data":{"region_list":[
		{"sites":[{"devices":[{"id":1},{"id":2}]},{"devices":[]}]},
		{"sites":[{"devices":[{"id":3},{"id":4},{"id":5},{"id":6}]}]}
	]}}`)
	assert.Equal(t, []float64{2, 0, 4}, edges[2].Counts(body))
	assert.Equal(t, []float64{2}, edges[0].Counts(body))
}

func TestCalibrate_MeasuresAverage(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		var req struct{ Query string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if strings.Contains(req.Query, "devices") {
			_, _ = io.WriteString(w, sites(10, 120))
			return
		}
		_, _ = io.WriteString(w, sites(37, 0))
	}))
	defer srv.Close()

	doc := parse(t, `{ site_list(limit: 10) { devices { name } } }`)
	res := newCalibrator(srv.URL, Config{Token: "secret", SampleSize: 10}).Calibrate(t.Context(), CollectEdges(doc))

	require.Empty(t, res.Errors)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "Token secret", auth.Load())

	root, devices := res.Entries[0], res.Entries[1]
	assert.Equal(t, 37.0, root.Count)
	assert.Equal(t, cardinality.Key{ParentType: "Site", Field: "devices"}, devices.Key)
	assert.Equal(t, 120.0, devices.Count)
	assert.Equal(t, 1.0, devices.Confidence)
	assert.True(t, devices.Calibrated)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), devices.MeasuredAt)

	base := cardinality.NewModel()
	before := cost.NewEvaluator(base).Evaluate(doc).Total
	after := cost.NewEvaluator(base.WithOverrides(res.Entries)).Evaluate(doc).Total
	assert.Equal(t, int64(500), before)
	assert.Equal(t, int64(1200), after)
}

func TestCalibrate_FailuresKeepDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Query string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch {
		case strings.Contains(req.Query, "interfaces"):
			http.Error(w, "boom", http.StatusInternalServerError)
		case strings.Contains(req.Query, "devices"):
			_, _ = io.WriteString(w, `{"errors":[{"message":"permission denied"}]}`)
		default:
			_, _ = io.WriteString(w, sites(3, 0))
		}
	}))
	defer srv.Close()

	doc := parse(t, `{ site_list(limit: 3) { devices(limit: 2) { interfaces(limit: 2) { name } } } }`)
	res := newCalibrator(srv.URL, Config{}).Calibrate(t.Context(), CollectEdges(doc))

	require.Len(t, res.Entries, 3)
	require.Len(t, res.Errors, 2)
	assert.True(t, res.Entries[0].Calibrated)
	assert.False(t, res.Entries[1].Calibrated)
	assert.False(t, res.Entries[2].Calibrated)
	assert.Contains(t, res.Warnings()[0], "Site.devices")
	assert.Contains(t, res.Warnings()[0], "permission denied")
	assert.Contains(t, res.Warnings()[1], "HTTP 500")

	m := cardinality.NewModel().WithOverrides(res.Entries)
	assert.Equal(t, cardinality.DefaultToMany, m.Lookup("Site", "devices", true).Value)
}

func TestCalibrate_ProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	doc := parse(t, `{ site_list(limit: 1) { devices { name } } }`)
	res := newCalibrator(srv.URL, Config{ProbeTimeout: 50 * time.Millisecond}).Calibrate(t.Context(), CollectEdges(doc))

	require.Len(t, res.Errors, 2)
	for _, err := range res.Errors {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestCalibrate_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = io.WriteString(w, `{"data":{}}`)
	}))
	defer srv.Close()

	doc := parse(t, `{ a_list { name } b_list { name } c_list { name } d_list { name } e_list { name } }`)
	res := newCalibrator(srv.URL, Config{Concurrency: 2}).Calibrate(t.Context(), CollectEdges(doc))

	assert.Len(t, res.Errors, 5, "empty data yields no samples")
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCalibrate_RootLimitCapsTransfer(t *testing.T) {
	var sent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Query string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		sent.Store(req.Query)
		// The target honours the limit of a collection holding 100000 rows.
		_, _ = io.WriteString(w, devicesList(25))
	}))
	defer srv.Close()

	doc := parse(t, `{ device_list(limit: 10) { name } }`)
	res := newCalibrator(srv.URL, Config{RootLimit: 25}).Calibrate(t.Context(), CollectEdges(doc))

	require.Empty(t, res.Errors)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, `query CalibrationProbe { device_list(limit: 25) { id } }`, sent.Load())
	assert.Equal(t, 25.0, res.Entries[0].Count)
	assert.Less(t, res.Entries[0].Confidence, 1.0, "count at the ceiling is a lower bound")
	assert.True(t, res.Entries[0].Calibrated)
}

func TestCalibrate_RootBelowLimitIsExact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, devicesList(7))
	}))
	defer srv.Close()

	doc := parse(t, `{ device_list { name } }`)
	res := newCalibrator(srv.URL, Config{RootLimit: 25}).Calibrate(t.Context(), CollectEdges(doc))

	require.Empty(t, res.Errors)
	assert.Equal(t, 7.0, res.Entries[0].Count)
	assert.Equal(t, 1.0, res.Entries[0].Confidence)
}

func TestCalibrate_OversizedResponseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, devicesList(500))
	}))
	defer srv.Close()

	doc := parse(t, `{ device_list { name } }`)
	c := newCalibrator(srv.URL, Config{})
	c.maxBody = 256
	res := c.Calibrate(t.Context(), CollectEdges(doc))

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error(), "exceeds 256 bytes")
	assert.False(t, res.Entries[0].Calibrated)
}

func TestCalibrate_TotalTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	doc := parse(t, `{ a_list { name } b_list { name } c_list { name } }`)
	c := newCalibrator(srv.URL, Config{
		Concurrency:  1,
		ProbeTimeout: 10 * time.Second,
		TotalTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	res := c.Calibrate(t.Context(), CollectEdges(doc))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 5*time.Second, "total timeout must cut the run short of the probe timeout")
	require.Len(t, res.Errors, 3)
	require.Len(t, res.Entries, 3)
	for i, e := range res.Entries {
		assert.False(t, e.Calibrated, "entry %d", i)
		assert.ErrorIs(t, res.Errors[i], context.DeadlineExceeded)
	}
}

// devicesList renders a device_list response with n rows.
func devicesList(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = `{"id":"1"}`
	}
	return `{"data":{"device_list":[` + strings.Join(items, ",") + `]}}`
}
