// Package calibrate measures real edge cardinalities by sending small
// probe queries to a live GraphQL endpoint.
package calibrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
)

// Defaults for Config fields left at zero.
const (
	DefaultSampleSize   = 10
	DefaultRootLimit    = 1000
	DefaultConcurrency  = 4
	DefaultProbeTimeout = 10 * time.Second
	DefaultTotalTimeout = 60 * time.Second

	maxResponseBytes = 32 << 20

	// cappedConfidence marks a root count that hit the row ceiling. The
	// measured value is a lower bound.
	cappedConfidence = 0.5
)

// CalibrationError records an edge that could not be measured. The edge
// keeps its default cardinality.
type CalibrationError struct {
	Edge cardinality.Key
	Err  error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration of %s failed: %v", e.Edge, e.Err)
}

func (e *CalibrationError) Unwrap() error { return e.Err }

// Config configures a Calibrator.
type Config struct {
	URL          string
	Token        string
	SampleSize   int
	RootLimit    int
	Concurrency  int
	ProbeTimeout time.Duration
	TotalTimeout time.Duration
}

// Calibrator runs probes through a bounded worker pool.
type Calibrator struct {
	cfg     Config
	client  *http.Client
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
	maxBody int64
}

// New creates a calibrator. A nil client uses http.DefaultClient.
func New(cfg Config, client *http.Client, m *observability.Metrics, logger *slog.Logger) *Calibrator {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.RootLimit <= 0 {
		cfg.RootLimit = DefaultRootLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = DefaultTotalTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Calibrator{cfg: cfg, client: client, metrics: m, logger: logger, now: time.Now, maxBody: maxResponseBytes}
}

// Result is the outcome of one calibration run.
type Result struct {
	// Entries has one entry per edge, in input order. Failed edges are
	// tagged calibrated=false.
	Entries []cardinality.Entry
	Errors  []*CalibrationError
}

// Warnings renders the errors for an AnalysisReport.
func (r *Result) Warnings() []string {
	out := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		out[i] = err.Error()
	}
	return out
}

// Calibrate probes every edge. It never fails as a whole: unmeasured edges
// come back uncalibrated alongside a CalibrationError.
func (c *Calibrator) Calibrate(ctx context.Context, edges []Edge) *Result {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalTimeout)
	defer cancel()

	entries := make([]cardinality.Entry, len(edges))
	errs := make([]*CalibrationError, len(edges))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, e := range edges {
		g.Go(func() error {
			entry, err := c.probe(ctx, e)
			if err != nil {
				c.logger.Warn("calibration probe failed", "edge", e.Key.String(), "error", err)
				errs[i] = &CalibrationError{Edge: e.Key, Err: err}
				entry = cardinality.Entry{Key: e.Key}
			}
			entries[i] = entry
			return nil
		})
	}
	_ = g.Wait()

	r := &Result{Entries: entries}
	for _, err := range errs {
		if err != nil {
			r.Errors = append(r.Errors, err)
		}
	}
	c.logger.Info("calibration finished", "edges", len(edges), "failed", len(r.Errors))
	return r
}

func (c *Calibrator) probe(ctx context.Context, e Edge) (cardinality.Entry, error) {
	if err := ctx.Err(); err != nil {
		c.metrics.CalibrationProbes.WithLabelValues("skipped").Inc()
		return cardinality.Entry{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	body, err := c.post(ctx, e.Query(c.cfg.SampleSize, c.cfg.RootLimit))
	c.metrics.CalibrationProbeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		c.metrics.CalibrationProbes.WithLabelValues(outcome).Inc()
		return cardinality.Entry{}, err
	}

	counts := e.Counts(body)
	if len(counts) == 0 {
		c.metrics.CalibrationProbes.WithLabelValues("empty").Inc()
		return cardinality.Entry{}, errors.New("probe returned no parent rows")
	}
	var sum float64
	for _, n := range counts {
		sum += n
	}
	c.metrics.CalibrationProbes.WithLabelValues("ok").Inc()

	confidence := 1.0
	switch {
	case e.Ancestors() > 0:
		confidence = min(1, float64(len(counts))/float64(c.cfg.SampleSize))
	case sum >= float64(c.cfg.RootLimit):
		c.logger.Warn("root probe hit row ceiling", "edge", e.Key.String(), "limit", c.cfg.RootLimit)
		confidence = cappedConfidence
	}
	return cardinality.Entry{
		Key:        e.Key,
		Count:      sum / float64(len(counts)),
		Confidence: confidence,
		MeasuredAt: c.now().UTC(),
		Calibrated: true,
	}, nil
}

func (c *Calibrator) post(ctx context.Context, query string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("encode probe: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Token "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send probe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read probe response: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("probe response exceeds %d bytes", c.maxBody)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}
	if msg := gjson.GetBytes(body, "errors.0.message"); msg.Exists() {
		return nil, fmt.Errorf("probe returned error: %s", msg.String())
	}
	return body, nil
}
