// Package analyzer wires parsing, cost evaluation, issue detection and the
// budget gate into a single pipeline. An Analyzer is immutable; WithModel and
// WithGate return modified copies so batches share one frozen snapshot.
package analyzer

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/calibrate"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cost"
	"github.com/couchcryptid/gql-cost-analyzer/internal/detect"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
	"github.com/couchcryptid/gql-cost-analyzer/internal/schema"
)

// Calibrator measures edges against a live endpoint.
type Calibrator interface {
	Calibrate(ctx context.Context, edges []calibrate.Edge) *calibrate.Result
}

// Options configures an Analyzer. Zero values select the built-in defaults.
type Options struct {
	Resolver     schema.Resolver
	Model        *cardinality.Model
	Thresholds   detect.Thresholds
	LocalFilters detect.LocalFilters
	Gate         budget.Gate
	Concurrency  int
}

// Analyzer produces AnalysisReports.
type Analyzer struct {
	parser      *query.Parser
	model       *cardinality.Model
	detector    *detect.Detector
	gate        budget.Gate
	concurrency int
	warnings    []string
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New creates an analyzer.
func New(opts Options, m *observability.Metrics, logger *slog.Logger) *Analyzer {
	if opts.Model == nil {
		opts.Model = cardinality.NewModel()
	}
	if opts.Thresholds.IsZero() {
		opts.Thresholds = detect.DefaultThresholds()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Analyzer{
		parser:      query.NewParser(opts.Resolver),
		model:       opts.Model,
		detector:    detect.New(opts.Thresholds, opts.LocalFilters),
		gate:        opts.Gate,
		concurrency: opts.Concurrency,
		metrics:     m,
		logger:      logger,
	}
}

// Model returns the cardinality snapshot reports are computed against.
func (a *Analyzer) Model() *cardinality.Model { return a.model }

// Warnings returns the warnings attached to every report, typically
// calibration failures.
func (a *Analyzer) Warnings() []string { return a.warnings }

// Gate returns the budget gate.
func (a *Analyzer) Gate() budget.Gate { return a.gate }

// WithModel returns a copy using m. warnings are attached to every report,
// typically the calibration failures that produced m.
func (a *Analyzer) WithModel(m *cardinality.Model, warnings []string) *Analyzer {
	next := *a
	next.model = m
	next.warnings = warnings
	return &next
}

// WithGate returns a copy using g.
func (a *Analyzer) WithGate(g budget.Gate) *Analyzer {
	next := *a
	next.gate = g
	return &next
}

// Parse parses one source.
func (a *Analyzer) Parse(src query.Source) (*model.QueryDocument, error) {
	doc, err := a.parser.Parse(src)
	if err != nil {
		a.metrics.ParseErrorTotal.Inc()
		return nil, err
	}
	return doc, nil
}

// Analyze parses and analyzes one source. Only a ParseError is returned as an error.
func (a *Analyzer) Analyze(src query.Source) (*model.AnalysisReport, error) {
	doc, err := a.Parse(src)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeDocument(src.Name, doc), nil
}

// AnalyzeDocument scores doc, runs the detector and applies the gate.
func (a *Analyzer) AnalyzeDocument(id string, doc *model.QueryDocument) *model.AnalysisReport {
	costs := cost.NewEvaluator(a.model).Evaluate(doc)
	issues := a.detector.Detect(doc, costs, a.model)

	r := &model.AnalysisReport{
		QueryID:   id,
		Operation: doc.Operation,
		Score:     costs.Total,
		Issues:    issues,
		Notes:     costs.Notes,
		Warnings:  a.warnings,
		Costs:     costs.Costs(),
	}
	a.gate.Apply(r)

	a.metrics.AnalysesTotal.WithLabelValues(r.Verdict.String()).Inc()
	a.metrics.AnalysisScore.Observe(float64(r.Score))
	for _, i := range r.Issues {
		a.metrics.IssuesTotal.WithLabelValues(i.Kind.String(), i.Severity.String()).Inc()
	}
	a.logger.Debug("analyzed document", "query_id", id, "score", r.Score, "verdict", r.Verdict, "issues", len(r.Issues))
	return r
}

// Outcome is the result of one source in a batch: a report or a ParseError.
type Outcome struct {
	Source string
	Report *model.AnalysisReport
	Err    error
}

// Run analyzes a batch. Sources are parsed concurrently; when cal is non-nil
// the list edges of every parsed document are calibrated once and the whole
// batch is scored against the resulting snapshot, which is returned alongside
// the outcomes. A ParseError affects only its own source.
func (a *Analyzer) Run(ctx context.Context, srcs []query.Source, cal Calibrator) ([]Outcome, *Analyzer) {
	docs, out := a.ParseAll(srcs)
	snapshot := a
	if cal != nil {
		snapshot = a.Calibrated(ctx, cal, docs...)
	}
	snapshot.AnalyzeAll(docs, out)
	return out, snapshot
}

// ParseAll parses srcs concurrently. docs[i] is nil where out[i].Err is set.
func (a *Analyzer) ParseAll(srcs []query.Source) (docs []*model.QueryDocument, out []Outcome) {
	out = make([]Outcome, len(srcs))
	docs = make([]*model.QueryDocument, len(srcs))
	a.each(len(srcs), func(i int) {
		out[i].Source = srcs[i].Name
		docs[i], out[i].Err = a.Parse(srcs[i])
	})
	return docs, out
}

// AnalyzeAll fills in the report of every outcome whose document parsed.
func (a *Analyzer) AnalyzeAll(docs []*model.QueryDocument, out []Outcome) {
	a.each(len(docs), func(i int) {
		if docs[i] != nil {
			out[i].Report = a.AnalyzeDocument(out[i].Source, docs[i])
		}
	})
}

// Calibrated measures the list edges of docs and returns a copy whose model
// carries the measurements. Nil documents are skipped.
func (a *Analyzer) Calibrated(ctx context.Context, cal Calibrator, docs ...*model.QueryDocument) *Analyzer {
	parsed := make([]*model.QueryDocument, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			parsed = append(parsed, d)
		}
	}
	edges := calibrate.CollectEdges(parsed...)
	if len(edges) == 0 {
		return a
	}
	res := cal.Calibrate(ctx, edges)
	return a.WithModel(a.model.WithOverrides(res.Entries), res.Warnings())
}

func (a *Analyzer) each(n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := range n {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

// ExitCode folds a batch into a process exit status: any ParseError wins
// over any FAIL verdict.
func ExitCode(outcomes []Outcome) int {
	code := budget.ExitOK
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			return budget.ExitError
		case o.Report != nil && budget.ExitCode(o.Report.Verdict) == budget.ExitFail:
			code = budget.ExitFail
		}
	}
	return code
}
