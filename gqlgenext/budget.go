// Package gqlgenext plugs the gqlcost analyzer into gqlgen servers: an
// operation interceptor that rejects over-budget operations before
// execution, and complexity functions backed by the cardinality model.
//
//	limit, err := gqlgenext.New(gqlgenext.Options{ConfigFile: "gqlcost.yaml"})
//	if err != nil {
//		return err
//	}
//	srv := handler.New(graph.NewExecutableSchema(cfg))
//	srv.Use(limit)
package gqlgenext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/99designs/gqlgen/graphql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/config"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
)

// ErrCodeQueryTooCostly is the extensions.code of a rejected operation.
const ErrCodeQueryTooCostly = "QUERY_TOO_COSTLY"

// Options configures New.
type Options struct {
	// ConfigFile is a gqlcost YAML or JSON config. Empty uses the built-in
	// defaults plus GQLCOST_* environment overrides.
	ConfigFile string
	Logger     *slog.Logger
	// Registerer receives the analyzer metrics. Nil keeps them private.
	Registerer prometheus.Registerer
}

// BudgetLimit rejects operations whose analysis verdict is FAIL.
type BudgetLimit struct {
	analyzer *analyzer.Analyzer
	logger   *slog.Logger
}

var _ interface {
	graphql.HandlerExtension
	graphql.OperationInterceptor
} = (*BudgetLimit)(nil)

// New loads the gqlcost configuration and builds the extension. Every
// configuration problem is returned before the server starts.
func New(opts Options) (*BudgetLimit, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cfg, err := config.Load(opts.ConfigFile, nil)
	if err != nil {
		return nil, err
	}
	a, err := analyzer.FromConfig(cfg, observability.NewMetricsWith(reg), logger)
	if err != nil {
		return nil, err
	}
	return newBudgetLimit(a, logger), nil
}

func newBudgetLimit(a *analyzer.Analyzer, logger *slog.Logger) *BudgetLimit {
	return &BudgetLimit{analyzer: a, logger: logger}
}

// ExtensionName implements graphql.HandlerExtension.
func (b *BudgetLimit) ExtensionName() string {
	return "BudgetLimit"
}

// Validate implements graphql.HandlerExtension.
func (b *BudgetLimit) Validate(graphql.ExecutableSchema) error {
	if b == nil || b.analyzer == nil {
		return errors.New("BudgetLimit: use gqlgenext.New")
	}
	return nil
}

// InterceptOperation implements graphql.OperationInterceptor.
func (b *BudgetLimit) InterceptOperation(ctx context.Context, next graphql.OperationHandler) graphql.ResponseHandler {
	oc := graphql.GetOperationContext(ctx)
	r, err := b.analyzer.Analyze(query.Source{
		Name:          oc.OperationName,
		Text:          oc.RawQuery,
		OperationName: oc.OperationName,
		Variables:     oc.Variables,
	})
	if err != nil {
		// gqlgen has already validated the document; anything the analyzer
		// cannot parse is left to the executor.
		b.logger.Warn("budget analysis skipped", "operation", oc.OperationName, "error", err)
		return next(ctx)
	}
	if r.Verdict != model.VerdictFail {
		return next(ctx)
	}

	b.logger.Info("operation rejected", "operation", oc.OperationName, "score", r.Score, "issues", len(r.Issues))
	resp := &graphql.Response{Errors: rejection(r)}
	return func(context.Context) *graphql.Response {
		return resp
	}
}

// rejection lists why r failed: the ceiling, then every CRITICAL issue. When
// only warnings failed the operation (strict mode) the warnings are listed.
func rejection(r *model.AnalysisReport) gqlerror.List {
	var errs gqlerror.List
	if r.Ceiling > 0 && r.Score > r.Ceiling {
		errs = append(errs, &gqlerror.Error{
			Message:    fmt.Sprintf("query cost %d exceeds budget %d", r.Score, r.Ceiling),
			Extensions: map[string]any{"code": ErrCodeQueryTooCostly, "score": r.Score, "ceiling": r.Ceiling},
		})
	}
	sev := model.SeverityCritical
	if len(errs) == 0 && !r.HasSeverity(model.SeverityCritical) {
		sev = model.SeverityWarning
	}
	for _, i := range r.Issues {
		if i.Severity != sev {
			continue
		}
		e := &gqlerror.Error{
			Message:    i.Message,
			Extensions: map[string]any{"code": ErrCodeQueryTooCostly, "kind": i.Kind.String(), "severity": i.Severity.String(), "path": i.Path},
		}
		if i.Line > 0 {
			e.Locations = []gqlerror.Location{{Line: i.Line, Column: i.Column}}
		}
		errs = append(errs, e)
	}
	return errs
}
