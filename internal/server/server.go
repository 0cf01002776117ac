// Package server exposes the analyzer over HTTP: one-off analysis with a
// per-request budget, the stored report history and calibration snapshots.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
)

// Source is recorded on every report stored by the HTTP API.
const Source = "http"

// DefaultMaxInFlight bounds concurrent analysis and calibration requests.
const DefaultMaxInFlight = 8

// Store is the persistence the server needs. It is satisfied by *store.Store.
type Store interface {
	InsertReport(ctx context.Context, rec *model.StoredReport) error
	GetReport(ctx context.Context, id string) (*model.StoredReport, error)
	ListReports(ctx context.Context, filter *model.ReportFilter) ([]*model.StoredReport, int, error)
	Stats(ctx context.Context, filter *model.ReportFilter) (*model.ReportStats, error)
	SaveCalibration(ctx context.Context, entries []cardinality.Entry) error
}

// Options configures a Server. Store and Calibrator are optional: without a
// store the report endpoints answer 503, without a calibrator POST /calibrate does.
type Options struct {
	Analyzers   *analyzer.Holder
	Classes     budget.Classes
	Store       Store
	Calibrator  analyzer.Calibrator
	Readiness   observability.ReadinessChecker
	MaxInFlight int
}

// Server serves the analysis API.
type Server struct {
	analyzers   *analyzer.Holder
	classes     budget.Classes
	store       Store
	calibrator  analyzer.Calibrator
	readiness   observability.ReadinessChecker
	maxInFlight int
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New creates a server.
func New(opts Options, m *observability.Metrics, logger *slog.Logger) *Server {
	if opts.Classes == nil {
		opts.Classes = budget.NewClasses(nil)
	}
	if opts.Readiness == nil {
		opts.Readiness = &observability.Readiness{}
	}
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	return &Server{
		analyzers:   opts.Analyzers,
		classes:     opts.Classes,
		store:       opts.Store,
		calibrator:  opts.Calibrator,
		readiness:   opts.Readiness,
		maxInFlight: opts.MaxInFlight,
		metrics:     m,
		logger:      logger,
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)
	r.Use(observability.MetricsMiddleware(s.metrics))

	r.Get("/healthz", observability.LivenessHandler())
	r.Get("/readyz", observability.ReadinessHandler(s.readiness))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ConcurrencyLimit(s.maxInFlight))
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/calibrate", s.handleCalibrate)
	})

	r.Route("/reports", func(r chi.Router) {
		r.Get("/", s.handleListReports)
		r.Get("/stats", s.handleReportStats)
		r.Get("/{id}", s.handleGetReport)
	})

	r.Get("/calibration", s.handleExportCalibration)
	r.Put("/calibration", s.handleImportCalibration)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	observability.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
