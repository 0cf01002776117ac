package analyzer

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/config"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/schema"
)

// FromConfig assembles an analyzer from cfg. A missing schema or
// calibration file is a ConfigError.
func FromConfig(cfg *config.Config, m *observability.Metrics, logger *slog.Logger) (*Analyzer, error) {
	var resolver schema.Resolver = schema.NetBox()
	if cfg.SchemaFile != "" {
		sdl, err := schema.LoadSDL(cfg.SchemaFile)
		if err != nil {
			return nil, &config.ConfigError{Err: fmt.Errorf("schema_file: %w", err)}
		}
		resolver = sdl
	}

	cm := cfg.Model()
	if cfg.CalibrationFile != "" {
		entries, err := cardinality.ImportFile(cfg.CalibrationFile)
		if err != nil {
			return nil, &config.ConfigError{Err: fmt.Errorf("calibration_file: %w", err)}
		}
		cm = cm.WithOverrides(entries)
		logger.Debug("loaded calibration", "file", cfg.CalibrationFile, "edges", len(entries))
	}

	return New(Options{
		Resolver:     resolver,
		Model:        cm,
		Thresholds:   cfg.Thresholds(),
		LocalFilters: cfg.LocalFilterTable(),
		Gate:         cfg.Gate(),
		Concurrency:  cfg.Concurrency,
	}, m, logger), nil
}
