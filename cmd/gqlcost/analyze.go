package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/calibrate"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/config"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/report"
)

type analyzeFlags struct {
	operation         string
	exportCalibration string
}

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	f := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze FILE...",
		Short: "Score GraphQL documents and gate them against a budget",
		Long: `Analyze parses every FILE ("-" reads stdin), computes its complexity score,
reports anti-patterns and applies the budget gate.

Exit status is 0 when every document passes or warns, 1 when any fails and 2
on a parse or configuration error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, g, f, args)
		},
	}

	fl := cmd.Flags()
	fl.Int64("max-score", 0, "maximum allowed score (0 disables the score check)")
	fl.String("budget", "", "named budget class or integer ceiling")
	fl.Bool("fail-on-warning", false, "treat WARN verdicts as FAIL")
	fl.String("schema", "", "SDL file used to resolve field types")
	fl.String("calibration-file", "", "calibration snapshot to load")
	fl.StringP("output", "o", string(report.FormatText), "output format: text, json or yaml")
	fl.Int("concurrency", 4, "documents analyzed in parallel")
	fl.StringVar(&f.operation, "operation", "", "operation to analyze in multi-operation documents")
	addCalibrationFlags(fl)
	fl.Bool("calibrate", false, "measure list cardinalities against a live endpoint first")
	fl.StringVar(&f.exportCalibration, "export-calibration", "", "write the calibration snapshot used for the batch to this file")
	return cmd
}

func runAnalyze(cmd *cobra.Command, g *globalFlags, f *analyzeFlags, args []string) error {
	cfg, err := config.Load(g.configFile, cmd.Flags())
	if err != nil {
		return &exitError{code: budget.ExitError, err: err}
	}
	logger := observability.NewCLILogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat)
	m := observability.NewMetricsWith(prometheus.NewRegistry())

	a, err := analyzer.FromConfig(cfg, m, logger)
	if err != nil {
		return &exitError{code: budget.ExitError, err: err}
	}
	srcs, err := readSources(cmd.InOrStdin(), args, f.operation)
	if err != nil {
		return &exitError{code: budget.ExitError, err: err}
	}

	var cal analyzer.Calibrator
	if cfg.Calibration.Enabled {
		cal = calibrate.New(cfg.CalibratorConfig(), nil, m, logger)
	}
	outcomes, snapshot := a.Run(cmd.Context(), srcs, cal)

	reports := printParseErrors(cmd.ErrOrStderr(), outcomes)
	format, _ := report.ParseFormat(cfg.Output)
	if err := report.NewFormatter(format, cmd.OutOrStdout()).PrintAll(reports); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if f.exportCalibration != "" {
		if err := cardinality.ExportFile(f.exportCalibration, snapshot.Model(), time.Now()); err != nil {
			return err
		}
		logger.Info("exported calibration", "file", f.exportCalibration)
	}

	if code := analyzer.ExitCode(outcomes); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
