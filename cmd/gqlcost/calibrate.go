package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/calibrate"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/config"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
)

func addCalibrationFlags(fl *pflag.FlagSet) {
	fl.String("url", "", "GraphQL endpoint probed during calibration")
	fl.String("token", "", "API token sent as \"Authorization: Token <token>\"")
	fl.Int("sample-size", calibrate.DefaultSampleSize, "parents sampled per probed edge")
	fl.Int("root-limit", calibrate.DefaultRootLimit, "row ceiling for root list probes")
}

func newCalibrateCmd(g *globalFlags) *cobra.Command {
	var (
		operation string
		export    string
	)
	cmd := &cobra.Command{
		Use:   "calibrate FILE...",
		Short: "Measure the list cardinalities used by GraphQL documents",
		Long: `Calibrate probes a live endpoint for every list edge selected by the FILEs
and writes the measured counts as a calibration snapshot, to --export or stdout.
Edges that cannot be measured keep their defaults and are reported on stderr.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configFile, cmd.Flags())
			if err != nil {
				return &exitError{code: budget.ExitError, err: err}
			}
			if cfg.Calibration.URL == "" {
				return &exitError{code: budget.ExitError, err: &config.ConfigError{Problems: []string{"calibration.url is required"}}}
			}
			logger := observability.NewCLILogger(cmd.ErrOrStderr(), g.logLevel, g.logFormat)
			m := observability.NewMetricsWith(prometheus.NewRegistry())

			a, err := analyzer.FromConfig(cfg, m, logger)
			if err != nil {
				return &exitError{code: budget.ExitError, err: err}
			}
			srcs, err := readSources(cmd.InOrStdin(), args, operation)
			if err != nil {
				return &exitError{code: budget.ExitError, err: err}
			}

			docs, outcomes := a.ParseAll(srcs)
			printParseErrors(cmd.ErrOrStderr(), outcomes)

			res := calibrate.New(cfg.CalibratorConfig(), nil, m, logger).Calibrate(cmd.Context(), calibrate.CollectEdges(nonNilDocs(docs)...))
			for _, w := range res.Warnings() {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			calibrated := a.Model().WithOverrides(res.Entries)

			if export == "" {
				if err := cardinality.Export(cmd.OutOrStdout(), calibrated, time.Now()); err != nil {
					return err
				}
			} else {
				if err := cardinality.ExportFile(export, calibrated, time.Now()); err != nil {
					return err
				}
				printEntries(cmd, res.Entries)
			}

			for _, o := range outcomes {
				if o.Err != nil {
					return &exitError{code: budget.ExitError}
				}
			}
			return nil
		},
	}

	fl := cmd.Flags()
	addCalibrationFlags(fl)
	fl.String("schema", "", "SDL file used to resolve field types")
	fl.Int("concurrency", 4, "documents parsed in parallel")
	fl.StringVar(&operation, "operation", "", "operation to calibrate in multi-operation documents")
	fl.StringVar(&export, "export", "", "write the calibration snapshot to this file instead of stdout")
	return cmd
}

func printEntries(cmd *cobra.Command, entries []cardinality.Entry) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Edge", "Count", "Confidence", "Status"})
	table.SetBorder(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	for _, e := range entries {
		status := "default"
		count, confidence := "-", "-"
		if e.Calibrated {
			status = "measured"
			count = strconv.FormatFloat(e.Count, 'f', 1, 64)
			confidence = strconv.FormatFloat(e.Confidence, 'f', 2, 64)
		}
		table.Append([]string{e.Key.String(), count, confidence, status})
	}
	table.Render()
}
