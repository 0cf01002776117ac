package main

import (
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
)

// readSources reads every path; "-" reads stdin.
func readSources(stdin io.Reader, paths []string, operation string) ([]query.Source, error) {
	srcs := make([]query.Source, 0, len(paths))
	for _, path := range paths {
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		srcs = append(srcs, query.Source{Name: path, Text: string(data), OperationName: operation})
	}
	return srcs, nil
}

// printParseErrors writes every failed outcome to w and returns the reports
// of the others.
func printParseErrors(w io.Writer, outcomes []analyzer.Outcome) []*model.AnalysisReport {
	reports := make([]*model.AnalysisReport, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			_, _ = fmt.Fprintln(w, o.Err)
			continue
		}
		reports = append(reports, o.Report)
	}
	return reports
}

func nonNilDocs(docs []*model.QueryDocument) []*model.QueryDocument {
	out := make([]*model.QueryDocument, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}
