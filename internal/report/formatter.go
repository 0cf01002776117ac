// Package report renders analysis reports for machines and humans.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
)

// Format is an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format string.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "table", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (valid: text, json, yaml)", s)
	}
}

// Hints holds the remediation hint printed once per issue kind.
var Hints = map[model.IssueKind]string{
	model.IssueUnboundedList:     "add an explicit limit (or pagination: {limit: N}) to every list field",
	model.IssueDepthExceeded:     "split the query: fetch the inner lists in a second request keyed by parent IDs",
	model.IssueFanOut:            "lower the limits on the outer lists or fetch the innermost list with its own filtered query",
	model.IssueNestedFilterDepth: "filter on the local ID/slug field instead of reaching through the relation",
	model.IssueSearchAntiPattern: "narrow the result set with an indexed filter before using free-text search",
}

// Formatter writes reports in one format.
type Formatter struct {
	Format Format
	Writer io.Writer
}

// NewFormatter creates a formatter writing to w.
func NewFormatter(format Format, w io.Writer) *Formatter {
	return &Formatter{Format: format, Writer: w}
}

// Print writes one report.
func (f *Formatter) Print(r *model.AnalysisReport) error {
	switch f.Format {
	case FormatJSON:
		return f.printJSON(r)
	case FormatYAML:
		return f.printYAML(r)
	default:
		return f.printText(r)
	}
}

// PrintAll writes a batch. Structured formats emit a single list document.
func (f *Formatter) PrintAll(reports []*model.AnalysisReport) error {
	switch f.Format {
	case FormatJSON:
		return f.printJSON(reports)
	case FormatYAML:
		return f.printYAML(reports)
	}
	for i, r := range reports {
		if i > 0 {
			if _, err := fmt.Fprintln(f.Writer); err != nil {
				return err
			}
		}
		if err := f.printText(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *Formatter) printJSON(data any) error {
	encoder := json.NewEncoder(f.Writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (f *Formatter) printYAML(data any) error {
	encoder := yaml.NewEncoder(f.Writer)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(data)
}

// Summary is the one-line verdict header.
func Summary(r *model.AnalysisReport) string {
	var b strings.Builder
	b.WriteString(r.Verdict.String())
	if r.QueryID != "" {
		b.WriteString(" ")
		b.WriteString(r.QueryID)
	}
	if r.Operation != "" {
		b.WriteString(" (" + r.Operation + ")")
	}
	b.WriteString(" score=" + strconv.FormatInt(r.Score, 10))
	if r.Ceiling > 0 {
		b.WriteString(" ceiling=" + strconv.FormatInt(r.Ceiling, 10))
	}
	return b.String()
}

func (f *Formatter) printText(r *model.AnalysisReport) error {
	w := &errWriter{w: f.Writer}
	w.println(Summary(r))

	if r.Verdict != model.VerdictPass && len(r.Issues) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Severity", "Kind", "Path", "Message"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		table.SetAutoFormatHeaders(true)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetCenterSeparator("")
		table.SetColumnSeparator("")
		table.SetRowSeparator("")
		table.SetHeaderLine(false)
		table.SetTablePadding("  ")
		table.SetNoWhiteSpace(true)

		rows := make([][]string, 0, len(r.Issues))
		for _, i := range r.Issues {
			rows = append(rows, []string{i.Severity.String(), i.Kind.String(), i.Path, i.Message})
		}
		table.AppendBulk(rows)
		table.Render()

		w.println()
		w.println("Hints:")
		seen := make(map[model.IssueKind]bool)
		for _, i := range r.Issues {
			if seen[i.Kind] {
				continue
			}
			seen[i.Kind] = true
			w.printf("  %s: %s\n", i.Kind, Hints[i.Kind])
		}
	}

	if len(r.Notes) > 0 {
		w.println("Notes:")
		for _, n := range r.Notes {
			if n.Path != "" {
				w.printf("  - %s: %s\n", n.Path, n.Message)
			} else {
				w.printf("  - %s\n", n.Message)
			}
		}
	}
	if len(r.Warnings) > 0 {
		w.println("Warnings:")
		for _, msg := range r.Warnings {
			w.printf("  - %s\n", msg)
		}
	}
	return w.err
}

// errWriter keeps the first write error so text rendering can stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) println(a ...any) { _, _ = fmt.Fprintln(e, a...) }

func (e *errWriter) printf(format string, a ...any) { _, _ = fmt.Fprintf(e, format, a...) }
