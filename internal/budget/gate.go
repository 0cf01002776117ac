// Package budget turns a score and a set of issues into a verdict.
package budget

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
)

// DefaultClasses are the built-in named budgets.
var DefaultClasses = map[string]int64{
	"dashboard": 50,
	"detail":    200,
	"list":      1000,
	"export":    10000,
}

// Exit codes returned by the CLI.
const (
	ExitOK    = 0
	ExitFail  = 1
	ExitError = 2
)

// Gate applies a score ceiling and the issue severities.
type Gate struct {
	// Ceiling is the maximum allowed score. Zero disables the score check.
	Ceiling       int64
	FailOnWarning bool
}

// Evaluate computes the verdict for a score and its issues.
func (g Gate) Evaluate(score int64, issues []model.Issue) model.Verdict {
	warned := false
	for _, i := range issues {
		switch i.Severity {
		case model.SeverityCritical:
			return model.VerdictFail
		case model.SeverityWarning:
			warned = true
		}
	}
	if g.Ceiling > 0 && score > g.Ceiling {
		return model.VerdictFail
	}
	if warned {
		if g.FailOnWarning {
			return model.VerdictFail
		}
		return model.VerdictWarn
	}
	return model.VerdictPass
}

// Apply fills in the ceiling and verdict of r.
func (g Gate) Apply(r *model.AnalysisReport) {
	r.Ceiling = g.Ceiling
	r.Verdict = g.Evaluate(r.Score, r.Issues)
}

// ExitCode maps a verdict to the process exit status.
func ExitCode(v model.Verdict) int {
	if v == model.VerdictFail {
		return ExitFail
	}
	return ExitOK
}

// Classes resolves budget names to ceilings.
type Classes map[string]int64

// NewClasses returns the built-in classes overlaid with extra.
func NewClasses(extra map[string]int64) Classes {
	c := make(Classes, len(DefaultClasses)+len(extra))
	maps.Copy(c, DefaultClasses)
	for name, v := range extra {
		c[strings.ToLower(name)] = v
	}
	return c
}

// Ceiling parses a budget that is either a non-negative integer or a class name.
func (c Classes) Ceiling(budget string) (int64, error) {
	budget = strings.TrimSpace(budget)
	if budget == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(budget, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("budget %d must not be negative", n)
		}
		return n, nil
	}
	if v, ok := c[strings.ToLower(budget)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown budget class %q (known: %s)", budget, strings.Join(c.Names(), ", "))
}

// Names returns the class names in sorted order.
func (c Classes) Names() []string {
	return slices.Sorted(maps.Keys(c))
}
