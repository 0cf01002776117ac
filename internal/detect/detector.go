// Package detect runs the anti-pattern rules over a parsed document.
// Every rule is a pure function of a node, its ancestors and the node costs;
// rules never see each other's findings.
package detect

import (
	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/cost"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
)

// Default thresholds.
const (
	DefaultDepthSoftLimit      = 3
	DefaultDepthHardLimit      = 5
	DefaultFanOutThreshold     = 10000
	DefaultSearchRowThreshold  = 500
	DefaultNestedFilterMaxHops = 2
)

// DefaultSearchArguments are the free-text search argument names.
var DefaultSearchArguments = []string{"q"}

// Thresholds configures the rules.
type Thresholds struct {
	DepthSoftLimit      int
	DepthHardLimit      int
	FanOutThreshold     int64
	SearchRowThreshold  int
	SearchArguments     []string
	NestedFilterMaxHops int
}

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DepthSoftLimit:      DefaultDepthSoftLimit,
		DepthHardLimit:      DefaultDepthHardLimit,
		FanOutThreshold:     DefaultFanOutThreshold,
		SearchRowThreshold:  DefaultSearchRowThreshold,
		SearchArguments:     DefaultSearchArguments,
		NestedFilterMaxHops: DefaultNestedFilterMaxHops,
	}
}

// IsZero reports whether no threshold has been set.
func (t Thresholds) IsZero() bool {
	return t.DepthSoftLimit == 0 && t.DepthHardLimit == 0 && t.FanOutThreshold == 0 &&
		t.SearchRowThreshold == 0 && len(t.SearchArguments) == 0 && t.NestedFilterMaxHops == 0
}

// Context is what a rule may read besides the node itself.
type Context struct {
	Thresholds   Thresholds
	Costs        *cost.Result
	Model        *cardinality.Model
	LocalFilters LocalFilters
}

// Rule inspects one node. ancestors runs from the root down to the parent.
type Rule func(ctx *Context, n *model.SelectionNode, ancestors []*model.SelectionNode) []model.Issue

// Detector applies a fixed set of rules.
type Detector struct {
	thresholds   Thresholds
	localFilters LocalFilters
	rules        []Rule
}

// New returns a detector with all built-in rules.
func New(t Thresholds, lf LocalFilters) *Detector {
	if lf == nil {
		lf = NetBoxLocalFilters()
	}
	return &Detector{
		thresholds:   t,
		localFilters: lf,
		rules: []Rule{
			UnboundedList,
			DepthExceeded,
			FanOut,
			NestedFilterDepth,
			SearchAntiPattern,
		},
	}
}

// Detect runs every rule on every node of doc, variant branches included.
// Issues are ordered depth-first, then by rule.
func (d *Detector) Detect(doc *model.QueryDocument, costs *cost.Result, m *cardinality.Model) []model.Issue {
	ctx := &Context{Thresholds: d.thresholds, Costs: costs, Model: m, LocalFilters: d.localFilters}
	issues := []model.Issue{}
	doc.Walk(func(n *model.SelectionNode, ancestors []*model.SelectionNode) {
		for _, rule := range d.rules {
			issues = append(issues, rule(ctx, n, ancestors)...)
		}
	})
	return issues
}

func issueAt(n *model.SelectionNode, kind model.IssueKind, sev model.Severity, msg string) model.Issue {
	return model.Issue{Kind: kind, Severity: sev, Path: n.Path, Message: msg, Line: n.Line, Column: n.Column}
}
