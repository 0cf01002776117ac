// Package cost scores a selection forest by multiplying expected
// cardinalities down each branch.
package cost

import (
	"math"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
)

// Result is the evaluation of one document.
type Result struct {
	Total int64
	// Nodes holds the cost of every node, variant branches included.
	Nodes map[*model.SelectionNode]model.CostResult
	// Order lists the nodes depth-first so reports are deterministic.
	Order []*model.SelectionNode
	Notes []model.Note
}

// Of returns the cost of n.
func (r *Result) Of(n *model.SelectionNode) model.CostResult { return r.Nodes[n] }

// Costs returns the node costs in depth-first order.
func (r *Result) Costs() []model.CostResult {
	out := make([]model.CostResult, len(r.Order))
	for i, n := range r.Order {
		out[i] = r.Nodes[n]
	}
	return out
}

// Evaluator computes scores against a frozen cardinality model.
type Evaluator struct {
	model *cardinality.Model
}

// NewEvaluator returns an evaluator reading cardinalities from m.
func NewEvaluator(m *cardinality.Model) *Evaluator {
	return &Evaluator{model: m}
}

// Evaluate scores doc. Root fields are independent and summed; nothing is capped.
func (e *Evaluator) Evaluate(doc *model.QueryDocument) *Result {
	r := &Result{Nodes: make(map[*model.SelectionNode]model.CostResult)}
	for _, root := range doc.Roots {
		r.Total = add(r.Total, e.visit(r, root, 1))
	}
	return r
}

// EffectiveCardinality is the explicit limit when present, else the model
// estimate for list fields, else 1.
func (e *Evaluator) EffectiveCardinality(n *model.SelectionNode) (int64, bool) {
	if !n.IsList {
		return 1, false
	}
	if n.Limit != nil {
		return int64(*n.Limit), false
	}
	est := e.model.Lookup(n.ParentType, n.Name, true)
	return int64(est.Value), est.Calibrated
}

func (e *Evaluator) visit(r *Result, n *model.SelectionNode, ancestorCumulative int64) int64 {
	eff, calibrated := e.EffectiveCardinality(n)
	cumulative := mul(ancestorCumulative, eff)
	r.Order = append(r.Order, n)

	if n.Limit != nil && *n.Limit == 0 && n.IsList {
		r.Notes = append(r.Notes, model.Note{
			Path:    n.Path,
			Message: "limit: 0 selects nothing; the subtree is useless",
		})
	}

	children := int64(0)
	for _, c := range n.Children {
		children = add(children, e.visit(r, c, cumulative))
	}
	branch := int64(0)
	for _, v := range n.Variants {
		sum := int64(0)
		for _, c := range v.Children {
			sum = add(sum, e.visit(r, c, cumulative))
		}
		branch = max(branch, sum)
	}
	children = add(children, branch)
	if n.Leaf() {
		children = 1
	}

	contribution := mul(eff, children)
	r.Nodes[n] = model.CostResult{
		Path:                 n.Path,
		EffectiveCardinality: eff,
		Cumulative:           cumulative,
		Contribution:         contribution,
		Calibrated:           calibrated,
	}
	return contribution
}

// add and mul saturate at MaxInt64 so pathological queries stay non-negative.
func add(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func mul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
