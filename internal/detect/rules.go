package detect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
)

// UnboundedList flags list fields without an explicit limit. Singular
// by-ID lookups are exempt.
func UnboundedList(_ *Context, n *model.SelectionNode, _ []*model.SelectionNode) []model.Issue {
	if n.Bounded() {
		return nil
	}
	return []model.Issue{issueAt(n, model.IssueUnboundedList, model.SeverityWarning,
		fmt.Sprintf("list field %s has no limit", n.Name))}
}

// DepthExceeded fires where a path's list nesting first exceeds the soft
// limit (WARNING) and again where it first exceeds the hard limit (CRITICAL).
func DepthExceeded(ctx *Context, n *model.SelectionNode, _ []*model.SelectionNode) []model.Issue {
	if !n.IsList {
		return nil
	}
	level := n.ListLevel()
	soft, hard := ctx.Thresholds.DepthSoftLimit, ctx.Thresholds.DepthHardLimit
	switch {
	case level == hard+1:
		return []model.Issue{issueAt(n, model.IssueDepthExceeded, model.SeverityCritical,
			fmt.Sprintf("list nesting depth %d exceeds hard limit %d", level, hard))}
	case level == soft+1 && soft < hard:
		return []model.Issue{issueAt(n, model.IssueDepthExceeded, model.SeverityWarning,
			fmt.Sprintf("list nesting depth %d exceeds soft limit %d", level, soft))}
	}
	return nil
}

// FanOut fires on the shallowest list node of a path whose cumulative
// object count exceeds the threshold. The bound is exclusive.
func FanOut(ctx *Context, n *model.SelectionNode, ancestors []*model.SelectionNode) []model.Issue {
	if !n.IsList || ctx.Costs == nil {
		return nil
	}
	limit := ctx.Thresholds.FanOutThreshold
	c := ctx.Costs.Of(n)
	if c.Cumulative <= limit {
		return nil
	}
	for _, a := range ancestors {
		if a.IsList && ctx.Costs.Of(a).Cumulative > limit {
			return nil
		}
	}
	return []model.Issue{issueAt(n, model.IssueFanOut, model.SeverityCritical,
		fmt.Sprintf("%s fans out to %d objects (threshold %d)", n.Path, c.Cumulative, limit))}
}

// NestedFilterDepth flags filters that reach through a relation deeper than
// the allowed hops when the filtered type registers a local filter for that relation.
func NestedFilterDepth(ctx *Context, n *model.SelectionNode, _ []*model.SelectionNode) []model.Issue {
	if len(n.Filters) == 0 {
		return nil
	}
	maxHops := ctx.Thresholds.NestedFilterMaxHops
	var out []model.Issue
	for _, relation := range sortedKeys(n.Filters) {
		hops := 1 + nesting(n.Filters[relation])
		if hops <= maxHops {
			continue
		}
		local, ok := ctx.LocalFilters.Lookup(n.Type, relation)
		if !ok {
			continue
		}
		path := append([]string{"filters", relation}, deepestPath(n.Filters[relation])...)
		out = append(out, issueAt(n, model.IssueNestedFilterDepth, model.SeverityWarning,
			fmt.Sprintf("%s traverses %d hops on %s; use the local filter instead: filters: {%s: %q}",
				strings.Join(path, "."), hops, n.Type, local, localPlaceholder(local))))
	}
	return out
}

// SearchAntiPattern flags free-text search on a field whose unpaginated result
// set is estimated above the row threshold.
func SearchAntiPattern(ctx *Context, n *model.SelectionNode, _ []*model.SelectionNode) []model.Issue {
	if !n.IsList || ctx.Model == nil {
		return nil
	}
	arg, ok := searchArgument(ctx.Thresholds.SearchArguments, n)
	if !ok {
		return nil
	}
	est := ctx.Model.Lookup(n.ParentType, n.Name, true)
	if est.Value <= ctx.Thresholds.SearchRowThreshold {
		return nil
	}
	return []model.Issue{issueAt(n, model.IssueSearchAntiPattern, model.SeverityWarning,
		fmt.Sprintf("free-text search %q on %s scans ~%d rows (threshold %d)", arg, n.Name, est.Value, ctx.Thresholds.SearchRowThreshold))}
}

func searchArgument(names []string, n *model.SelectionNode) (string, bool) {
	for _, name := range names {
		if _, ok := n.Arguments[name]; ok {
			return name, true
		}
		if _, ok := n.Filters[name]; ok {
			return name, true
		}
	}
	return "", false
}

// deepestPath returns the keys below v along its deepest path. Ties go to the
// first key in sorted order.
func deepestPath(v any) []string {
	switch x := v.(type) {
	case map[string]any:
		var best []string
		found := false
		for _, k := range sortedKeys(x) {
			p := append([]string{k}, deepestPath(x[k])...)
			if !found || len(p) > len(best) {
				best, found = p, true
			}
		}
		return best
	case []any:
		var best []string
		for _, item := range x {
			if p := deepestPath(item); len(p) > len(best) {
				best = p
			}
		}
		return best
	}
	return nil
}

func localPlaceholder(local string) string {
	if strings.HasSuffix(local, "_id") {
		return "<id>"
	}
	return "<slug>"
}

// nesting counts the object levels below v along its deepest path.
func nesting(v any) int {
	obj, ok := v.(map[string]any)
	if !ok {
		if list, ok := v.([]any); ok {
			deepest := 0
			for _, item := range list {
				deepest = max(deepest, nesting(item))
			}
			return deepest
		}
		return 0
	}
	deepest := 0
	for _, child := range obj {
		deepest = max(deepest, 1+nesting(child))
	}
	return deepest
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
