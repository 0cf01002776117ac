package calibrate

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
)

// step is one field on the way from the root to the measured edge.
type step struct {
	Name       string
	ParentType string
	Type       string
	List       bool
	Arguments  map[string]any
}

// Edge is a list edge to measure together with the path that reaches it.
type Edge struct {
	Key   cardinality.Key
	chain []step
}

// Ancestors returns the number of fields above the edge.
func (e Edge) Ancestors() int { return len(e.chain) - 1 }

// CollectEdges returns the distinct list edges of docs in first-seen order.
func CollectEdges(docs ...*model.QueryDocument) []Edge {
	seen := make(map[cardinality.Key]bool)
	var edges []Edge
	for _, doc := range docs {
		doc.Walk(func(n *model.SelectionNode, ancestors []*model.SelectionNode) {
			if !n.IsList {
				return
			}
			k := cardinality.Key{ParentType: n.ParentType, Field: n.Name}
			if seen[k] {
				return
			}
			seen[k] = true
			chain := make([]step, 0, len(ancestors)+1)
			for _, a := range append(slices.Clip(ancestors), n) {
				chain = append(chain, step{Name: a.Name, ParentType: a.ParentType, Type: a.Type, List: a.IsList, Arguments: a.Arguments})
			}
			edges = append(edges, Edge{Key: k, chain: chain})
		})
	}
	return edges
}

// Query builds the probe document: every list ancestor is capped at sample
// rows, a root edge is capped at rootLimit rows and only ids are selected.
func (e Edge) Query(sample, rootLimit int) string {
	var b strings.Builder
	b.WriteString("query CalibrationProbe {")
	closers := 0
	for i, s := range e.chain {
		if i > 0 && s.ParentType != "" && s.ParentType != e.chain[i-1].Type {
			b.WriteString(" ... on " + s.ParentType + " {")
			closers++
		}
		b.WriteString(" " + s.Name)
		switch {
		case i == 0 && len(e.chain) == 1:
			b.WriteString("(limit: " + strconv.Itoa(rootLimit) + ") { id }")
		case i == len(e.chain)-1:
			b.WriteString(" { id }")
		case s.List:
			b.WriteString("(limit: " + strconv.Itoa(sample) + ") {")
			closers++
		default:
			if args := printArguments(s.Arguments); args != "" {
				b.WriteString("(" + args + ")")
			}
			b.WriteString(" {")
			closers++
		}
	}
	b.WriteString(strings.Repeat(" }", closers))
	b.WriteString(" }")
	return b.String()
}

// Counts walks a probe response and returns the child count under every
// sampled parent.
func (e Edge) Counts(body []byte) []float64 {
	var out []float64
	var walk func(v gjson.Result, i int)
	walk = func(v gjson.Result, i int) {
		if v.IsArray() {
			v.ForEach(func(_, item gjson.Result) bool {
				walk(item, i)
				return true
			})
			return
		}
		if !v.IsObject() {
			return
		}
		child := v.Get(e.chain[i].Name)
		if i == len(e.chain)-1 {
			if child.IsArray() {
				out = append(out, float64(len(child.Array())))
			}
			return
		}
		walk(child, i+1)
	}
	walk(gjson.GetBytes(body, "data"), 0)
	return out
}

func printArguments(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+printValue(args[k]))
	}
	return strings.Join(parts, ", ")
}

func printValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		items := make([]string, len(x))
		for i, item := range x {
			items[i] = printValue(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]any:
		return "{" + printArguments(x) + "}"
	default:
		return fmt.Sprint(x)
	}
}
