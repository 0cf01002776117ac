package model

import "strings"

// ─── Query document ─────────────────────────────────────────

// OperationKind is the GraphQL operation type of an analyzed document.
type OperationKind string

// Allowed OperationKind values.
const (
	OperationQuery        OperationKind = "query"
	OperationMutation     OperationKind = "mutation"
	OperationSubscription OperationKind = "subscription"
)

func (k OperationKind) String() string { return string(k) }

// QueryDocument is a parsed GraphQL document reduced to the selected operation.
// It owns its selection forest; nothing mutates the tree after parsing.
type QueryDocument struct {
	Source    string        `json:"-"`
	Name      string        `json:"name"`
	Operation string        `json:"operation,omitempty"`
	Kind      OperationKind `json:"kind"`
	Fragments []string      `json:"fragments,omitempty"`
	Roots     []*SelectionNode
}

// Walk visits every node of the document depth-first, including variant branches.
// The ancestors slice excludes the node itself and must not be retained.
func (d *QueryDocument) Walk(fn func(n *SelectionNode, ancestors []*SelectionNode)) {
	var ancestors []*SelectionNode
	var visit func(n *SelectionNode)
	visit = func(n *SelectionNode) {
		fn(n, ancestors)
		ancestors = append(ancestors, n)
		for _, c := range n.Children {
			visit(c)
		}
		for _, v := range n.Variants {
			for _, c := range v.Children {
				visit(c)
			}
		}
		ancestors = ancestors[:len(ancestors)-1]
	}
	for _, r := range d.Roots {
		visit(r)
	}
}

// ─── Selection tree ─────────────────────────────────────────

// SelectionNode is one selected field with its arguments and sub-selections.
type SelectionNode struct {
	Name       string         `json:"name"`
	Alias      string         `json:"alias,omitempty"`
	ParentType string         `json:"parent_type"`
	Type       string         `json:"type,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Limit      *int           `json:"limit,omitempty"`
	Offset     *int           `json:"offset,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	IsList     bool           `json:"is_list"`
	Singular   bool           `json:"singular,omitempty"`

	Children []*SelectionNode `json:"children,omitempty"`
	Variants []*Variant       `json:"variants,omitempty"`

	// Depth is the number of list-typed ancestors between the node and the root.
	Depth  int    `json:"depth"`
	Path   string `json:"path"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// Variant is a typed-fragment branch of a polymorphic field.
type Variant struct {
	TypeCondition string           `json:"type_condition"`
	Children      []*SelectionNode `json:"children"`
}

// ResponseKey is the alias when present, otherwise the field name.
func (n *SelectionNode) ResponseKey() string {
	if n.Alias != "" {
		return n.Alias
	}
	return n.Name
}

// Bounded reports whether the node cannot return an open-ended list.
func (n *SelectionNode) Bounded() bool {
	return !n.IsList || n.Singular || n.Limit != nil
}

// Leaf reports whether the node selects nothing beneath it.
func (n *SelectionNode) Leaf() bool {
	return len(n.Children) == 0 && len(n.Variants) == 0
}

// ListLevel is the list nesting level of the node counting itself.
func (n *SelectionNode) ListLevel() int {
	if n.IsList {
		return n.Depth + 1
	}
	return n.Depth
}

// JoinPath builds a dot-separated node path.
func JoinPath(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}

// VariantSegment is the path segment that marks a typed-fragment branch.
func VariantSegment(typeCondition string) string {
	return "[" + typeCondition + "]"
}
