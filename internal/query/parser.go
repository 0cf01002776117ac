// Package query turns GraphQL text into the immutable selection forest the
// evaluator and detector walk. Fragments are inlined before the tree is built.
package query

import (
	"slices"

	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/schema"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Source is one document to parse.
type Source struct {
	Name          string
	Text          string
	OperationName string
	Variables     map[string]any
}

// Parser builds selection trees using a schema resolver for edge types.
type Parser struct {
	resolver schema.Resolver
}

// NewParser returns a parser backed by r, or by the built-in NetBox catalog when r is nil.
func NewParser(r schema.Resolver) *Parser {
	if r == nil {
		r = schema.NetBox()
	}
	return &Parser{resolver: r}
}

// Parse parses src and builds the selection forest of its operation.
func (p *Parser) Parse(src Source) (*model.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: src.Name, Input: src.Text})
	if err != nil {
		return nil, syntaxError(src.Name, err)
	}

	op, err := selectOperation(src.Name, doc, src.OperationName)
	if err != nil {
		return nil, err
	}

	frags, err := newFragmentArena(src.Name, doc.Fragments)
	if err != nil {
		return nil, err
	}

	vars, err := variables(src.Name, op, src.Variables)
	if err != nil {
		return nil, err
	}

	b := &builder{file: src.Name, resolver: p.resolver, frags: frags, vars: vars}
	rootType := p.resolver.RootType(op.Operation)

	top := newCollected(rootType)
	if err := b.collect(op.SelectionSet, top, top, nil); err != nil {
		return nil, err
	}
	roots, err := b.nodes(top, "", 0)
	if err != nil {
		return nil, err
	}
	if len(top.variants) > 0 {
		v := top.variants[0]
		return nil, errorAt(src.Name, op.Position, "type condition %q on root type %s", v.typeName, rootType)
	}

	kind := model.OperationKind(op.Operation)
	if kind == "" {
		kind = model.OperationQuery
	}
	return &model.QueryDocument{
		Source:    src.Text,
		Name:      src.Name,
		Operation: op.Name,
		Kind:      kind,
		Fragments: frags.names(),
		Roots:     roots,
	}, nil
}

func selectOperation(file string, doc *ast.QueryDocument, name string) (*ast.OperationDefinition, error) {
	if name != "" {
		op := doc.Operations.ForName(name)
		if op == nil {
			return nil, errorAt(file, nil, "operation %q not found", name)
		}
		return op, nil
	}
	switch len(doc.Operations) {
	case 0:
		return nil, errorAt(file, nil, "document contains no operations")
	case 1:
		return doc.Operations[0], nil
	default:
		return nil, errorAt(file, doc.Operations[1].Position, "document has %d operations; an operation name is required", len(doc.Operations))
	}
}

// ─── Collection ─────────────────────────────────────────────

// fieldEntry is one occurrence of a field together with the fragment stack it was reached through.
type fieldEntry struct {
	field *ast.Field
	stack []int
}

type fieldGroup struct {
	key     string
	entries []fieldEntry
}

// collected is a flattened selection set: fields merged by response key, and
// typed-fragment branches keyed by type condition.
type collected struct {
	typeName string
	fields   []*fieldGroup
	byKey    map[string]*fieldGroup
	variants []*collected
	byType   map[string]*collected
}

func newCollected(typeName string) *collected {
	return &collected{
		typeName: typeName,
		byKey:    make(map[string]*fieldGroup),
		byType:   make(map[string]*collected),
	}
}

func (c *collected) add(f *ast.Field, stack []int) {
	key := f.Alias
	if key == "" {
		key = f.Name
	}
	g, ok := c.byKey[key]
	if !ok {
		g = &fieldGroup{key: key}
		c.byKey[key] = g
		c.fields = append(c.fields, g)
	}
	g.entries = append(g.entries, fieldEntry{field: f, stack: stack})
}

func (c *collected) variant(typeName string) *collected {
	v, ok := c.byType[typeName]
	if !ok {
		v = newCollected(typeName)
		c.byType[typeName] = v
		c.variants = append(c.variants, v)
	}
	return v
}

type builder struct {
	file     string
	resolver schema.Resolver
	frags    *fragmentArena
	vars     map[string]any
}

// collect flattens set into target. Fragments on another concrete type open a
// branch on top, the collection of the field that owns the selection set.
func (b *builder) collect(set ast.SelectionSet, target, top *collected, stack []int) error {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			target.add(s, stack)
		case *ast.InlineFragment:
			if err := b.collect(s.SelectionSet, b.scope(s.TypeCondition, target, top), top, stack); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			def, next, err := b.frags.enter(b.file, s, stack)
			if err != nil {
				return err
			}
			if err := b.collect(def.SelectionSet, b.scope(def.TypeCondition, target, top), top, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) scope(typeCondition string, target, top *collected) *collected {
	switch typeCondition {
	case "", target.typeName:
		return target
	case top.typeName:
		return top
	default:
		return top.variant(typeCondition)
	}
}

// ─── Tree construction ──────────────────────────────────────

func (b *builder) nodes(c *collected, parentPath string, depth int) ([]*model.SelectionNode, error) {
	out := make([]*model.SelectionNode, 0, len(c.fields))
	for _, g := range c.fields {
		n, err := b.node(g, c.typeName, parentPath, depth)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (b *builder) node(g *fieldGroup, parentType, parentPath string, depth int) (*model.SelectionNode, error) {
	f := g.entries[0].field
	hasSelection := slices.ContainsFunc(g.entries, func(e fieldEntry) bool { return len(e.field.SelectionSet) > 0 })

	args, err := b.arguments(f)
	if err != nil {
		return nil, err
	}
	_, hasID := args["id"]
	info := schema.Resolve(b.resolver, parentType, f.Name, hasSelection, hasID)

	n := &model.SelectionNode{
		Name:       f.Name,
		ParentType: parentType,
		Type:       info.Type,
		Arguments:  args,
		IsList:     info.List,
		Singular:   info.Singular,
		Depth:      depth,
		Path:       model.JoinPath(parentPath, g.key),
	}
	if f.Alias != "" && f.Alias != f.Name {
		n.Alias = f.Alias
	}
	if f.Position != nil {
		n.Line, n.Column = f.Position.Line, f.Position.Column
	}
	if n.Limit, n.Offset, err = pagination(args); err != nil {
		return nil, errorAt(b.file, f.Position, "field %s: %v", n.Path, err)
	}
	n.Filters = filters(args)

	if !hasSelection {
		return n, nil
	}

	childDepth := depth
	if n.IsList {
		childDepth++
	}
	c := newCollected(info.Type)
	for _, e := range g.entries {
		if err := b.collect(e.field.SelectionSet, c, c, e.stack); err != nil {
			return nil, err
		}
	}
	if n.Children, err = b.nodes(c, n.Path, childDepth); err != nil {
		return nil, err
	}
	for _, v := range c.variants {
		children, err := b.nodes(v, model.JoinPath(n.Path, model.VariantSegment(v.typeName)), childDepth)
		if err != nil {
			return nil, err
		}
		n.Variants = append(n.Variants, &model.Variant{TypeCondition: v.typeName, Children: children})
	}
	return n, nil
}
