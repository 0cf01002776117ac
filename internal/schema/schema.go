// Package schema resolves field result types, list-ness and singular lookups
// for the parent-type/field edges of a query.
package schema

import (
	"strings"
	"unicode"

	"github.com/vektah/gqlparser/v2/ast"
)

// ListSuffix marks NetBox-style list accessors such as site_list.
const ListSuffix = "_list"

// Field describes one parent-type/field edge.
type Field struct {
	Type     string
	List     bool
	Singular bool
}

// Resolver supplies type information for selected fields.
type Resolver interface {
	RootType(op ast.Operation) string
	Field(parentType, name string) (Field, bool)
}

// Resolve asks r for the edge and falls back to naming heuristics when r
// does not know it. hasSelection and hasID describe the selected field.
func Resolve(r Resolver, parentType, name string, hasSelection, hasID bool) Field {
	if r != nil {
		if f, ok := r.Field(parentType, name); ok {
			return f
		}
	}
	return Guess(name, hasSelection, hasID)
}

// Guess derives edge information from the field name alone.
func Guess(name string, hasSelection, hasID bool) Field {
	if !hasSelection {
		return Field{}
	}
	if base, ok := strings.CutSuffix(name, ListSuffix); ok && base != "" {
		return Field{Type: TypeName(base), List: true}
	}
	return Field{Type: TypeName(name), Singular: hasID}
}

// TypeName converts a snake_case field name to a GraphQL type name: ip_address -> IpAddress.
func TypeName(field string) string {
	var b strings.Builder
	upper := true
	for _, r := range field {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func rootTypeName(op ast.Operation) string {
	switch op {
	case ast.Mutation:
		return "Mutation"
	case ast.Subscription:
		return "Subscription"
	default:
		return "Query"
	}
}
