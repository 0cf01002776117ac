package schema

import (
	"fmt"
	"os"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// SDL resolves edges against a schema definition loaded with gqlparser.
type SDL struct {
	schema *ast.Schema
}

var _ Resolver = (*SDL)(nil)

// LoadSDL reads and validates an SDL file.
func LoadSDL(path string) (*SDL, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return ParseSDL(path, string(b))
}

// ParseSDL builds a resolver from SDL text.
func ParseSDL(name, input string) (*SDL, error) {
	s, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: input})
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	return &SDL{schema: s}, nil
}

// RootType implements Resolver.
func (s *SDL) RootType(op ast.Operation) string {
	var def *ast.Definition
	switch op {
	case ast.Mutation:
		def = s.schema.Mutation
	case ast.Subscription:
		def = s.schema.Subscription
	default:
		def = s.schema.Query
	}
	if def == nil {
		return rootTypeName(op)
	}
	return def.Name
}

// Field implements Resolver.
func (s *SDL) Field(parentType, name string) (Field, bool) {
	def := s.schema.Types[parentType]
	if def == nil {
		return Field{}, false
	}
	fd := def.Fields.ForName(name)
	if fd == nil {
		return Field{}, false
	}
	list := fd.Type.Elem != nil
	return Field{
		Type:     fd.Type.Name(),
		List:     list,
		Singular: !list && fd.Arguments.ForName("id") != nil,
	}, true
}
