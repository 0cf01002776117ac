package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

// Argument names the parser extracts into dedicated node fields.
const (
	ArgLimit      = "limit"
	ArgFirst      = "first"
	ArgOffset     = "offset"
	ArgPagination = "pagination"
	ArgFilters    = "filters"
	ArgFilter     = "filter"
)

// variables merges operation default values with the supplied variables.
func variables(file string, op *ast.OperationDefinition, supplied map[string]any) (map[string]any, error) {
	vars := make(map[string]any, len(op.VariableDefinitions)+len(supplied))
	for _, def := range op.VariableDefinitions {
		if def.DefaultValue == nil {
			continue
		}
		v, err := def.DefaultValue.Value(nil)
		if err != nil {
			return nil, errorAt(file, def.Position, "default value of $%s: %v", def.Variable, err)
		}
		vars[def.Variable] = v
	}
	for k, v := range supplied {
		vars[k] = v
	}
	return vars, nil
}

func (b *builder) arguments(f *ast.Field) (map[string]any, error) {
	if len(f.Arguments) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(f.Arguments))
	for _, a := range f.Arguments {
		v, err := a.Value.Value(b.vars)
		if err != nil {
			return nil, errorAt(b.file, a.Position, "argument %s: %v", a.Name, err)
		}
		if v == nil {
			continue
		}
		args[a.Name] = v
	}
	return args, nil
}

// pagination reads limit/offset from the field arguments or a pagination object.
func pagination(args map[string]any) (limit, offset *int, err error) {
	page, _ := args[ArgPagination].(map[string]any)

	for _, raw := range []any{args[ArgLimit], args[ArgFirst], page[ArgLimit]} {
		if raw == nil {
			continue
		}
		if limit, err = nonNegative(ArgLimit, raw); err != nil {
			return nil, nil, err
		}
		break
	}
	for _, raw := range []any{args[ArgOffset], page[ArgOffset]} {
		if raw == nil {
			continue
		}
		if offset, err = nonNegative(ArgOffset, raw); err != nil {
			return nil, nil, err
		}
		break
	}
	return limit, offset, nil
}

func filters(args map[string]any) map[string]any {
	if f, ok := args[ArgFilters].(map[string]any); ok {
		return f
	}
	if f, ok := args[ArgFilter].(map[string]any); ok {
		return f
	}
	return nil
}

func nonNegative(name string, raw any) (*int, error) {
	n, err := toInt(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("%s must be >= 0, got %d", name, n)
	}
	return &n, nil
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("not an integer: %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}
