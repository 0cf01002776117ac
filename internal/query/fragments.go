package query

import (
	"slices"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// fragmentArena indexes fragment definitions so spreads are resolved by
// index and the chain of fragments being expanded can be kept as a stack of ints.
type fragmentArena struct {
	defs  []*ast.FragmentDefinition
	index map[string]int
}

func newFragmentArena(file string, list ast.FragmentDefinitionList) (*fragmentArena, error) {
	a := &fragmentArena{
		defs:  make([]*ast.FragmentDefinition, 0, len(list)),
		index: make(map[string]int, len(list)),
	}
	for _, def := range list {
		if _, dup := a.index[def.Name]; dup {
			return nil, errorAt(file, def.Position, "duplicate fragment %q", def.Name)
		}
		a.index[def.Name] = len(a.defs)
		a.defs = append(a.defs, def)
	}
	if err := a.checkCycles(file); err != nil {
		return nil, err
	}
	return a, nil
}

// checkCycles walks every definition, including fragments the operation
// never spreads, and reports the first cycle in definition order.
func (a *fragmentArena) checkCycles(file string) error {
	done := make([]bool, len(a.defs))
	var visit func(set ast.SelectionSet, stack []int) error
	visit = func(set ast.SelectionSet, stack []int) error {
		for _, sel := range set {
			switch s := sel.(type) {
			case *ast.Field:
				if err := visit(s.SelectionSet, stack); err != nil {
					return err
				}
			case *ast.InlineFragment:
				if err := visit(s.SelectionSet, stack); err != nil {
					return err
				}
			case *ast.FragmentSpread:
				def, next, err := a.enter(file, s, stack)
				if err != nil {
					return err
				}
				idx := next[len(next)-1]
				if done[idx] {
					continue
				}
				if err := visit(def.SelectionSet, next); err != nil {
					return err
				}
				done[idx] = true
			}
		}
		return nil
	}
	for i, def := range a.defs {
		if done[i] {
			continue
		}
		if err := visit(def.SelectionSet, []int{i}); err != nil {
			return err
		}
		done[i] = true
	}
	return nil
}

func (a *fragmentArena) names() []string {
	out := make([]string, len(a.defs))
	for i, d := range a.defs {
		out[i] = d.Name
	}
	return out
}

// enter resolves a spread and pushes it onto stack. A spread of a fragment
// already on the stack is a cycle.
func (a *fragmentArena) enter(file string, spread *ast.FragmentSpread, stack []int) (*ast.FragmentDefinition, []int, error) {
	idx, ok := a.index[spread.Name]
	if !ok {
		return nil, nil, errorAt(file, spread.Position, "unknown fragment %q", spread.Name)
	}
	if at := slices.Index(stack, idx); at >= 0 {
		chain := make([]string, 0, len(stack)-at+1)
		for _, i := range stack[at:] {
			chain = append(chain, a.defs[i].Name)
		}
		chain = append(chain, spread.Name)
		return nil, nil, errorAt(file, spread.Position, "fragment cycle: %s", strings.Join(chain, " -> "))
	}
	next := append(slices.Clone(stack), idx)
	return a.defs[idx], next, nil
}
