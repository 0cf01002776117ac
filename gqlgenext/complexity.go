package gqlgenext

import (
	"math"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
)

// Multiplier returns a gqlgen complexity function for the list edge
// parentType.field that scales the child complexity by the model estimate:
//
//	cfg.Complexity.Site.Devices = limit.Multiplier("Site", "devices")
func (b *BudgetLimit) Multiplier(parentType, field string) func(childComplexity int) int {
	return multiplier(b.analyzer.Model(), parentType, field)
}

// LimitMultiplier is Multiplier for list edges that take a limit argument.
// An explicit limit replaces the model estimate.
func (b *BudgetLimit) LimitMultiplier(parentType, field string) func(childComplexity int, limit *int) int {
	return limitMultiplier(b.analyzer.Model(), parentType, field)
}

func multiplier(m *cardinality.Model, parentType, field string) func(int) int {
	n := m.Lookup(parentType, field, true).Value
	return func(childComplexity int) int {
		return saturate(int64(n) * int64(max(childComplexity, 1)))
	}
}

func limitMultiplier(m *cardinality.Model, parentType, field string) func(int, *int) int {
	n := m.Lookup(parentType, field, true).Value
	return func(childComplexity int, limit *int) int {
		c := n
		if limit != nil && *limit >= 0 {
			c = *limit
		}
		return saturate(int64(c) * int64(max(childComplexity, 1)))
	}
}

func saturate(v int64) int {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
