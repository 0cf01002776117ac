package cost

import (
	"fmt"
	"math"
	"testing"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
	"github.com/couchcryptid/gql-cost-analyzer/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, text string) *model.QueryDocument {
	t.Helper()
	doc, err := query.NewParser(nil).Parse(query.Source{Text: text})
	require.NoError(t, err)
	return doc
}

func TestEvaluate_ExplicitLimitsMultiply(t *testing.T) {
	doc := parse(t, `{ site_list(limit: 10) { devices(limit: 20) { interfaces(limit: 50) { name } } } }`)
	r := NewEvaluator(cardinality.NewModel()).Evaluate(doc)

	assert.Equal(t, int64(10*20*50), r.Total)

	interfaces := doc.Roots[0].Children[0].Children[0]
	c := r.Of(interfaces)
	assert.Equal(t, int64(50), c.EffectiveCardinality)
	assert.Equal(t, int64(10000), c.Cumulative)
	assert.Equal(t, int64(50), c.Contribution)
	assert.Equal(t, "site_list.devices.interfaces", c.Path)
}

func TestEvaluate_DefaultCardinalities(t *testing.T) {
	doc := parse(t, `{ site_list { devices { interfaces { name } } } }`)
	r := NewEvaluator(cardinality.NewModel()).Evaluate(doc)

	assert.Equal(t, int64(50*50*50), r.Total)
}

func TestEvaluate_LeavesSumUnderParent(t *testing.T) {
	doc := parse(t, `{ device_list(limit: 4) { name serial site { name slug } } }`)
	r := NewEvaluator(cardinality.NewModel()).Evaluate(doc)

	// name(1) + serial(1) + site(1 × (1+1)) = 4, × 4 devices
	assert.Equal(t, int64(16), r.Total)
}

func TestEvaluate_RootsAreSummed(t *testing.T) {
	doc := parse(t, `{ site_list(limit: 3) { name } device_list(limit: 7) { name } }`)
	r := NewEvaluator(cardinality.NewModel()).Evaluate(doc)

	assert.Equal(t, int64(10), r.Total)
}

func TestEvaluate_CalibratedModel(t *testing.T) {
	doc := parse(t, `{ site_list(limit: 10) { devices { name } } }`)
	base := cardinality.NewModel()
	calibrated := base.WithOverrides([]cardinality.Entry{
		{Key: cardinality.Key{ParentType: "Site", Field: "devices"}, Count: 120, Calibrated: true},
	})

	before := NewEvaluator(base).Evaluate(doc)
	after := NewEvaluator(calibrated).Evaluate(doc)

	assert.Equal(t, int64(500), before.Total)
	assert.Equal(t, int64(1200), after.Total)
	assert.InDelta(t, 120.0/50.0, float64(after.Total)/float64(before.Total), 1e-9)
	assert.True(t, after.Of(doc.Roots[0].Children[0]).Calibrated)
}

func TestEvaluate_LimitZero(t *testing.T) {
	doc := parse(t, `{ site_list(limit: 0) { devices { name } } device_list(limit: 2) { name } }`)
	r := NewEvaluator(cardinality.NewModel()).Evaluate(doc)

	assert.Equal(t, int64(2), r.Total)
	require.Len(t, r.Notes, 1)
	assert.Equal(t, "site_list", r.Notes[0].Path)
	assert.Contains(t, r.Notes[0].Message, "useless")
}

func TestEvaluate_MonotonicInCardinality(t *testing.T) {
	prev := int64(-1)
	for _, devices := range []int{0, 1, 2, 10, 49, 50, 51, 500} {
		doc := parse(t, fmt.Sprintf(`{ site_list(limit: 5) { name devices(limit: %d) { name interfaces { name } } } }`, devices))
		total := NewEvaluator(cardinality.NewModel()).Evaluate(doc).Total
		assert.GreaterOrEqual(t, total, prev, "devices=%d", devices)
		prev = total
	}

	prev = -1
	for _, ifaces := range []float64{0, 1, 12.5, 50, 900} {
		m := cardinality.NewModel().WithOverrides([]cardinality.Entry{
			{Key: cardinality.Key{ParentType: "Device", Field: "interfaces"}, Count: ifaces, Calibrated: true},
		})
		doc := parse(t, `{ site_list(limit: 5) { devices(limit: 3) { interfaces { name } } } }`)
		total := NewEvaluator(m).Evaluate(doc).Total
		assert.GreaterOrEqual(t, total, prev, "interfaces=%v", ifaces)
		prev = total
	}
}

func TestEvaluate_VariantsTakeMaxBranch(t *testing.T) {
	sdl, err := schema.ParseSDL("s", `
		type Query { search(q: String): [Result!]! }
		union Result = Device | Site
		type Device { name: String interfaces: [Interface!]! }
		type Site { name: String devices: [Device!]! }
		type Interface { name: String }
	`)
	require.NoError(t, err)
	doc, err := query.NewParser(sdl).Parse(query.Source{Text: `{
		search(q: "x", limit: 2) {
			__typename
			... on Device { interfaces(limit: 3) { name } }
			... on Site { devices(limit: 9) { name } }
		}
	}`})
	require.NoError(t, err)

	r := NewEvaluator(cardinality.NewModel()).Evaluate(doc)

	// 2 × (__typename 1 + max(3, 9))
	assert.Equal(t, int64(20), r.Total)
	assert.Len(t, r.Costs(), 6)
}

func TestEvaluate_Saturates(t *testing.T) {
	doc := parse(t, `{ a_list(limit: 2000000000) { b_list(limit: 2000000000) { c_list(limit: 2000000000) { name } } } }`)
	r := NewEvaluator(cardinality.NewModel()).Evaluate(doc)

	assert.Equal(t, int64(math.MaxInt64), r.Total)
}
