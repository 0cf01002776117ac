// Package cardinality supplies the expected child count of every
// parent-type/field edge. A Model is read-only once built; calibration
// produces a new Model through WithOverrides instead of mutating one.
package cardinality

import (
	"math"
	"sort"
	"time"
)

// Built-in defaults for edges without a table entry.
const (
	DefaultToMany = 50
	DefaultToOne  = 1
)

// Key identifies an edge: the field Field selected on ParentType.
type Key struct {
	ParentType string `json:"parent_type"`
	Field      string `json:"field"`
}

func (k Key) String() string { return k.ParentType + "." + k.Field }

// Entry is the cardinality state of one edge.
type Entry struct {
	Key
	Default    int       `json:"default"`
	Count      float64   `json:"count,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	MeasuredAt time.Time `json:"measured_at,omitempty"`
	Calibrated bool      `json:"calibrated"`
}

// Estimate is the outcome of a lookup.
type Estimate struct {
	Value      int
	Calibrated bool
}

// Model maps edges to expected child counts.
type Model struct {
	toMany    int
	toOne     int
	maxAge    time.Duration
	now       func() time.Time
	defaults  map[Key]int
	overrides map[Key]Entry
}

// Option configures a Model.
type Option func(*Model)

// WithToMany sets the fallback for one-to-many edges.
func WithToMany(n int) Option { return func(m *Model) { m.toMany = n } }

// WithToOne sets the fallback for to-one edges.
func WithToOne(n int) Option { return func(m *Model) { m.toOne = n } }

// WithMaxAge makes calibrated values older than d stale. Zero disables expiry.
func WithMaxAge(d time.Duration) Option { return func(m *Model) { m.maxAge = d } }

// WithClock replaces time.Now for staleness checks.
func WithClock(now func() time.Time) Option { return func(m *Model) { m.now = now } }

// WithDefaults adds per-edge default values to the table.
func WithDefaults(table map[Key]int) Option {
	return func(m *Model) {
		for k, v := range table {
			m.defaults[k] = v
		}
	}
}

// NewModel builds a Model with no calibration data.
func NewModel(opts ...Option) *Model {
	m := &Model{
		toMany:    DefaultToMany,
		toOne:     DefaultToOne,
		now:       time.Now,
		defaults:  make(map[Key]int),
		overrides: make(map[Key]Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Default returns the uncalibrated value for an edge.
func (m *Model) Default(k Key, list bool) int {
	if v, ok := m.defaults[k]; ok {
		return v
	}
	if list {
		return m.toMany
	}
	return m.toOne
}

// Lookup returns the calibrated value for the edge if present and fresh,
// otherwise its default. It never fails.
func (m *Model) Lookup(parentType, field string, list bool) Estimate {
	k := Key{ParentType: parentType, Field: field}
	if e, ok := m.overrides[k]; ok && e.Calibrated && !m.stale(e) {
		return Estimate{Value: ceil(e.Count), Calibrated: true}
	}
	return Estimate{Value: m.Default(k, list)}
}

func (m *Model) stale(e Entry) bool {
	if m.maxAge <= 0 || e.MeasuredAt.IsZero() {
		return false
	}
	return m.now().Sub(e.MeasuredAt) > m.maxAge
}

// WithOverrides returns a copy of m with entries layered over its existing
// overrides. Entries tagged calibrated=false are kept for reporting but
// never change a lookup. The receiver is not modified.
func (m *Model) WithOverrides(entries []Entry) *Model {
	next := *m
	next.overrides = make(map[Key]Entry, len(m.overrides)+len(entries))
	for k, e := range m.overrides {
		next.overrides[k] = e
	}
	for _, e := range entries {
		if e.Default == 0 {
			e.Default = m.defaults[e.Key]
		}
		next.overrides[e.Key] = e
	}
	return &next
}

// Overrides returns the overlay entries sorted by key.
func (m *Model) Overrides() []Entry {
	out := make([]Entry, 0, len(m.overrides))
	for _, e := range m.overrides {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

func ceil(f float64) int {
	if f <= 0 {
		return 0
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(f))
}
