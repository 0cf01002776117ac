package analyzer

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
	"github.com/google/uuid"
)

// Holder publishes the analyzer a long-running service should use. Swapping
// in a recalibrated analyzer never affects analyses already in flight.
type Holder struct {
	p atomic.Pointer[Analyzer]
}

// NewHolder returns a holder publishing a.
func NewHolder(a *Analyzer) *Holder {
	h := &Holder{}
	h.p.Store(a)
	return h
}

// Load returns the current analyzer.
func (h *Holder) Load() *Analyzer { return h.p.Load() }

// Store publishes a.
func (h *Holder) Store(a *Analyzer) { h.p.Store(a) }

// Submit analyzes one submission with its gate overrides applied. The
// submission is assigned an ID when it has none. Errors are either a
// ParseError or an invalid budget.
func (a *Analyzer) Submit(sub *model.Submission, classes budget.Classes) (*model.StoredReport, error) {
	if strings.TrimSpace(sub.Query) == "" {
		return nil, &query.ParseError{File: sub.Name, Msg: "empty document"}
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	g := a.gate
	if sub.Budget != "" {
		ceiling, err := classes.Ceiling(sub.Budget)
		if err != nil {
			return nil, fmt.Errorf("submission %s: %w", sub.ID, err)
		}
		g.Ceiling = ceiling
	}
	if sub.FailOnWarning != nil {
		g.FailOnWarning = *sub.FailOnWarning
	}

	name := sub.Name
	if name == "" {
		name = sub.ID
	}
	r, err := a.WithGate(g).Analyze(query.Source{
		Name:          name,
		Text:          sub.Query,
		OperationName: sub.OperationName,
		Variables:     sub.Variables,
	})
	if err != nil {
		return nil, err
	}
	return &model.StoredReport{ID: sub.ID, CreatedAt: time.Now().UTC(), Report: r}, nil
}
