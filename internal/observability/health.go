package observability

import (
	"context"
	"fmt"
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

// LivenessHandler returns 200 OK unconditionally.
func LivenessHandler() http.HandlerFunc {
	return sharedobs.LivenessHandler()
}

// ReadinessHandler checks downstream dependencies and returns 200 or 503.
func ReadinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return sharedobs.ReadinessHandler(checker)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	sharedobs.WriteJSON(w, status, v)
}

// Readiness aggregates named checkers. With none registered it is always ready,
// which is the case for a server running without a report store.
type Readiness struct {
	names    []string
	checkers []ReadinessChecker
}

// Add registers a dependency check.
func (r *Readiness) Add(name string, c ReadinessChecker) {
	r.names = append(r.names, name)
	r.checkers = append(r.checkers, c)
}

// CheckReadiness returns the first failing dependency.
func (r *Readiness) CheckReadiness(ctx context.Context) error {
	for i, c := range r.checkers {
		if err := c.CheckReadiness(ctx); err != nil {
			return fmt.Errorf("%s: %w", r.names[i], err)
		}
	}
	return nil
}
