package gqlgenext

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/99designs/gqlgen/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/config"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gqlcost.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newLimit(g budget.Gate) *BudgetLimit {
	logger := discard()
	return newBudgetLimit(analyzer.New(analyzer.Options{Gate: g}, observability.NewTestMetrics(), logger), logger)
}

// intercept runs the interceptor and reports whether the operation reached the executor.
func intercept(t *testing.T, b *BudgetLimit, oc *graphql.OperationContext) (*graphql.Response, bool) {
	t.Helper()
	executed := false
	next := func(ctx context.Context) graphql.ResponseHandler {
		executed = true
		return func(context.Context) *graphql.Response { return &graphql.Response{Data: []byte(`{}`)} }
	}
	ctx := graphql.WithOperationContext(context.Background(), oc)
	resp := b.InterceptOperation(ctx, next)(ctx)
	return resp, executed
}

func TestNew_LoadsConfig(t *testing.T) {
	b, err := New(Options{ConfigFile: writeConfig(t, "budget: dashboard\n"), Logger: discard()})
	require.NoError(t, err)
	require.NoError(t, b.Validate(nil))

	resp, executed := intercept(t, b, &graphql.OperationContext{RawQuery: `{ device_list(limit: 60) { name } }`})
	assert.False(t, executed)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "query cost 60 exceeds budget 50", resp.Errors[0].Message)
}

func TestNew_ConfigErrors(t *testing.T) {
	_, err := New(Options{ConfigFile: writeConfig(t, "budget: galactic\n")})
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))

	_, err = New(Options{ConfigFile: writeConfig(t, "schema_file: /does/not/exist.graphql\n")})
	require.Error(t, err)
	assert.True(t, config.IsConfigError(err))
}

func TestBudgetLimit_Validate(t *testing.T) {
	assert.Error(t, (&BudgetLimit{}).Validate(nil))
	assert.Error(t, (*BudgetLimit)(nil).Validate(nil))
	assert.NoError(t, newLimit(budget.Gate{}).Validate(nil))
}

func TestBudgetLimit_PassesCheapOperation(t *testing.T) {
	_, executed := intercept(t, newLimit(budget.Gate{Ceiling: 100}), &graphql.OperationContext{
		RawQuery: `{ device_list(limit: 10) { name } }`,
	})
	assert.True(t, executed)
}

func TestBudgetLimit_RejectsOverCeiling(t *testing.T) {
	resp, executed := intercept(t, newLimit(budget.Gate{Ceiling: 100}), &graphql.OperationContext{
		RawQuery:      `query Big($n: Int) { device_list(limit: $n) { name } }`,
		OperationName: "Big",
		Variables:     map[string]any{"n": 500},
	})

	assert.False(t, executed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "query cost 500 exceeds budget 100", resp.Errors[0].Message)
	assert.Equal(t, ErrCodeQueryTooCostly, resp.Errors[0].Extensions["code"])
}

func TestBudgetLimit_RejectsCriticalIssues(t *testing.T) {
	resp, executed := intercept(t, newLimit(budget.Gate{}), &graphql.OperationContext{
		RawQuery: `{ site_list { devices { interfaces { name } } } }`,
	})

	assert.False(t, executed)
	require.Len(t, resp.Errors, 1, "only the CRITICAL fan-out is listed")
	assert.Equal(t, "FanOut", resp.Errors[0].Extensions["kind"])
	assert.Equal(t, "site_list.devices", resp.Errors[0].Extensions["path"])
}

func TestBudgetLimit_StrictModeListsWarnings(t *testing.T) {
	resp, executed := intercept(t, newLimit(budget.Gate{FailOnWarning: true}), &graphql.OperationContext{
		RawQuery: `{ device_list { name } }`,
	})

	assert.False(t, executed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "UnboundedList", resp.Errors[0].Extensions["kind"])
}

func TestBudgetLimit_UnparseableFallsThrough(t *testing.T) {
	_, executed := intercept(t, newLimit(budget.Gate{Ceiling: 1}), &graphql.OperationContext{
		RawQuery: `query A { a_list { id } } query B { b_list { id } }`,
	})
	assert.True(t, executed)
}
