//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/couchcryptid/gql-cost-analyzer/internal/analyzer"
	"github.com/couchcryptid/gql-cost-analyzer/internal/budget"
	"github.com/couchcryptid/gql-cost-analyzer/internal/database"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/store"
)

// discardLogger returns a logger that discards all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	}
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, _ := pg.Host(ctx)
	port, _ := pg.MappedPort(ctx, "5432")
	return fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	kc, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.6.0")
	require.NoError(t, err, "start kafka")
	t.Cleanup(func() { _ = kc.Terminate(context.Background()) })

	brokers, err := kc.Brokers(ctx)
	require.NoError(t, err, "get brokers")
	return brokers[0]
}

// setupStore starts Postgres, runs migrations and returns an empty store.
func setupStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	dsn := startPostgres(ctx, t)

	_, err := database.RunMigrations(dsn)
	require.NoError(t, err)

	pool, err := database.NewPool(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return store.New(pool, observability.NewTestMetrics())
}

func newHolder() *analyzer.Holder {
	a := analyzer.New(analyzer.Options{Gate: budget.Gate{Ceiling: 5000}}, observability.NewTestMetrics(), discardLogger())
	return analyzer.NewHolder(a)
}

// fixtures are analyzed with a 5000 ceiling: one PASS, one WARN and two FAIL.
var fixtures = []model.Submission{
	{ID: "pass", Name: "devices.graphql", Query: `{ device_list(limit: 10) { name site { name } } }`},
	{ID: "warn", Name: "deep.graphql", Query: `{ region_list(limit:1) { sites(limit:1) { devices(limit:1) { interfaces(limit:1) { name } } } } }`},
	{ID: "over", Name: "sites.graphql", Query: `{ site_list(limit: 10) { devices(limit: 20) { interfaces(limit: 50) { name } } } }`},
	{ID: "unbounded", Name: "all.graphql", Query: `{ site_list { devices { interfaces { name } } } }`},
}

func analyzeFixtures(t *testing.T, h *analyzer.Holder) []*model.StoredReport {
	t.Helper()
	recs := make([]*model.StoredReport, 0, len(fixtures))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range fixtures {
		sub := fixtures[i]
		rec, err := h.Load().Submit(&sub, budget.NewClasses(nil))
		require.NoError(t, err, sub.ID)
		rec.Source = "test"
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		recs = append(recs, rec)
	}
	return recs
}
