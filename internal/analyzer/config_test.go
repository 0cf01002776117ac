package analyzer

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/config"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
)

func fromConfig(t *testing.T, cfg *config.Config) (*Analyzer, error) {
	t.Helper()
	return FromConfig(cfg, observability.NewTestMetrics(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFromConfig_AppliesGateAndCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	m := cardinality.NewModel().WithOverrides([]cardinality.Entry{
		{Key: cardinality.Key{ParentType: "Site", Field: "devices"}, Count: 7, Confidence: 1, MeasuredAt: time.Now(), Calibrated: true},
	})
	require.NoError(t, cardinality.ExportFile(path, m, time.Now()))

	cfg := config.Default()
	cfg.MaxScore = 50
	cfg.CalibrationFile = path

	a, err := fromConfig(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(50), a.Gate().Ceiling)

	r, err := a.Analyze(query.Source{Text: `{ site_list(limit: 5) { devices { name } } }`})
	require.NoError(t, err)
	assert.Equal(t, int64(35), r.Score)
}

func TestFromConfig_MissingFiles(t *testing.T) {
	cfg := config.Default()
	cfg.SchemaFile = filepath.Join(t.TempDir(), "missing.graphql")
	_, err := fromConfig(t, cfg)
	assert.True(t, config.IsConfigError(err))

	cfg = config.Default()
	cfg.CalibrationFile = filepath.Join(t.TempDir(), "missing.json")
	_, err = fromConfig(t, cfg)
	assert.True(t, config.IsConfigError(err))
}
