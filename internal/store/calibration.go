package store

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
)

// SaveCalibration upserts calibrated edges in one transaction.
// Entries that were not measured are skipped.
func (s *Store) SaveCalibration(ctx context.Context, entries []cardinality.Entry) error {
	defer s.observeQuery("save_calibration", time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin calibration tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, e := range entries {
		if !e.Calibrated {
			continue
		}
		measured := e.MeasuredAt
		if measured.IsZero() {
			measured = time.Now()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO calibration_edges (parent_type, field, count, confidence, measured_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (parent_type, field) DO UPDATE
			SET count = EXCLUDED.count, confidence = EXCLUDED.confidence, measured_at = EXCLUDED.measured_at`,
			e.ParentType, e.Field, e.Count, e.Confidence, measured.UTC(),
		)
		if err != nil {
			return fmt.Errorf("upsert calibration %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit calibration: %w", err)
	}
	return nil
}

// LoadCalibration returns every stored calibrated edge.
func (s *Store) LoadCalibration(ctx context.Context) ([]cardinality.Entry, error) {
	defer s.observeQuery("load_calibration", time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT parent_type, field, count, confidence, measured_at
		FROM calibration_edges ORDER BY parent_type, field`)
	if err != nil {
		return nil, fmt.Errorf("query calibration: %w", err)
	}
	defer rows.Close()

	var entries []cardinality.Entry
	for rows.Next() {
		e := cardinality.Entry{Calibrated: true}
		if err := rows.Scan(&e.ParentType, &e.Field, &e.Count, &e.Confidence, &e.MeasuredAt); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
