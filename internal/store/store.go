package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const columns = `id, query_id, operation, score, ceiling, verdict, issue_count, report, source, created_at`

const insertReportSQL = `
	INSERT INTO analysis_reports (` + columns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO NOTHING`

// Store persists analysis reports and calibration snapshots in PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
}

// New creates a Store with the given connection pool and metrics.
func New(pool *pgxpool.Pool, m *observability.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

func (s *Store) observeQuery(operation string, start time.Time) {
	s.metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// InsertReport stores one report. Re-inserting an existing ID is a no-op.
func (s *Store) InsertReport(ctx context.Context, rec *model.StoredReport) error {
	defer s.observeQuery("insert_report", time.Now())
	args, err := reportArgs(rec)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertReportSQL, args...); err != nil {
		return fmt.Errorf("insert report %s: %w", rec.ID, err)
	}
	return nil
}

// InsertReports stores a batch of reports in one round-trip.
func (s *Store) InsertReports(ctx context.Context, recs []*model.StoredReport) error {
	if len(recs) == 0 {
		return nil
	}
	defer s.observeQuery("batch_insert_reports", time.Now())

	batch := &pgx.Batch{}
	for _, rec := range recs {
		args, err := reportArgs(rec)
		if err != nil {
			return err
		}
		batch.Queue(insertReportSQL, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	for _, rec := range recs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("batch insert report %s: %w", rec.ID, err)
		}
	}
	return br.Close()
}

// GetReport returns the stored report with the given ID, or nil if there is none.
func (s *Store) GetReport(ctx context.Context, id string) (*model.StoredReport, error) {
	defer s.observeQuery("get_report", time.Now())
	row := s.pool.QueryRow(ctx, "SELECT "+columns+" FROM analysis_reports WHERE id = $1", id)
	return scanReport(row)
}

// ListReports returns one page of reports matching filter and the total match count.
func (s *Store) ListReports(ctx context.Context, filter *model.ReportFilter) ([]*model.StoredReport, int, error) {
	defer s.observeQuery("list_reports", time.Now())
	if filter == nil {
		filter = &model.ReportFilter{}
	}
	where, baseArgs, idx := buildWhereClause(filter)
	whereSQL := buildWhereSQL(where)

	var totalCount int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM analysis_reports"+whereSQL, baseArgs...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	orderCol := "created_at"
	orderDir := "DESC"
	if filter.SortBy != nil && filter.SortBy.IsValid() {
		orderCol = sortColumn(*filter.SortBy)
	}
	if filter.SortOrder != nil && filter.SortOrder.IsValid() && *filter.SortOrder == model.SortOrderAsc {
		orderDir = "ASC"
	}

	dataArgs := make([]any, len(baseArgs))
	copy(dataArgs, baseArgs)

	query := "SELECT " + columns + " FROM analysis_reports" + whereSQL +
		fmt.Sprintf(" ORDER BY %s %s, id", orderCol, orderDir)

	if filter.Limit != nil {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		dataArgs = append(dataArgs, *filter.Limit)
		idx++
	}
	if filter.Offset != nil {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		dataArgs = append(dataArgs, *filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	reports := []*model.StoredReport{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, r)
	}
	return reports, totalCount, rows.Err()
}

func reportArgs(rec *model.StoredReport) ([]any, error) {
	if rec.Report == nil {
		return nil, fmt.Errorf("report %s has no analysis", rec.ID)
	}
	body, err := json.Marshal(rec.Report)
	if err != nil {
		return nil, fmt.Errorf("encode report %s: %w", rec.ID, err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	r := rec.Report
	return []any{
		rec.ID, r.QueryID, r.Operation, r.Score, r.Ceiling, string(r.Verdict),
		len(r.Issues), body, rec.Source, created.UTC(),
	}, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReport(row scannable) (*model.StoredReport, error) {
	var (
		rec        model.StoredReport
		queryID    string
		operation  string
		score      int64
		ceiling    int64
		verdict    string
		issueCount int
		body       []byte
	)
	err := row.Scan(&rec.ID, &queryID, &operation, &score, &ceiling, &verdict, &issueCount, &body, &rec.Source, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	var r model.AnalysisReport
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", rec.ID, err)
	}
	rec.Report = &r
	return &rec, nil
}
