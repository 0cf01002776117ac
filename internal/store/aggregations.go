package store

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
)

// Stats returns verdict and issue breakdowns for the reports matching filter
// in a single query. The "agg" discriminator column routes each row to its
// result slice. Sorting and pagination fields of filter are ignored.
func (s *Store) Stats(ctx context.Context, filter *model.ReportFilter) (*model.ReportStats, error) {
	defer s.observeQuery("stats", time.Now())
	where, args, _ := buildWhereClause(filter)
	whereSQL := buildWhereSQL(where)

	query := `WITH base AS (
			SELECT verdict, score, report FROM analysis_reports` + whereSQL + `
		)
		SELECT 'verdict' AS agg, verdict AS key1, NULL AS key2, COUNT(*) AS count, MAX(score) AS max_score
		FROM base GROUP BY verdict
		UNION ALL
		SELECT 'issue', i->>'kind', i->>'severity', COUNT(*), NULL
		FROM base, jsonb_array_elements(base.report->'issues') AS i
		GROUP BY i->>'kind', i->>'severity'
		ORDER BY 1, 4 DESC, 2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report stats: %w", err)
	}
	defer rows.Close()

	result := &model.ReportStats{ByVerdict: []*model.VerdictGroup{}, ByIssue: []*model.IssueGroup{}}
	for rows.Next() {
		var agg string
		var key1, key2 *string
		var count int
		var maxScore *int64

		if err := rows.Scan(&agg, &key1, &key2, &count, &maxScore); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}

		switch agg {
		case "verdict":
			vg := &model.VerdictGroup{Verdict: model.Verdict(stringOrEmpty(key1)), Count: count}
			if maxScore != nil {
				vg.MaxScore = *maxScore
			}
			result.ByVerdict = append(result.ByVerdict, vg)
			result.Total += count
		case "issue":
			result.ByIssue = append(result.ByIssue, &model.IssueGroup{
				Kind:     model.IssueKind(stringOrEmpty(key1)),
				Severity: model.Severity(stringOrEmpty(key2)),
				Count:    count,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
