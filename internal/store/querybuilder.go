package store

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
)

// buildWhereSQL joins the clauses into a WHERE fragment (empty string if no clauses).
func buildWhereSQL(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// buildWhereClause constructs the WHERE clause and args from a filter.
// Returns the clauses, args, and the next parameter index.
func buildWhereClause(filter *model.ReportFilter) ([]string, []any, int) {
	var clauses []string
	var args []any
	idx := 1
	if filter == nil {
		return clauses, args, idx
	}

	add := func(format string, arg any) {
		clauses = append(clauses, fmt.Sprintf(format, idx))
		args = append(args, arg)
		idx++
	}

	if filter.QueryID != "" {
		add("query_id = $%d", filter.QueryID)
	}
	if verdicts := verdictDBValues(filter.Verdicts); len(verdicts) > 0 {
		add("verdict = ANY($%d)", verdicts)
	}
	if filter.MinScore != nil {
		add("score >= $%d", *filter.MinScore)
	}
	if filter.Since != nil {
		add("created_at >= $%d", filter.Since.UTC())
	}
	if filter.Until != nil {
		add("created_at < $%d", filter.Until.UTC())
	}
	return clauses, args, idx
}

func verdictDBValues(vs []model.Verdict) []string {
	var out []string
	for _, v := range vs {
		if v.IsValid() {
			out = append(out, string(v))
		}
	}
	return out
}

func sortColumn(sf model.SortField) string {
	switch sf {
	case model.SortFieldScore:
		return "score"
	default:
		return "created_at"
	}
}
