package model

import "time"

// ─── Persisted reports ──────────────────────────────────────

// StoredReport is an AnalysisReport as kept by the service.
type StoredReport struct {
	ID        string          `json:"id"`
	Source    string          `json:"source,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Report    *AnalysisReport `json:"report"`
}

// SortField enumerates the columns available for sorting stored reports.
type SortField string

// Allowed SortField values.
const (
	SortFieldCreatedAt SortField = "CREATED_AT"
	SortFieldScore     SortField = "SCORE"
)

// IsValid returns true if the SortField is one of the known enum values.
func (e SortField) IsValid() bool {
	switch e {
	case SortFieldCreatedAt, SortFieldScore:
		return true
	}
	return false
}

func (e SortField) String() string { return string(e) }

// SortOrder specifies ascending or descending sort direction.
type SortOrder string

// Allowed SortOrder values.
const (
	SortOrderAsc  SortOrder = "ASC"
	SortOrderDesc SortOrder = "DESC"
)

// IsValid returns true if the SortOrder is one of the known enum values.
func (e SortOrder) IsValid() bool {
	switch e {
	case SortOrderAsc, SortOrderDesc:
		return true
	}
	return false
}

func (e SortOrder) String() string { return string(e) }

// ─── Filter ─────────────────────────────────────────────────

// ReportFilter selects stored reports. Zero values match everything.
type ReportFilter struct {
	QueryID  string     `json:"query_id,omitempty"`
	Verdicts []Verdict  `json:"verdicts,omitempty"`
	MinScore *int64     `json:"min_score,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`

	SortBy    *SortField `json:"sort_by,omitempty"`
	SortOrder *SortOrder `json:"sort_order,omitempty"`
	Limit     *int       `json:"limit,omitempty"`
	Offset    *int       `json:"offset,omitempty"`
}

// ─── Aggregation types ──────────────────────────────────────

// VerdictGroup counts stored reports by verdict.
type VerdictGroup struct {
	Verdict  Verdict `json:"verdict"`
	Count    int     `json:"count"`
	MaxScore int64   `json:"max_score"`
}

// IssueGroup counts issues across stored reports by kind and severity.
type IssueGroup struct {
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Count    int       `json:"count"`
}

// ReportStats summarizes the stored reports matching a filter.
type ReportStats struct {
	Total     int             `json:"total"`
	ByVerdict []*VerdictGroup `json:"by_verdict"`
	ByIssue   []*IssueGroup   `json:"by_issue"`
}
