package model

// ─── Enums ──────────────────────────────────────────────────

// IssueKind enumerates the anti-patterns the detector reports.
type IssueKind string

// Allowed IssueKind values.
const (
	IssueUnboundedList     IssueKind = "UnboundedList"
	IssueDepthExceeded     IssueKind = "DepthExceeded"
	IssueFanOut            IssueKind = "FanOut"
	IssueNestedFilterDepth IssueKind = "NestedFilterDepth"
	IssueSearchAntiPattern IssueKind = "SearchAntiPattern"
)

// IsValid returns true if the IssueKind is one of the known enum values.
func (k IssueKind) IsValid() bool {
	switch k {
	case IssueUnboundedList, IssueDepthExceeded, IssueFanOut, IssueNestedFilterDepth, IssueSearchAntiPattern:
		return true
	}
	return false
}

func (k IssueKind) String() string { return string(k) }

// Severity grades an issue.
type Severity string

// Allowed Severity values.
const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid returns true if the Severity is one of the known enum values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

func (s Severity) String() string { return string(s) }

// Verdict is the Budget Gate outcome.
type Verdict string

// Allowed Verdict values.
const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
)

// IsValid returns true if the Verdict is one of the known enum values.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictPass, VerdictWarn, VerdictFail:
		return true
	}
	return false
}

func (v Verdict) String() string { return string(v) }

// ─── Findings ───────────────────────────────────────────────

// Issue is a single anti-pattern finding. Issues are always recorded, never returned as errors.
type Issue struct {
	Kind     IssueKind `json:"kind" yaml:"kind"`
	Severity Severity  `json:"severity" yaml:"severity"`
	Path     string    `json:"path" yaml:"path"`
	Message  string    `json:"message" yaml:"message"`
	Line     int       `json:"line,omitempty" yaml:"line,omitempty"`
	Column   int       `json:"column,omitempty" yaml:"column,omitempty"`
}

// Note is an advisory that never affects the verdict.
type Note struct {
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// CostResult is the evaluator's output for a single node.
type CostResult struct {
	Path string `json:"path" yaml:"path"`
	// EffectiveCardinality is the node's local cost: its limit or model estimate.
	EffectiveCardinality int64 `json:"effective_cardinality" yaml:"effective_cardinality"`
	// Cumulative is the number of objects the node yields across all its ancestors.
	Cumulative   int64 `json:"cumulative" yaml:"cumulative"`
	Contribution int64 `json:"contribution" yaml:"contribution"`
	Calibrated   bool  `json:"calibrated,omitempty" yaml:"calibrated,omitempty"`
}

// ─── Report ─────────────────────────────────────────────────

// AnalysisReport is the immutable result of analyzing one document.
type AnalysisReport struct {
	QueryID   string       `json:"query_id" yaml:"query_id"`
	Operation string       `json:"operation,omitempty" yaml:"operation,omitempty"`
	Score     int64        `json:"score" yaml:"score"`
	Ceiling   int64        `json:"ceiling,omitempty" yaml:"ceiling,omitempty"`
	Verdict   Verdict      `json:"verdict" yaml:"verdict"`
	Issues    []Issue      `json:"issues" yaml:"issues"`
	Notes     []Note       `json:"notes,omitempty" yaml:"notes,omitempty"`
	Warnings  []string     `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Costs     []CostResult `json:"costs,omitempty" yaml:"costs,omitempty"`
}

// HasSeverity reports whether any issue has the given severity.
func (r *AnalysisReport) HasSeverity(s Severity) bool {
	for _, i := range r.Issues {
		if i.Severity == s {
			return true
		}
	}
	return false
}

// IssuesOfKind returns the issues of one kind in report order.
func (r *AnalysisReport) IssuesOfKind(k IssueKind) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Kind == k {
			out = append(out, i)
		}
	}
	return out
}
