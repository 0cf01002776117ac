package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/gql-cost-analyzer/internal/cardinality"
	"github.com/couchcryptid/gql-cost-analyzer/internal/model"
	"github.com/couchcryptid/gql-cost-analyzer/internal/query"
	"github.com/couchcryptid/gql-cost-analyzer/internal/report"
)

const (
	maxBodyBytes     = 1 << 20 // 1 MB
	defaultListLimit = 50
	maxListLimit     = 500
)

var errNoStore = errors.New("report store not configured")

// ─── Analysis ───────────────────────────────────────────────

// handleAnalyze analyzes one document. The body is either a JSON submission
// or, with Content-Type application/graphql, the raw document; in the latter
// case name, operation, budget and fail_on_warning come from the query string.
// The response status is 200 whatever the verdict.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	format, err := responseFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := readSubmission(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.analyzers.Load().Submit(sub, s.classes)
	if err != nil {
		writeAnalyzeError(w, err)
		return
	}
	rec.Source = Source

	if s.store != nil {
		if err := s.store.InsertReport(r.Context(), rec); err != nil {
			s.logger.Error("store report", "error", err, "id", rec.ID)
		}
	}
	s.writeReport(w, format, rec)
}

func readSubmission(w http.ResponseWriter, r *http.Request) (*model.Submission, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/graphql" {
		q := r.URL.Query()
		sub := &model.Submission{
			Name:          q.Get("name"),
			Query:         string(body),
			OperationName: q.Get("operation"),
			Budget:        q.Get("budget"),
		}
		if v := q.Get("fail_on_warning"); v != "" {
			strict, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid fail_on_warning %q", v)
			}
			sub.FailOnWarning = &strict
		}
		return sub, nil
	}

	var sub model.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("decode submission: %w", err)
	}
	return &sub, nil
}

func writeAnalyzeError(w http.ResponseWriter, err error) {
	var pe *query.ParseError
	if errors.As(err, &pe) {
		resp := map[string]any{"error": pe.Error()}
		if pe.Line > 0 {
			resp["line"] = pe.Line
			resp["column"] = pe.Column
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// handleCalibrate probes the list edges of the posted documents, publishes
// the recalibrated analyzer and persists the measurements.
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if s.calibrator == nil {
		writeError(w, http.StatusServiceUnavailable, "calibration endpoint not configured")
		return
	}
	var req struct {
		Queries []model.Submission `json:"queries"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, http.StatusBadRequest, "no queries to calibrate")
		return
	}

	a := s.analyzers.Load()
	docs := make([]*model.QueryDocument, 0, len(req.Queries))
	for i, sub := range req.Queries {
		name := sub.Name
		if name == "" {
			name = fmt.Sprintf("queries[%d]", i)
		}
		doc, err := a.Parse(query.Source{Name: name, Text: sub.Query, OperationName: sub.OperationName, Variables: sub.Variables})
		if err != nil {
			writeAnalyzeError(w, err)
			return
		}
		docs = append(docs, doc)
	}

	next := a.Calibrated(r.Context(), s.calibrator, docs...)
	s.analyzers.Store(next)

	entries := calibrated(next.Model().Overrides())
	if s.store != nil {
		if err := s.store.SaveCalibration(r.Context(), entries); err != nil {
			s.logger.Error("save calibration", "error", err)
		}
	}
	s.logger.Info("recalibrated", "edges", len(entries), "warnings", len(next.Warnings()))
	writeJSON(w, http.StatusOK, map[string]any{
		"edges":    len(entries),
		"warnings": nonNil(next.Warnings()),
	})
}

// ─── Reports ────────────────────────────────────────────────

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore.Error())
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reports, total, err := s.store.ListReports(r.Context(), filter)
	if err != nil {
		s.logger.Error("list reports", "error", err)
		writeError(w, http.StatusInternalServerError, "list reports failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "total_count": total})
}

func (s *Server) handleReportStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore.Error())
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.store.Stats(r.Context(), filter)
	if err != nil {
		s.logger.Error("report stats", "error", err)
		writeError(w, http.StatusInternalServerError, "report stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, errNoStore.Error())
		return
	}
	format, err := responseFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		s.logger.Error("get report", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "get report failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("report %s not found", id))
		return
	}
	s.writeReport(w, format, rec)
}

// parseFilter reads a ReportFilter from query parameters. verdict may repeat
// or hold a comma-separated list; since and until are RFC 3339.
func parseFilter(q url.Values) (*model.ReportFilter, error) {
	f := &model.ReportFilter{QueryID: q.Get("query_id")}

	for _, raw := range q["verdict"] {
		for _, v := range strings.Split(raw, ",") {
			verdict := model.Verdict(strings.ToUpper(strings.TrimSpace(v)))
			if !verdict.IsValid() {
				return nil, fmt.Errorf("invalid verdict %q", v)
			}
			f.Verdicts = append(f.Verdicts, verdict)
		}
	}
	if v := q.Get("min_score"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid min_score %q", v)
		}
		f.MinScore = &n
	}
	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q, want RFC 3339", name, v)
			}
			*dst = &t
		}
	}
	if v := q.Get("sort_by"); v != "" {
		sf := model.SortField(strings.ToUpper(v))
		if !sf.IsValid() {
			return nil, fmt.Errorf("invalid sort_by %q", v)
		}
		f.SortBy = &sf
	}
	if v := q.Get("sort_order"); v != "" {
		so := model.SortOrder(strings.ToUpper(v))
		if !so.IsValid() {
			return nil, fmt.Errorf("invalid sort_order %q", v)
		}
		f.SortOrder = &so
	}

	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid limit %q", v)
		}
		limit = min(n, maxListLimit)
	}
	f.Limit = &limit
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid offset %q", v)
		}
		f.Offset = &n
	}
	return f, nil
}

// ─── Calibration snapshots ──────────────────────────────────

func (s *Server) handleExportCalibration(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := cardinality.Export(&buf, s.analyzers.Load().Model(), time.Now()); err != nil {
		s.logger.Error("export calibration", "error", err)
		writeError(w, http.StatusInternalServerError, "export calibration failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleImportCalibration replaces the calibrated edges with an uploaded
// snapshot. Analyses already running keep the model they started with.
func (s *Server) handleImportCalibration(w http.ResponseWriter, r *http.Request) {
	entries, err := cardinality.Import(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a := s.analyzers.Load()
	s.analyzers.Store(a.WithModel(a.Model().WithOverrides(entries), nil))

	if s.store != nil {
		if err := s.store.SaveCalibration(r.Context(), entries); err != nil {
			s.logger.Error("save calibration", "error", err)
			writeError(w, http.StatusInternalServerError, "calibration applied but not persisted")
			return
		}
	}
	s.logger.Info("calibration imported", "edges", len(entries))
	writeJSON(w, http.StatusOK, map[string]int{"edges": len(entries)})
}

// ─── Response helpers ───────────────────────────────────────

func responseFormat(r *http.Request) (report.Format, error) {
	v := r.URL.Query().Get("format")
	if v == "" {
		return report.FormatJSON, nil
	}
	return report.ParseFormat(v)
}

// writeReport renders rec. JSON carries the stored envelope (id, source,
// created_at); text and YAML render the report itself with the ID in a header.
func (s *Server) writeReport(w http.ResponseWriter, format report.Format, rec *model.StoredReport) {
	w.Header().Set("X-Report-Id", rec.ID)
	w.Header().Set("X-Verdict", rec.Report.Verdict.String())
	if format == report.FormatJSON {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	var buf bytes.Buffer
	if err := report.NewFormatter(format, &buf).Print(rec.Report); err != nil {
		s.logger.Error("render report", "error", err, "id", rec.ID)
		writeError(w, http.StatusInternalServerError, "render report failed")
		return
	}
	contentType := "text/plain; charset=utf-8"
	if format == report.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func calibrated(entries []cardinality.Entry) []cardinality.Entry {
	out := make([]cardinality.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Calibrated {
			out = append(out, e)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
