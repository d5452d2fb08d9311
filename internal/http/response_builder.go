package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bilancio/internal/core"
	"bilancio/internal/services"
)

// OccurrenceResponse is the JSON form of one selected occurrence.
type OccurrenceResponse struct {
	RecurringTransactionID string `json:"recurring_transaction_id"`
	AccountID              string `json:"account_id"`
	Type                   string `json:"type"`
	Date                   string `json:"date"`
	Amount                 string `json:"amount"`
	Category               string `json:"category,omitempty"`
	Source                 string `json:"source,omitempty"`
	Description            string `json:"description,omitempty"`
}

// IssueResponse reports a skipped, capped or failed record.
type IssueResponse struct {
	RecurringTransactionID string `json:"recurring_transaction_id"`
	Error                  string `json:"error"`
	// ResumeFrom is set when the catch-up cap stopped the record early.
	ResumeFrom string `json:"resume_from,omitempty"`
}

// SummaryResponse is the JSON body returned for a pass or a preview.
type SummaryResponse struct {
	DryRun       bool                 `json:"dry_run"`
	Today        string               `json:"today"`
	Checked      int                  `json:"checked"`
	Due          int                  `json:"due"`
	Materialized int                  `json:"materialized"`
	Duplicates   int                  `json:"duplicates"`
	Occurrences  []OccurrenceResponse `json:"occurrences"`
	Skipped      []IssueResponse      `json:"skipped"`
	Warnings     []IssueResponse      `json:"warnings"`
	Failures     []IssueResponse      `json:"failures"`
}

// NewSummaryResponse converts a pass summary for encoding.
func NewSummaryResponse(s *services.PassSummary, dryRun bool) SummaryResponse {
	resp := SummaryResponse{
		DryRun:       dryRun,
		Today:        core.FormatDate(s.Now),
		Checked:      s.Checked,
		Due:          s.Due,
		Materialized: s.Materialized,
		Duplicates:   s.Duplicates,
		Occurrences:  make([]OccurrenceResponse, 0, len(s.Occurrences)),
		Skipped:      issues(s.Skipped),
		Warnings:     issues(s.Warnings),
		Failures:     issues(s.Failures),
	}
	for _, o := range s.Occurrences {
		resp.Occurrences = append(resp.Occurrences, OccurrenceResponse{
			RecurringTransactionID: o.RecurringTransactionID,
			AccountID:              o.AccountID,
			Type:                   o.Type.String(),
			Date:                   core.FormatDate(o.Date),
			Amount:                 core.FormatAmount(o.Amount),
			Category:               o.Category,
			Source:                 o.Source,
			Description:            o.Description,
		})
	}
	return resp
}

func issues(in []services.RecordIssue) []IssueResponse {
	out := make([]IssueResponse, 0, len(in))
	for _, issue := range in {
		item := IssueResponse{RecurringTransactionID: issue.RecurringTransactionID}
		if issue.Err != nil {
			item.Error = issue.Err.Error()
		}
		var capped *core.CatchUpLimitExceeded
		if errors.As(issue.Err, &capped) {
			item.ResumeFrom = core.FormatDate(capped.ResumeFrom)
		}
		out = append(out, item)
	}
	return out
}

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "Failed to encode response", "error", err, "path", r.URL.Path)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, ErrorResponse{Error: msg})
}
