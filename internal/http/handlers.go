package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bilancio/internal/log"
	"bilancio/internal/services"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports ready only while the store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		log.FromContext(r.Context()).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleRunRecurring runs one pass. Per-record failures are part of the
// summary; only an unreachable store turns into a 5xx.
func (s *Server) handleRunRecurring(w http.ResponseWriter, r *http.Request) {
	now, err := parseNow(r, s.loc, s.now)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	logger := log.FromContext(r.Context())
	// A client hanging up must not abort a pass halfway through.
	ctx := context.WithoutCancel(r.Context())
	summary, err := s.processor.ProcessDue(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "Recurring pass failed", log.FieldError, err)
		switch {
		case errors.Is(err, services.ErrPersistenceUnavailable):
			writeError(w, r, http.StatusServiceUnavailable, err.Error())
			return
		case summary == nil:
			writeError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		// Cancelled mid-pass: report what was committed.
	}

	logger.InfoContext(ctx, "Recurring pass triggered over HTTP",
		log.FieldMaterialized, summary.Materialized,
		log.FieldFailures, len(summary.Failures))
	writeJSON(w, r, http.StatusOK, NewSummaryResponse(summary, false))
}

func (s *Server) handlePreviewRecurring(w http.ResponseWriter, r *http.Request) {
	now, err := parseNow(r, s.loc, s.now)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.processor.Preview(r.Context(), now)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Recurring preview failed", log.FieldError, err)
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, NewSummaryResponse(summary, true))
}
