package http

import (
	"net/http"
	"strings"

	applog "budget/internal/log"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r, s.maxUploadBytes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := s.uploads.Stage(r.Context(), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUploadView(summary))
}

func (s *Server) handleDiscardUpload(w http.ResponseWriter, r *http.Request) {
	s.uploads.Discard(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	req, err := parseCategorizeRequest(http.MaxBytesReader(w, r.Body, 64<<10))
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := s.uploads.Categorize(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategorizeView(report))
}

func (s *Server) handleListMonths(w http.ResponseWriter, r *http.Request) {
	recs, err := s.months.Months(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]monthView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toMonthView(rec, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": out})
}

func (s *Server) handleGetMonth(w http.ResponseWriter, r *http.Request) {
	key, err := monthFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, txs, err := s.months.Month(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthView(rec, txs))
}

func (s *Server) handleDeleteMonth(w http.ResponseWriter, r *http.Request) {
	key, err := monthFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.months.DeleteMonth(r.Context(), key); err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Month deleted",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldMonth, key.String())
	w.WriteHeader(http.StatusNoContent)
}

// handleRescore recomputes a month's stats, or queues the work for the worker
// when ?async=true and a queue is configured.
func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	key, err := monthFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if isTrue(r.URL.Query().Get("async")) {
		if s.queue == nil {
			writeError(w, r, badRequest("asynchronous rescoring is not configured", nil))
			return
		}
		if err := s.queue.PublishRescoreRequest(r.Context(), key.String(), "api"); err != nil {
			s.logger.ErrorContext(r.Context(), "Failed to queue rescore",
				applog.FieldMonth, key.String(),
				applog.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, errorView{Error: "rescore queue unavailable"})
			return
		}
		writeJSON(w, http.StatusAccepted, rescoreView{Month: key.String(), Queued: true})
		return
	}

	stats, err := s.months.Rescore(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v := toStatsView(stats)
	writeJSON(w, http.StatusOK, rescoreView{Month: key.String(), Stats: &v})
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := parseCorrection(http.MaxBytesReader(w, r.Body, 16<<10))
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.months.CorrectTransaction(r.Context(), id, strings.TrimSpace(body.Category), strings.TrimSpace(body.Subcategory))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, correctionView{
		ID:          id,
		Month:       c.Month.String(),
		Category:    string(c.Category),
		Subcategory: c.Subcategory,
		Stats:       toStatsView(c.Stats),
	})
}
