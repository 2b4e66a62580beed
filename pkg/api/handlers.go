package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/reportoor/pkg/history"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
	maxFlakyWindow   = 200
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReport serves the merged report file as written by the merge step.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.opts.ReportPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, errorResponse{"report not found"})

			return
		}

		s.log.WithError(err).Error("Failed to read report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to read report"})

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	_, _ = w.Write(data)
}

// handleListRuns returns the most recent runs.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := positiveQueryInt(w, r, "limit", defaultRunsLimit, maxRunsLimit)
	if !ok {
		return
	}

	runs, err := s.opts.History.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list runs"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns a run with its test outcomes.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, outcomes, err := s.opts.History.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to get run"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":      run,
		"outcomes": outcomes,
	})
}

// handleFlaky analyses the outcomes of the most recent runs.
func (s *server) handleFlaky(w http.ResponseWriter, r *http.Request) {
	last, ok := positiveQueryInt(w, r, "last", s.opts.HistoryWindow, maxFlakyWindow)
	if !ok {
		return
	}

	report, err := history.BuildFlakeReport(r.Context(), s.opts.History, last)
	if err != nil {
		s.log.WithError(err).Error("Failed to build flake report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to build flake report"})

		return
	}

	writeJSON(w, http.StatusOK, report)
}

// positiveQueryInt parses an optional positive integer query parameter
// capped at upper, writing a 400 response when it is invalid.
func positiveQueryInt(
	w http.ResponseWriter, r *http.Request, name string, def, upper int,
) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid " + name + " parameter"})

		return 0, false
	}

	return min(v, upper), true
}
