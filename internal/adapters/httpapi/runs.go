package httpapi

import (
	"net/http"
	"strconv"

	"evalcore/internal/core"
	"evalcore/internal/reportarchive"
)

func (h *Handler) handleEvalRuns(w http.ResponseWriter, r *http.Request, remainder string) {
	parts := segments(remainder)
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodPost:
			h.createRun(w, r)
		case http.MethodGet:
			h.listRuns(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getRun(w, r, parts[0])
		case http.MethodDelete:
			h.deleteRun(w, r, parts[0])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 2:
		runID := parts[0]
		switch parts[1] {
		case "cancel":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h.cancelRun(w, r, runID)
		case "results":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h.listRunResults(w, r, runID)
		case "share":
			switch r.Method {
			case http.MethodPost:
				h.createShare(w, r, runID)
			case http.MethodDelete:
				h.revokeShare(w, r, runID)
			default:
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			}
		case "export":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h.exportRun(w, r, runID)
		default:
			http.NotFound(w, r)
		}
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var run core.EvalRun
	if err := decodeJSON(r, &run); err != nil {
		h.writeServiceError(w, err)
		return
	}
	created, err := h.service.CreateEvalRun(r.Context(), run)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	filter := core.RunFilter{
		Status:          core.RunStatus(r.URL.Query().Get("status")),
		PromptVersionID: r.URL.Query().Get("prompt_version_id"),
		DatasetID:       r.URL.Query().Get("dataset_id"),
	}
	runs, total, err := h.service.Store().ListRuns(r.Context(), filter, page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageOf(runs, total, page))
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.service.Store().GetRun(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) deleteRun(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Store().DeleteRun(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.service.CancelEvalRun(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// resultRow joins an eval result with its dataset item so the comparison
// matrix renders without a second round trip.
type resultRow struct {
	core.EvalResult
	Item *core.DatasetItem `json:"item,omitempty"`
}

func (h *Handler) listRunResults(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := h.service.Store().GetRun(r.Context(), runID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	page := pageFromQuery(r)
	filter := core.ResultFilter{ModelID: r.URL.Query().Get("model_id")}
	if v := r.URL.Query().Get("passed"); v != "" {
		passed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeServiceError(w, core.ErrValidation{Reason: "passed must be a boolean"})
			return
		}
		filter.Passed = &passed
	}
	results, total, err := h.service.Store().ListResults(r.Context(), runID, filter, page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items, err := h.service.Store().ListItems(r.Context(), run.DatasetID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	byID := make(map[string]core.DatasetItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	rows := make([]resultRow, len(results))
	for i, result := range results {
		rows[i] = resultRow{EvalResult: result}
		if item, ok := byID[result.DatasetItemID]; ok {
			rows[i].Item = &item
		}
	}
	writeJSON(w, http.StatusOK, pageOf(rows, total, page))
}

func (h *Handler) createShare(w http.ResponseWriter, r *http.Request, runID string) {
	body := struct {
		ExpiresInDays int `json:"expires_in_days"`
	}{ExpiresInDays: 7}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			h.writeServiceError(w, err)
			return
		}
	}
	share, err := h.service.CreateShare(r.Context(), runID, body.ExpiresInDays)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	// Snapshot the report so the share keeps working if the run is deleted.
	if h.archiver != nil {
		if err := h.archiver.Archive(r.Context(), runID); err != nil {
			h.logger.Warn("report archive failed", "run_id", runID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, share)
}

func (h *Handler) revokeShare(w http.ResponseWriter, r *http.Request, runID string) {
	if err := h.service.RevokeShare(r.Context(), runID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) exportRun(w http.ResponseWriter, r *http.Request, runID string) {
	report, err := reportarchive.Build(r.Context(), h.service.Store(), runID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="eval-run-`+runID+`.json"`)
	writeJSON(w, http.StatusOK, report)
}

// handleSharedReport serves the public share surface: no auth, token only.
// Unknown tokens are 404, expired ones 410.
func (h *Handler) handleSharedReport(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	run, err := h.service.ResolveShare(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	report, err := reportarchive.Build(r.Context(), h.service.Store(), run.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
