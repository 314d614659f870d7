package httpapi

import (
	"net/http"
	"strconv"

	"evalcore/internal/core"
	"evalcore/internal/playground"
)

func (h *Handler) handlePlayground(w http.ResponseWriter, r *http.Request, remainder string) {
	parts := segments(remainder)
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	switch parts[0] {
	case "compile":
		if len(parts) != 1 || r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req playground.CompileRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.playground.Compile(req))
	case "run":
		if len(parts) != 1 || r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req playground.RunRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, h.playground.Run(r.Context(), req))
	case "run-version":
		if len(parts) != 2 || r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req playground.RunVersionRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeServiceError(w, err)
			return
		}
		result, err := h.playground.RunVersion(r.Context(), parts[1], req)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "run-multi":
		if len(parts) != 1 || r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req playground.MultiRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeServiceError(w, err)
			return
		}
		result, err := h.playground.RunMulti(r.Context(), req)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		// Sub-call faults live inside each entry; the batch itself is 200.
		writeJSON(w, http.StatusOK, result)
	case "run-versions":
		if len(parts) != 1 || r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req struct {
			Runs []playground.VersionRun `json:"runs"`
		}
		if err := decodeJSON(r, &req); err != nil {
			h.writeServiceError(w, err)
			return
		}
		results, err := h.playground.RunVersions(r.Context(), req.Runs)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	case "runs":
		h.handlePlaygroundRuns(w, r, parts[1:])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handlePlaygroundRuns(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 0 {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var run core.PlaygroundRun
		if err := decodeJSON(r, &run); err != nil {
			h.writeServiceError(w, err)
			return
		}
		saved, err := h.service.SavePlaygroundRun(r.Context(), run)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	case http.MethodGet:
		versionID := r.URL.Query().Get("version_id")
		if versionID == "" {
			h.writeServiceError(w, core.ErrValidation{Reason: "version_id query parameter required"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := h.service.Store().ListPlaygroundRunsByVersion(r.Context(), versionID, limit)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": runs})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
