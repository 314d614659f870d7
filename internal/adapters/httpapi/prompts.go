package httpapi

import (
	"net/http"
	"strconv"

	"evalcore/internal/core"
)

func (h *Handler) handlePrompts(w http.ResponseWriter, r *http.Request, remainder string) {
	parts := segments(remainder)
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodPost:
			h.createPrompt(w, r)
		case http.MethodGet:
			h.listPrompts(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getPrompt(w, r, parts[0])
		case http.MethodDelete:
			h.deletePrompt(w, r, parts[0])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 2 && parts[1] == "versions":
		switch r.Method {
		case http.MethodPost:
			h.createVersion(w, r, parts[0])
		case http.MethodGet:
			h.listVersions(w, r, parts[0])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 4 && parts[1] == "versions" && parts[2] == "by-label":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.getVersionByLabel(w, r, parts[0], parts[3])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) createPrompt(w http.ResponseWriter, r *http.Request) {
	var prompt core.Prompt
	if err := decodeJSON(r, &prompt); err != nil {
		h.writeServiceError(w, err)
		return
	}
	created, err := h.service.CreatePrompt(r.Context(), prompt)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listPrompts(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	prompts, total, err := h.service.Store().ListPrompts(r.Context(), page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageOf(prompts, total, page))
}

func (h *Handler) getPrompt(w http.ResponseWriter, r *http.Request, id string) {
	prompt, err := h.service.Store().GetPrompt(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (h *Handler) deletePrompt(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Store().DeletePrompt(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request, promptID string) {
	var version core.PromptVersion
	if err := decodeJSON(r, &version); err != nil {
		h.writeServiceError(w, err)
		return
	}
	version.PromptID = promptID
	created, err := h.service.CreateVersion(r.Context(), version)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request, promptID string) {
	if _, err := h.service.Store().GetPrompt(r.Context(), promptID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	versions, err := h.service.Store().ListVersions(r.Context(), promptID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": versions})
}

func (h *Handler) getVersionByLabel(w http.ResponseWriter, r *http.Request, promptID, label string) {
	version, err := h.service.Store().GetVersionByLabel(r.Context(), promptID, label)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request, remainder string) {
	parts := segments(remainder)
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		version, err := h.service.Store().GetVersion(r.Context(), parts[0])
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, version)
	case len(parts) == 3 && parts[1] == "labels":
		versionID, label := parts[0], parts[2]
		switch r.Method {
		case http.MethodPost:
			version, err := h.service.PromoteVersion(r.Context(), versionID, label)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, version)
		case http.MethodDelete:
			version, err := h.service.DemoteVersion(r.Context(), versionID, label)
			if err != nil {
				h.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, version)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 2 && parts[1] == "playground-runs":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if _, err := h.service.Store().GetVersion(r.Context(), parts[0]); err != nil {
			h.writeServiceError(w, err)
			return
		}
		runs, err := h.service.Store().ListPlaygroundRunsByVersion(r.Context(), parts[0], limit)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": runs})
	default:
		http.NotFound(w, r)
	}
}
