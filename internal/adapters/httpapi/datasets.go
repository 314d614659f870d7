package httpapi

import (
	"net/http"

	"evalcore/internal/core"
)

func (h *Handler) handleDatasets(w http.ResponseWriter, r *http.Request, remainder string) {
	parts := segments(remainder)
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodPost:
			h.createDataset(w, r)
		case http.MethodGet:
			h.listDatasets(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getDataset(w, r, parts[0])
		case http.MethodDelete:
			h.deleteDataset(w, r, parts[0])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 2 && parts[1] == "items":
		switch r.Method {
		case http.MethodPost:
			h.addItems(w, r, parts[0])
		case http.MethodGet:
			h.listItems(w, r, parts[0])
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 3 && parts[1] == "items":
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.deleteItem(w, r, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) createDataset(w http.ResponseWriter, r *http.Request) {
	var dataset core.Dataset
	if err := decodeJSON(r, &dataset); err != nil {
		h.writeServiceError(w, err)
		return
	}
	created, err := h.service.CreateDataset(r.Context(), dataset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) listDatasets(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	datasets, total, err := h.service.Store().ListDatasets(r.Context(), page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageOf(datasets, total, page))
}

func (h *Handler) getDataset(w http.ResponseWriter, r *http.Request, id string) {
	dataset, err := h.service.Store().GetDataset(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dataset)
}

func (h *Handler) deleteDataset(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Store().DeleteDataset(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addItems(w http.ResponseWriter, r *http.Request, datasetID string) {
	var body struct {
		Items []core.DatasetItem `json:"items"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeServiceError(w, err)
		return
	}
	created, err := h.service.AddItems(r.Context(), datasetID, body.Items)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": created})
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request, datasetID string) {
	page := pageFromQuery(r)
	items, total, err := h.service.Store().ListItemsPage(r.Context(), datasetID, page)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageOf(items, total, page))
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request, itemID string) {
	if err := h.service.Store().DeleteItem(r.Context(), itemID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
