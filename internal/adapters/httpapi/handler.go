// Package httpapi exposes the evaluation backend over HTTP. Routing is a
// plain method-and-path switch on the standard library mux; payloads are
// JSON throughout.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"evalcore/internal/core"
	"evalcore/internal/playground"
	"evalcore/internal/reportarchive"
)

// Handler serves the API surface: prompts, datasets, eval runs, shares and
// the playground.
type Handler struct {
	service    *core.Service
	playground *playground.Service
	archiver   *reportarchive.Archiver // nil disables snapshot archiving
	logger     *slog.Logger
}

// NewHandler constructs the API handler. archiver may be nil.
func NewHandler(service *core.Service, pg *playground.Service, archiver *reportarchive.Archiver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, playground: pg, archiver: archiver, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/healthz":
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case strings.HasPrefix(path, "/reports/"):
		h.handleSharedReport(w, r, strings.TrimPrefix(path, "/reports/"))
	case path == "/api/v1/prompts" || strings.HasPrefix(path, "/api/v1/prompts/"):
		h.handlePrompts(w, r, strings.TrimPrefix(path, "/api/v1/prompts"))
	case path == "/api/v1/versions" || strings.HasPrefix(path, "/api/v1/versions/"):
		h.handleVersions(w, r, strings.TrimPrefix(path, "/api/v1/versions"))
	case path == "/api/v1/datasets" || strings.HasPrefix(path, "/api/v1/datasets/"):
		h.handleDatasets(w, r, strings.TrimPrefix(path, "/api/v1/datasets"))
	case path == "/api/v1/eval-runs" || strings.HasPrefix(path, "/api/v1/eval-runs/"):
		h.handleEvalRuns(w, r, strings.TrimPrefix(path, "/api/v1/eval-runs"))
	case strings.HasPrefix(path, "/api/v1/playground/"):
		h.handlePlayground(w, r, strings.TrimPrefix(path, "/api/v1/playground/"))
	default:
		http.NotFound(w, r)
	}
}

// segments splits a path remainder like "/a/b" into ["a", "b"].
func segments(remainder string) []string {
	remainder = strings.Trim(remainder, "/")
	if remainder == "" {
		return nil
	}
	return strings.Split(remainder, "/")
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return core.ErrValidation{Reason: "invalid JSON body: " + err.Error()}
	}
	return nil
}

func pageFromQuery(r *http.Request) core.PageRequest {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return core.PageRequest{Page: page, Limit: limit}.Normalize()
}

// pageResponse is the uniform paginated listing envelope.
type pageResponse struct {
	Items any `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func pageOf(items any, total int, page core.PageRequest) pageResponse {
	pages := 0
	if total > 0 {
		pages = (total + page.Limit - 1) / page.Limit
	}
	return pageResponse{Items: items, Total: total, Page: page.Page, Limit: page.Limit, Pages: pages}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeServiceError maps domain error types onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var (
		notFound   core.ErrNotFound
		conflict   core.ErrConflict
		gone       core.ErrGone
		validation core.ErrValidation
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusBadRequest, conflict.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &gone):
		writeError(w, http.StatusGone, gone.Error())
	default:
		h.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
