package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evalcore/internal/core"
	"evalcore/internal/infra/persistence/memory"
	"evalcore/internal/llm"
	"evalcore/internal/playground"
	"evalcore/internal/reportarchive"
)

type invokerFunc func(ctx context.Context, req llm.Request) llm.Response

func (f invokerFunc) Generate(ctx context.Context, req llm.Request) llm.Response {
	return f(ctx, req)
}

type env struct {
	handler *Handler
	store   *memory.Store
	archive *reportarchive.MemoryStore
}

func newEnv(t *testing.T) env {
	t.Helper()
	store := memory.NewStore()
	service := core.NewService(store)
	invoker := invokerFunc(func(_ context.Context, req llm.Request) llm.Response {
		return llm.Response{Output: "stub output", Model: req.Model, Provider: "openai", LatencyMS: 1}
	})
	archive := reportarchive.NewMemoryStore()
	archiver := reportarchive.NewArchiver(store, archive, nil)
	handler := NewHandler(service, playground.NewService(store, invoker), archiver, nil)
	return env{handler: handler, store: store, archive: archive}
}

func (e env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func (e env) seedRun(t *testing.T) core.EvalRun {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/prompts", map[string]any{"name": "support-bot"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create prompt: %d %s", rec.Code, rec.Body.String())
	}
	prompt := decodeBody[core.Prompt](t, rec)

	rec = e.do(t, http.MethodPost, "/api/v1/prompts/"+prompt.ID+"/versions", map[string]any{
		"type":          "text",
		"template_text": "Answer: {{question}}",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create version: %d %s", rec.Code, rec.Body.String())
	}
	version := decodeBody[core.PromptVersion](t, rec)

	rec = e.do(t, http.MethodPost, "/api/v1/datasets", map[string]any{"name": "cases"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create dataset: %d %s", rec.Code, rec.Body.String())
	}
	dataset := decodeBody[core.Dataset](t, rec)

	rec = e.do(t, http.MethodPost, "/api/v1/datasets/"+dataset.ID+"/items", map[string]any{
		"items": []map[string]any{
			{"input": map[string]any{"question": "one"}},
			{"input": map[string]any{"question": "two"}},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add items: %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/api/v1/eval-runs", map[string]any{
		"prompt_version_id": version.ID,
		"dataset_id":        dataset.ID,
		"models":            []map[string]any{{"model": "gpt-4o"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create run: %d %s", rec.Code, rec.Body.String())
	}
	return decodeBody[core.EvalRun](t, rec)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRunLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	run := e.seedRun(t)
	if run.Status != core.RunPending || run.Models[0].ID != "model_0" {
		t.Fatalf("created run = %+v", run)
	}

	rec := e.do(t, http.MethodGet, "/api/v1/eval-runs/"+run.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get run: %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/eval-runs/"+run.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}
	canceled := decodeBody[core.EvalRun](t, rec)
	if canceled.Status != core.RunCanceled {
		t.Fatalf("status = %v", canceled.Status)
	}

	// A second cancel conflicts.
	rec = e.do(t, http.MethodPost, "/api/v1/eval-runs/"+run.ID+"/cancel", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second cancel = %d", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, "/api/v1/eval-runs/"+run.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/v1/eval-runs/"+run.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
}

func TestListRunsPaginationEnvelope(t *testing.T) {
	e := newEnv(t)
	for range 3 {
		e.seedRun(t)
	}
	rec := e.do(t, http.MethodGet, "/api/v1/eval-runs?page=1&limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	envelope := decodeBody[struct {
		Items []core.EvalRun `json:"items"`
		Total int            `json:"total"`
		Page  int            `json:"page"`
		Limit int            `json:"limit"`
		Pages int            `json:"pages"`
	}](t, rec)
	if envelope.Total != 3 || len(envelope.Items) != 2 || envelope.Pages != 2 || envelope.Page != 1 || envelope.Limit != 2 {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestRunResultsFiltersAndItemJoin(t *testing.T) {
	e := newEnv(t)
	run := e.seedRun(t)
	ctx := context.Background()
	items, err := e.store.ListItems(ctx, run.DatasetID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	output := "out"
	if err := e.store.InsertResults(ctx, []core.EvalResult{
		{EvalRunID: run.ID, DatasetItemID: items[0].ID, ModelID: "model_0", Output: &output, Grading: core.Grading{Pass: true, Score: 1}},
		{EvalRunID: run.ID, DatasetItemID: items[1].ID, ModelID: "model_0", Grading: core.Grading{Pass: false}},
	}); err != nil {
		t.Fatalf("insert results: %v", err)
	}

	rec := e.do(t, http.MethodGet, "/api/v1/eval-runs/"+run.ID+"/results?passed=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("results: %d %s", rec.Code, rec.Body.String())
	}
	envelope := decodeBody[struct {
		Items []struct {
			DatasetItemID string            `json:"dataset_item_id"`
			Item          *core.DatasetItem `json:"item"`
			Grading       core.Grading      `json:"grading"`
		} `json:"items"`
		Total int `json:"total"`
	}](t, rec)
	if envelope.Total != 1 || len(envelope.Items) != 1 {
		t.Fatalf("envelope = %+v", envelope)
	}
	row := envelope.Items[0]
	if !row.Grading.Pass || row.Item == nil || row.Item.ID != items[0].ID {
		t.Fatalf("row = %+v", row)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/eval-runs/"+run.ID+"/results?passed=maybe", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad passed filter = %d", rec.Code)
	}
}

func TestShareAndPublicReport(t *testing.T) {
	e := newEnv(t)
	run := e.seedRun(t)

	rec := e.do(t, http.MethodPost, "/api/v1/eval-runs/"+run.ID+"/share", map[string]any{"expires_in_days": 3})
	if rec.Code != http.StatusCreated {
		t.Fatalf("share: %d %s", rec.Code, rec.Body.String())
	}
	share := decodeBody[core.ShareInfo](t, rec)
	if share.URL != "/reports/"+share.Token {
		t.Fatalf("share = %+v", share)
	}

	// Share creation archived a snapshot.
	if _, err := e.archive.Get(context.Background(), reportarchive.Key(run.ID)); err != nil {
		t.Fatalf("archived snapshot missing: %v", err)
	}

	rec = e.do(t, http.MethodGet, share.URL, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public report: %d %s", rec.Code, rec.Body.String())
	}
	report := decodeBody[reportarchive.Report](t, rec)
	if report.Run.ID != run.ID {
		t.Fatalf("report run = %s", report.Run.ID)
	}

	rec = e.do(t, http.MethodGet, "/reports/unknown-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown token = %d", rec.Code)
	}

	// Expired tokens are Gone, not Not Found.
	expired := time.Now().UTC().Add(-time.Hour)
	if _, err := e.store.SetShare(context.Background(), run.ID, "expiredtoken9012345678", expired); err != nil {
		t.Fatalf("set share: %v", err)
	}
	rec = e.do(t, http.MethodGet, "/reports/expiredtoken9012345678", nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("expired token = %d", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, "/api/v1/eval-runs/"+run.ID+"/share", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke: %d", rec.Code)
	}
}

func TestShareDefaultsToSevenDays(t *testing.T) {
	e := newEnv(t)
	run := e.seedRun(t)
	rec := e.do(t, http.MethodPost, "/api/v1/eval-runs/"+run.ID+"/share", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("share: %d %s", rec.Code, rec.Body.String())
	}
	share := decodeBody[core.ShareInfo](t, rec)
	days := time.Until(share.ExpiresAt).Hours() / 24
	if days < 6.9 || days > 7.1 {
		t.Fatalf("expiry %.2f days out", days)
	}
}

func TestExportRun(t *testing.T) {
	e := newEnv(t)
	run := e.seedRun(t)
	rec := e.do(t, http.MethodGet, "/api/v1/eval-runs/"+run.ID+"/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != fmt.Sprintf("attachment; filename=%q", "eval-run-"+run.ID+".json") {
		t.Fatalf("content-disposition = %q", cd)
	}
}

func TestVersionLabelEndpoints(t *testing.T) {
	e := newEnv(t)
	run := e.seedRun(t)

	rec := e.do(t, http.MethodPost, "/api/v1/versions/"+run.PromptVersionID+"/labels/production", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("promote: %d %s", rec.Code, rec.Body.String())
	}
	version := decodeBody[core.PromptVersion](t, rec)
	if !version.HasLabel(core.LabelProduction) {
		t.Fatalf("labels = %v", version.Labels)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/prompts/"+version.PromptID+"/versions/by-label/production", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("by label: %d", rec.Code)
	}

	rec = e.do(t, http.MethodDelete, "/api/v1/versions/"+run.PromptVersionID+"/labels/production", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("demote: %d %s", rec.Code, rec.Body.String())
	}
	rec = e.do(t, http.MethodGet, "/api/v1/prompts/"+version.PromptID+"/versions/by-label/production", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("by label after demote: %d", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/versions/"+run.PromptVersionID+"/labels/canary", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown label = %d", rec.Code)
	}
}

func TestPlaygroundEndpoints(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/playground/compile", map[string]any{
		"type":      "text",
		"template":  "Hello {{name}}",
		"variables": map[string]any{"name": "world"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("compile: %d %s", rec.Code, rec.Body.String())
	}
	compiled := decodeBody[core.DryRunResult](t, rec)
	if !compiled.IsValid || compiled.CompiledText == nil || *compiled.CompiledText != "Hello world" {
		t.Fatalf("compiled = %+v", compiled)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/playground/run", map[string]any{
		"type":      "text",
		"template":  "Hello {{name}}",
		"variables": map[string]any{"name": "world"},
		"model":     map[string]any{"model": "gpt-4o"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("run: %d %s", rec.Code, rec.Body.String())
	}
	result := decodeBody[playground.RunResult](t, rec)
	if result.Output != "stub output" || result.Error != "" {
		t.Fatalf("result = %+v", result)
	}

	// Missing variables still answer 200 with the error inline.
	rec = e.do(t, http.MethodPost, "/api/v1/playground/run", map[string]any{
		"type":     "text",
		"template": "Hello {{name}}",
		"model":    map[string]any{"model": "gpt-4o"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("run with missing vars: %d", rec.Code)
	}
	result = decodeBody[playground.RunResult](t, rec)
	if result.Error != "Missing variables: name" {
		t.Fatalf("error = %q", result.Error)
	}

	// An empty model list is a request-level validation failure.
	rec = e.do(t, http.MethodPost, "/api/v1/playground/run-multi", map[string]any{
		"type":     "text",
		"template": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("run-multi empty models = %d", rec.Code)
	}
}

func TestPlaygroundRunHistory(t *testing.T) {
	e := newEnv(t)
	run := e.seedRun(t)

	version, err := e.store.GetVersion(context.Background(), run.PromptVersionID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}

	rec := e.do(t, http.MethodPost, "/api/v1/playground/runs", map[string]any{
		"prompt_id":  version.PromptID,
		"version_id": version.ID,
		"config":     map[string]any{"variables": map[string]any{"question": "q"}},
		"results":    []map[string]any{{"output": "saved output"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("save: %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/v1/playground/runs?version_id="+run.PromptVersionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	listing := decodeBody[struct {
		Items []core.PlaygroundRun `json:"items"`
	}](t, rec)
	if len(listing.Items) != 1 || len(listing.Items[0].Results) != 1 || listing.Items[0].Results[0]["output"] != "saved output" {
		t.Fatalf("items = %+v", listing.Items)
	}

	rec = e.do(t, http.MethodGet, "/api/v1/playground/runs", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing version_id = %d", rec.Code)
	}

	// The same history is reachable from the version resource.
	rec = e.do(t, http.MethodGet, "/api/v1/versions/"+run.PromptVersionID+"/playground-runs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version playground-runs: %d", rec.Code)
	}
}

func TestCreateRunValidationOverHTTP(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/eval-runs", map[string]any{
		"prompt_version_id": "missing",
		"dataset_id":        "missing",
		"models":            []map[string]any{{"model": "gpt-4o"}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown refs = %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/api/v1/prompts", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless prompt = %d", rec.Code)
	}
}
