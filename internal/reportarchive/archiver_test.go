package reportarchive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"evalcore/internal/core"
	"evalcore/internal/infra/persistence/memory"
)

func seedFinishedRun(t *testing.T, store *memory.Store, results int) core.EvalRun {
	t.Helper()
	ctx := context.Background()
	prompt, err := store.CreatePrompt(ctx, core.Prompt{Name: "p"})
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	version, err := store.CreateVersion(ctx, core.PromptVersion{
		PromptID: prompt.ID, Type: core.TemplateText, TemplateText: "{{q}}",
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	dataset, err := store.CreateDataset(ctx, core.Dataset{Name: "d"})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	run, err := store.CreateRun(ctx, core.EvalRun{
		PromptVersionID: version.ID,
		DatasetID:       dataset.ID,
		Models:          []core.ModelConfig{{ID: "model_0", Model: "gpt-4o"}},
		Status:          core.RunPending,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	batch := make([]core.EvalResult, results)
	for i := range batch {
		batch[i] = core.EvalResult{
			EvalRunID:     run.ID,
			DatasetItemID: fmt.Sprintf("item-%d", i),
			ModelID:       "model_0",
			Grading:       core.Grading{Pass: true, Score: 1},
		}
	}
	if results > 0 {
		if err := store.InsertResults(ctx, batch); err != nil {
			t.Fatalf("insert results: %v", err)
		}
	}
	return run
}

func TestBuildCollectsAllResultPages(t *testing.T) {
	store := memory.NewStore()
	run := seedFinishedRun(t, store, 450) // spans three 200-result pages

	report, err := Build(context.Background(), store, run.ID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if report.Run.ID != run.ID {
		t.Fatalf("run id = %s", report.Run.ID)
	}
	if len(report.Results) != 450 {
		t.Fatalf("results = %d, want 450", len(report.Results))
	}
	if report.Version.ID != run.PromptVersionID || report.Dataset.ID != run.DatasetID {
		t.Fatalf("joined entities = %+v / %+v", report.Version, report.Dataset)
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("generated_at must be set")
	}
}

func TestBuildUnknownRun(t *testing.T) {
	store := memory.NewStore()
	_, err := Build(context.Background(), store, "missing")
	var notFound core.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestArchiveAndFetch(t *testing.T) {
	store := memory.NewStore()
	run := seedFinishedRun(t, store, 2)
	archiver := NewArchiver(store, NewMemoryStore(), nil)

	ctx := context.Background()
	if err := archiver.Archive(ctx, run.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	raw, err := archiver.Fetch(ctx, run.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("decode archived report: %v", err)
	}
	if report.Run.ID != run.ID || len(report.Results) != 2 {
		t.Fatalf("archived report = run %s, %d results", report.Run.ID, len(report.Results))
	}

	if _, err := archiver.Fetch(ctx, "other-run"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	data := []byte("payload")
	if err := store.Put(ctx, "k", data); err != nil {
		t.Fatalf("put: %v", err)
	}
	data[0] = 'X'
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("stored value mutated: %q", got)
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, Key("run-1"), []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, Key("run-1"))
	if err != nil || string(got) != `{"ok":true}` {
		t.Fatalf("get = %q, %v", got, err)
	}
	if _, err := store.Get(ctx, Key("run-2")); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	ctx := context.Background()
	for _, key := range []string{"../escape.json", "/etc/passwd", "reports/../../escape"} {
		if err := store.Put(ctx, key, []byte("x")); err == nil {
			t.Fatalf("key %q must be rejected", key)
		}
		if _, err := store.Get(ctx, key); err == nil {
			t.Fatalf("get with key %q must be rejected", key)
		}
	}
}
