package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"evalcore/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedRun(t *testing.T, store *Store) core.EvalRun {
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
		Assertions:      []core.Assertion{},
		Status:          core.RunPending,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func TestRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, store)

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != core.RunPending || len(got.Models) != 1 || got.Models[0].Model != "gpt-4o" {
		t.Fatalf("round trip = %+v", got)
	}
	if got.Summary != nil || got.StartedAt != nil {
		t.Fatalf("nullable fields should be empty: %+v", got)
	}
}

func TestVersionNumberingAndDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	prompt, _ := store.CreatePrompt(ctx, core.Prompt{Name: "p"})
	temp := 0.2
	v1, err := store.CreateVersion(ctx, core.PromptVersion{
		PromptID: prompt.ID, Type: core.TemplateText, TemplateText: "a",
		ModelDefaults: &core.ModelConfig{Model: "gpt-4o", Temperature: &temp},
	})
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	v2, err := store.CreateVersion(ctx, core.PromptVersion{
		PromptID: prompt.ID, Type: core.TemplateText, TemplateText: "b",
	})
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if v1.VersionNumber != 1 || v2.VersionNumber != 2 {
		t.Fatalf("version numbers = %d, %d", v1.VersionNumber, v2.VersionNumber)
	}
	got, err := store.GetVersion(ctx, v1.ID)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if got.ModelDefaults == nil || got.ModelDefaults.Temperature == nil || *got.ModelDefaults.Temperature != 0.2 {
		t.Fatalf("model defaults = %+v", got.ModelDefaults)
	}
}

func TestLabelMove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	prompt, _ := store.CreatePrompt(ctx, core.Prompt{Name: "p"})
	v1, _ := store.CreateVersion(ctx, core.PromptVersion{PromptID: prompt.ID, Type: core.TemplateText, TemplateText: "a"})
	v2, _ := store.CreateVersion(ctx, core.PromptVersion{PromptID: prompt.ID, Type: core.TemplateText, TemplateText: "b"})

	if _, err := store.SetLabel(ctx, v1.ID, core.LabelProduction); err != nil {
		t.Fatalf("set label: %v", err)
	}
	if _, err := store.SetLabel(ctx, v2.ID, core.LabelProduction); err != nil {
		t.Fatalf("move label: %v", err)
	}
	got1, _ := store.GetVersion(ctx, v1.ID)
	got2, _ := store.GetVersion(ctx, v2.ID)
	if got1.HasLabel(core.LabelProduction) || !got2.HasLabel(core.LabelProduction) {
		t.Fatalf("labels: v1=%v v2=%v", got1.Labels, got2.Labels)
	}
	byLabel, err := store.GetVersionByLabel(ctx, prompt.ID, core.LabelProduction)
	if err != nil || byLabel.ID != v2.ID {
		t.Fatalf("by label = %v, %v", byLabel.ID, err)
	}
}

func TestDequeueAndTerminalGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, store)

	claimed, ok, err := store.DequeueRun(ctx, nil)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if claimed.ID != run.ID || claimed.Status != core.RunRunning || claimed.StartedAt == nil {
		t.Fatalf("claimed = %+v", claimed)
	}
	if _, ok, _ := store.DequeueRun(ctx, nil); ok {
		t.Fatal("second claim must fail")
	}

	if _, err := store.CancelRun(ctx, run.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	finished, err := store.FinishRun(ctx, run.ID, core.RunCompleted, "", core.Progress{}, &core.Summary{Total: 1})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != core.RunCanceled {
		t.Fatalf("status = %v, want canceled", finished.Status)
	}
	var conflict core.ErrConflict
	if _, err := store.CancelRun(ctx, run.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDequeueStaleReclaim(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, store)
	if _, ok, _ := store.DequeueRun(ctx, nil); !ok {
		t.Fatal("claim failed")
	}
	cutoff := time.Now().UTC().Add(time.Minute)
	reclaimed, ok, err := store.DequeueRun(ctx, &cutoff)
	if err != nil || !ok || reclaimed.ID != run.ID {
		t.Fatalf("reclaim: ok=%v err=%v id=%v", ok, err, reclaimed.ID)
	}
}

func TestResultsUniqueAndFiltered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, store)
	output := "hello"
	results := []core.EvalResult{
		{
			EvalRunID: run.ID, DatasetItemID: "item-1", ModelID: "model_0",
			Output:  &output,
			Grading: core.Grading{Pass: true, Score: 1},
		},
		{
			EvalRunID: run.ID, DatasetItemID: "item-1", ModelID: "model_1",
			Grading: core.Grading{Pass: false, Score: 0},
		},
	}
	if err := store.InsertResults(ctx, results); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertResults(ctx, results[:1]); err == nil {
		t.Fatal("duplicate (run, item, model) must fail")
	}

	passed := true
	got, total, err := store.ListResults(ctx, run.ID, core.ResultFilter{Passed: &passed}, core.PageRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].ModelID != "model_0" {
		t.Fatalf("filtered results = %+v (total %d)", got, total)
	}
	if got[0].Output == nil || *got[0].Output != "hello" {
		t.Fatalf("output = %v", got[0].Output)
	}

	got, total, err = store.ListResults(ctx, run.ID, core.ResultFilter{ModelID: "model_1"}, core.PageRequest{})
	if err != nil || total != 1 || got[0].Grading.Pass {
		t.Fatalf("model filter: total=%d err=%v", total, err)
	}
}

func TestItemsOrderAndPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dataset, _ := store.CreateDataset(ctx, core.Dataset{Name: "d"})
	batch := make([]core.DatasetItem, 5)
	for i := range batch {
		batch[i] = core.DatasetItem{Input: map[string]any{"i": i}}
	}
	created, err := store.CreateItems(ctx, dataset.ID, batch)
	if err != nil {
		t.Fatalf("create items: %v", err)
	}

	all, err := store.ListItems(ctx, dataset.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	for i := range all {
		if all[i].ID != created[i].ID {
			t.Fatalf("order broken at %d: %s != %s", i, all[i].ID, created[i].ID)
		}
	}

	page, total, err := store.ListItemsPage(ctx, dataset.ID, core.PageRequest{Page: 2, Limit: 2})
	if err != nil || total != 5 || len(page) != 2 {
		t.Fatalf("page: total=%d len=%d err=%v", total, len(page), err)
	}
	if page[0].ID != created[2].ID {
		t.Fatalf("page 2 starts at %s, want %s", page[0].ID, created[2].ID)
	}
}

func TestShareTokenLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := seedRun(t, store)
	expires := time.Now().UTC().Add(24 * time.Hour)
	if _, err := store.SetShare(ctx, run.ID, "tok123", expires); err != nil {
		t.Fatalf("set share: %v", err)
	}
	got, err := store.GetRunByShareToken(ctx, "tok123")
	if err != nil || got.ID != run.ID {
		t.Fatalf("lookup: %v %v", got.ID, err)
	}
	if err := store.ClearShare(ctx, run.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	var notFound core.ErrNotFound
	if _, err := store.GetRunByShareToken(ctx, "tok123"); !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
