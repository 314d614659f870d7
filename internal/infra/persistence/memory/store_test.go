package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"evalcore/internal/core"
)

func seedPromptVersion(t *testing.T, store *Store) core.PromptVersion {
	t.Helper()
	ctx := context.Background()
	prompt, err := store.CreatePrompt(ctx, core.Prompt{Name: "p"})
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	version, err := store.CreateVersion(ctx, core.PromptVersion{
		PromptID:     prompt.ID,
		Type:         core.TemplateText,
		TemplateText: "{{q}}",
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	return version
}

func seedRun(t *testing.T, store *Store) core.EvalRun {
	t.Helper()
	ctx := context.Background()
	version := seedPromptVersion(t, store)
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

func TestVersionNumberingMonotonic(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	prompt, _ := store.CreatePrompt(ctx, core.Prompt{Name: "p"})
	for want := 1; want <= 3; want++ {
		v, err := store.CreateVersion(ctx, core.PromptVersion{
			PromptID: prompt.ID, Type: core.TemplateText, TemplateText: "t",
		})
		if err != nil {
			t.Fatalf("create version: %v", err)
		}
		if v.VersionNumber != want {
			t.Fatalf("version number = %d, want %d", v.VersionNumber, want)
		}
	}
}

func TestSetLabelMovesBetweenVersions(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	prompt, _ := store.CreatePrompt(ctx, core.Prompt{Name: "p"})
	v1, _ := store.CreateVersion(ctx, core.PromptVersion{PromptID: prompt.ID, Type: core.TemplateText, TemplateText: "a"})
	v2, _ := store.CreateVersion(ctx, core.PromptVersion{PromptID: prompt.ID, Type: core.TemplateText, TemplateText: "b"})

	if _, err := store.SetLabel(ctx, v1.ID, core.LabelProduction); err != nil {
		t.Fatalf("set label: %v", err)
	}
	moved, err := store.SetLabel(ctx, v2.ID, core.LabelProduction)
	if err != nil {
		t.Fatalf("move label: %v", err)
	}
	if !moved.HasLabel(core.LabelProduction) {
		t.Fatal("v2 should carry production")
	}
	got1, _ := store.GetVersion(ctx, v1.ID)
	if got1.HasLabel(core.LabelProduction) {
		t.Fatal("label must be removed from v1")
	}
	// Resolution by label points at the new holder.
	byLabel, err := store.GetVersionByLabel(ctx, prompt.ID, core.LabelProduction)
	if err != nil {
		t.Fatalf("get by label: %v", err)
	}
	if byLabel.ID != v2.ID {
		t.Fatalf("label resolves to %s, want %s", byLabel.ID, v2.ID)
	}
}

func TestDequeueClaimsOldestPendingOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	first := seedRun(t, store)
	second := seedRun(t, store)

	claimed, ok, err := store.DequeueRun(ctx, nil)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if claimed.ID != first.ID {
		t.Fatalf("claimed %s, want oldest %s", claimed.ID, first.ID)
	}
	if claimed.Status != core.RunRunning || claimed.StartedAt == nil {
		t.Fatalf("claimed run = %+v", claimed)
	}

	claimed2, ok, err := store.DequeueRun(ctx, nil)
	if err != nil || !ok {
		t.Fatalf("second dequeue: ok=%v err=%v", ok, err)
	}
	if claimed2.ID != second.ID {
		t.Fatalf("second claim = %s, want %s", claimed2.ID, second.ID)
	}

	if _, ok, _ := store.DequeueRun(ctx, nil); ok {
		t.Fatal("queue should be drained")
	}
}

func TestDequeueReclaimsStaleRunning(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	run := seedRun(t, store)
	if _, ok, _ := store.DequeueRun(ctx, nil); !ok {
		t.Fatal("first claim failed")
	}

	// Without a threshold the running run is invisible.
	if _, ok, _ := store.DequeueRun(ctx, nil); ok {
		t.Fatal("running run must not be reclaimed without staleBefore")
	}
	// A future cutoff makes it claimable again.
	cutoff := time.Now().UTC().Add(time.Minute)
	reclaimed, ok, err := store.DequeueRun(ctx, &cutoff)
	if err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}
	if reclaimed.ID != run.ID {
		t.Fatalf("reclaimed %s, want %s", reclaimed.ID, run.ID)
	}
}

func TestFinishRunTerminalGuard(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	run := seedRun(t, store)
	if _, ok, _ := store.DequeueRun(ctx, nil); !ok {
		t.Fatal("claim failed")
	}
	if _, err := store.CancelRun(ctx, run.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The executor's completion write must not overwrite the cancel.
	finished, err := store.FinishRun(ctx, run.ID, core.RunCompleted, "", core.Progress{}, &core.Summary{})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != core.RunCanceled {
		t.Fatalf("status = %v, want canceled", finished.Status)
	}
}

func TestCancelRunConflictOnTerminal(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	run := seedRun(t, store)
	if _, err := store.CancelRun(ctx, run.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	_, err := store.CancelRun(ctx, run.ID)
	var conflict core.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestInsertResultsUniqueness(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	run := seedRun(t, store)
	result := core.EvalResult{
		EvalRunID:     run.ID,
		DatasetItemID: "item-1",
		ModelID:       "model_0",
	}
	if err := store.InsertResults(ctx, []core.EvalResult{result}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := store.InsertResults(ctx, []core.EvalResult{result})
	var conflict core.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict on duplicate, got %v", err)
	}
}

func TestDeleteRunCascadesResults(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	run := seedRun(t, store)
	_ = store.InsertResults(ctx, []core.EvalResult{{
		EvalRunID: run.ID, DatasetItemID: "i", ModelID: "model_0",
	}})
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, _, err := store.ListResults(ctx, run.ID, core.ResultFilter{}, core.PageRequest{})
	var notFound core.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	// Reinserting the same (run, item, model) key must be possible again.
	run2 := seedRun(t, store)
	if err := store.InsertResults(ctx, []core.EvalResult{{
		EvalRunID: run2.ID, DatasetItemID: "i", ModelID: "model_0",
	}}); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
}

func TestListRunsFilterAndPagination(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Now().UTC()
	n := 0
	store.SetClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	})

	var last core.EvalRun
	for range 5 {
		last = seedRun(t, store)
	}
	_, _ = store.CancelRun(ctx, last.ID)

	runs, total, err := store.ListRuns(ctx, core.RunFilter{Status: core.RunPending}, core.PageRequest{Page: 1, Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 || len(runs) != 3 {
		t.Fatalf("total=%d len=%d", total, len(runs))
	}
	// Newest first.
	if !runs[0].CreatedAt.After(runs[1].CreatedAt) {
		t.Fatal("expected descending created_at")
	}

	runs, total, _ = store.ListRuns(ctx, core.RunFilter{Status: core.RunPending}, core.PageRequest{Page: 2, Limit: 3})
	if total != 4 || len(runs) != 1 {
		t.Fatalf("page 2: total=%d len=%d", total, len(runs))
	}
}

func TestDeletePromptGuardedByRuns(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	run := seedRun(t, store)
	version, _ := store.GetVersion(ctx, run.PromptVersionID)

	err := store.DeletePrompt(ctx, version.PromptID)
	var conflict core.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if err := store.DeletePrompt(ctx, version.PromptID); err != nil {
		t.Fatalf("delete prompt after run removal: %v", err)
	}
}

func TestDefensiveCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	run := seedRun(t, store)

	got, _ := store.GetRun(ctx, run.ID)
	got.Models[0].Model = "mutated"
	again, _ := store.GetRun(ctx, run.ID)
	if again.Models[0].Model != "gpt-4o" {
		t.Fatalf("store leaked internal state: %q", again.Models[0].Model)
	}
}
