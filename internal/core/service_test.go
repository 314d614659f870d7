package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"evalcore/internal/core"
	"evalcore/internal/infra/persistence/memory"
)

func newService(t *testing.T) (*core.Service, core.Storage) {
	t.Helper()
	store := memory.NewStore()
	return core.NewService(store), store
}

func mustPromptVersion(t *testing.T, svc *core.Service) core.PromptVersion {
	t.Helper()
	ctx := context.Background()
	prompt, err := svc.CreatePrompt(ctx, core.Prompt{Name: "support-bot"})
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}
	version, err := svc.CreateVersion(ctx, core.PromptVersion{
		PromptID:     prompt.ID,
		Type:         core.TemplateText,
		TemplateText: "Answer: {{question}}",
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	return version
}

func mustDataset(t *testing.T, svc *core.Service, n int) core.Dataset {
	t.Helper()
	ctx := context.Background()
	dataset, err := svc.CreateDataset(ctx, core.Dataset{Name: "cases"})
	if err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	items := make([]core.DatasetItem, n)
	for i := range items {
		items[i] = core.DatasetItem{Input: map[string]any{"question": "q"}}
	}
	if n > 0 {
		if _, err := svc.AddItems(ctx, dataset.ID, items); err != nil {
			t.Fatalf("add items: %v", err)
		}
	}
	return dataset
}

func TestCreateVersionPayloadExclusivity(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	prompt, err := svc.CreatePrompt(ctx, core.Prompt{Name: "p"})
	if err != nil {
		t.Fatalf("create prompt: %v", err)
	}

	_, err = svc.CreateVersion(ctx, core.PromptVersion{
		PromptID:     prompt.ID,
		Type:         core.TemplateText,
		TemplateText: "x",
		TemplateMessages: []core.Message{
			{Role: core.RoleUser, Content: "y"},
		},
	})
	var validation core.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = svc.CreateVersion(ctx, core.PromptVersion{
		PromptID: prompt.ID,
		Type:     core.TemplateChat,
		TemplateMessages: []core.Message{
			{Role: "tool", Content: "y"},
		},
	})
	if !errors.As(err, &validation) {
		t.Fatalf("expected role validation error, got %v", err)
	}
}

func TestCreateEvalRunAssignsModelIDs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	version := mustPromptVersion(t, svc)
	dataset := mustDataset(t, svc, 1)

	run, err := svc.CreateEvalRun(ctx, core.EvalRun{
		PromptVersionID: version.ID,
		DatasetID:       dataset.ID,
		Models: []core.ModelConfig{
			{Model: "gpt-4o-mini"},
			{ID: "custom", Model: "claude-3-haiku-20240307"},
			{Model: "gemini-1.5-flash"},
		},
		// Client-supplied state must be reset.
		Status:   core.RunCompleted,
		Progress: core.Progress{Total: 99},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.Models[0].ID != "model_0" || run.Models[1].ID != "custom" || run.Models[2].ID != "model_2" {
		t.Fatalf("model ids = %v, %v, %v", run.Models[0].ID, run.Models[1].ID, run.Models[2].ID)
	}
	if run.Status != core.RunPending {
		t.Fatalf("status = %v", run.Status)
	}
	if run.Progress != (core.Progress{}) {
		t.Fatalf("progress = %+v", run.Progress)
	}
}

func TestCreateEvalRunValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	version := mustPromptVersion(t, svc)
	dataset := mustDataset(t, svc, 1)

	_, err := svc.CreateEvalRun(ctx, core.EvalRun{
		PromptVersionID: version.ID,
		DatasetID:       dataset.ID,
	})
	var validation core.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for empty models, got %v", err)
	}

	_, err = svc.CreateEvalRun(ctx, core.EvalRun{
		PromptVersionID: "missing",
		DatasetID:       dataset.ID,
		Models:          []core.ModelConfig{{Model: "gpt-4o"}},
	})
	var notFound core.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found for unknown version, got %v", err)
	}
}

func TestShareTokenShape(t *testing.T) {
	token, err := core.NewShareToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if len(token) != 22 {
		t.Fatalf("token length = %d, want 22", len(token))
	}
	other, _ := core.NewShareToken()
	if token == other {
		t.Fatal("tokens must be random")
	}
}

func TestCreateShareValidatesExpiry(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	version := mustPromptVersion(t, svc)
	dataset := mustDataset(t, svc, 1)
	run, err := svc.CreateEvalRun(ctx, core.EvalRun{
		PromptVersionID: version.ID,
		DatasetID:       dataset.ID,
		Models:          []core.ModelConfig{{Model: "gpt-4o"}},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	var validation core.ErrValidation
	if _, err := svc.CreateShare(ctx, run.ID, 0); !errors.As(err, &validation) {
		t.Fatalf("expected validation error for 0 days, got %v", err)
	}
	if _, err := svc.CreateShare(ctx, run.ID, 366); !errors.As(err, &validation) {
		t.Fatalf("expected validation error for 366 days, got %v", err)
	}

	share, err := svc.CreateShare(ctx, run.ID, 7)
	if err != nil {
		t.Fatalf("create share: %v", err)
	}
	if share.URL != "/reports/"+share.Token {
		t.Fatalf("share url = %q", share.URL)
	}
}

func TestResolveShareExpiry(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	version := mustPromptVersion(t, svc)
	dataset := mustDataset(t, svc, 1)
	run, err := svc.CreateEvalRun(ctx, core.EvalRun{
		PromptVersionID: version.ID,
		DatasetID:       dataset.ID,
		Models:          []core.ModelConfig{{Model: "gpt-4o"}},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	var notFound core.ErrNotFound
	if _, err := svc.ResolveShare(ctx, "nonexistent"); !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// Plant an already-expired token directly.
	expired := time.Now().UTC().Add(-time.Hour)
	if _, err := store.SetShare(ctx, run.ID, "expiredtoken", expired); err != nil {
		t.Fatalf("set share: %v", err)
	}
	var gone core.ErrGone
	if _, err := svc.ResolveShare(ctx, "expiredtoken"); !errors.As(err, &gone) {
		t.Fatalf("expected gone, got %v", err)
	}

	// A live token resolves.
	if _, err := store.SetShare(ctx, run.ID, "livetoken", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("set share: %v", err)
	}
	resolved, err := svc.ResolveShare(ctx, "livetoken")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != run.ID {
		t.Fatalf("resolved run = %s, want %s", resolved.ID, run.ID)
	}
}

func TestPromoteVersionRejectsUnknownLabel(t *testing.T) {
	svc, _ := newService(t)
	version := mustPromptVersion(t, svc)
	var validation core.ErrValidation
	if _, err := svc.PromoteVersion(context.Background(), version.ID, "canary"); !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
