package core

import (
	"context"
	"time"
)

// PageRequest carries API pagination parameters.
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize clamps the request into the supported window: page >= 1,
// limit in [1, 200], default 50.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	return p
}

// Offset returns the zero-based offset of the first row on the page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

// RunFilter narrows run listings.
type RunFilter struct {
	Status          RunStatus
	PromptVersionID string
	DatasetID       string
}

// ResultFilter narrows result listings within one run.
type ResultFilter struct {
	ModelID string
	Passed  *bool
}

// Storage is the persistence contract shared by the API surface, the
// playground, and the evaluation worker. Implementations live under
// internal/infra/persistence.
type Storage interface {
	// Prompts and versions.
	CreatePrompt(ctx context.Context, prompt Prompt) (Prompt, error)
	GetPrompt(ctx context.Context, id string) (Prompt, error)
	ListPrompts(ctx context.Context, page PageRequest) ([]Prompt, int, error)
	// DeletePrompt fails with ErrConflict while any of the prompt's versions
	// is referenced by an eval run.
	DeletePrompt(ctx context.Context, id string) error

	// CreateVersion assigns the next strictly monotonic version number for
	// the prompt (starting at 1) atomically with the insert.
	CreateVersion(ctx context.Context, version PromptVersion) (PromptVersion, error)
	GetVersion(ctx context.Context, id string) (PromptVersion, error)
	ListVersions(ctx context.Context, promptID string) ([]PromptVersion, error)
	GetVersionByLabel(ctx context.Context, promptID, label string) (PromptVersion, error)
	// SetLabel attaches a reserved label, atomically removing it from any
	// other version of the same prompt.
	SetLabel(ctx context.Context, versionID, label string) (PromptVersion, error)
	ClearLabel(ctx context.Context, versionID, label string) (PromptVersion, error)

	// Datasets and items.
	CreateDataset(ctx context.Context, dataset Dataset) (Dataset, error)
	GetDataset(ctx context.Context, id string) (Dataset, error)
	ListDatasets(ctx context.Context, page PageRequest) ([]Dataset, int, error)
	DeleteDataset(ctx context.Context, id string) error
	CreateItems(ctx context.Context, datasetID string, items []DatasetItem) ([]DatasetItem, error)
	// ListItems returns every item of a dataset in creation order; the
	// fan-out executor materialises tasks from it.
	ListItems(ctx context.Context, datasetID string) ([]DatasetItem, error)
	ListItemsPage(ctx context.Context, datasetID string, page PageRequest) ([]DatasetItem, int, error)
	DeleteItem(ctx context.Context, id string) error

	// Eval runs.
	CreateRun(ctx context.Context, run EvalRun) (EvalRun, error)
	GetRun(ctx context.Context, id string) (EvalRun, error)
	ListRuns(ctx context.Context, filter RunFilter, page PageRequest) ([]EvalRun, int, error)
	// DequeueRun claims the oldest pending run, transitioning it to running
	// with started_at set. Runs stuck in running since before staleBefore are
	// also claimable (crash recovery); a nil staleBefore disables that. The
	// claim must be safe against concurrent workers (row lock or CAS).
	DequeueRun(ctx context.Context, staleBefore *time.Time) (EvalRun, bool, error)
	// UpdateRunProgress overwrites the progress payload of a running run.
	UpdateRunProgress(ctx context.Context, id string, progress Progress) error
	// FinishRun moves a run to a terminal status and stamps completed_at.
	// If the run is already terminal (e.g. canceled mid-flight) the stored
	// status wins and the call is a no-op returning the stored row.
	FinishRun(ctx context.Context, id string, status RunStatus, errorMessage string, progress Progress, summary *Summary) (EvalRun, error)
	// CancelRun transitions pending|running to canceled; other states yield
	// ErrConflict.
	CancelRun(ctx context.Context, id string) (EvalRun, error)
	// DeleteRun removes the run and cascades to its results.
	DeleteRun(ctx context.Context, id string) error

	// Results. InsertResults enforces (run, item, model_id) uniqueness.
	InsertResults(ctx context.Context, results []EvalResult) error
	ListResults(ctx context.Context, runID string, filter ResultFilter, page PageRequest) ([]EvalResult, int, error)

	// Share tokens.
	SetShare(ctx context.Context, runID, token string, expiresAt time.Time) (EvalRun, error)
	ClearShare(ctx context.Context, runID string) error
	GetRunByShareToken(ctx context.Context, token string) (EvalRun, error)

	// Playground runs.
	SavePlaygroundRun(ctx context.Context, run PlaygroundRun) (PlaygroundRun, error)
	ListPlaygroundRunsByVersion(ctx context.Context, versionID string, limit int) ([]PlaygroundRun, error)

	Close() error
}
