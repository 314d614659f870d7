package reportarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"evalcore/internal/config"
	"evalcore/internal/core"
)

// Archiver renders and persists report snapshots for eval runs.
type Archiver struct {
	store  core.Storage
	object ObjectStore
	logger *slog.Logger
}

// NewArchiver builds an archiver writing to object.
func NewArchiver(store core.Storage, object ObjectStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, object: object, logger: logger}
}

// OpenObjectStore selects the archive backend from configuration. An empty
// driver disables archiving and yields nil.
func OpenObjectStore(ctx context.Context, settings config.Settings) (ObjectStore, error) {
	switch settings.ArchiveDriver {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "fs":
		return NewFSStore(settings.ArchiveFSRoot)
	case "s3":
		return NewS3StoreFromEnv(ctx,
			settings.ArchiveS3Bucket, settings.ArchiveS3Region,
			settings.ArchiveS3Endpoint, settings.ArchiveS3PathStyle)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", settings.ArchiveDriver)
	}
}

// Key returns the object key for a run's report.
func Key(runID string) string { return "reports/" + runID + ".json" }

// Archive renders the run's report and writes it to the object store.
func (a *Archiver) Archive(ctx context.Context, runID string) error {
	report, err := Build(ctx, a.store, runID)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := a.object.Put(ctx, Key(runID), payload); err != nil {
		return fmt.Errorf("archive report: %w", err)
	}
	a.logger.Info("archived report", "run_id", runID, "bytes", len(payload))
	return nil
}

// Build assembles the report document for a run from storage.
func Build(ctx context.Context, store core.Storage, runID string) (Report, error) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	version, err := store.GetVersion(ctx, run.PromptVersionID)
	if err != nil {
		return Report{}, err
	}
	dataset, err := store.GetDataset(ctx, run.DatasetID)
	if err != nil {
		return Report{}, err
	}
	var results []core.EvalResult
	page := core.PageRequest{Page: 1, Limit: 200}
	for {
		batch, total, err := store.ListResults(ctx, runID, core.ResultFilter{}, page)
		if err != nil {
			return Report{}, err
		}
		results = append(results, batch...)
		if len(results) >= total || len(batch) == 0 {
			break
		}
		page.Page++
	}
	return Render(run, version, dataset, results), nil
}

// Fetch returns a previously archived report document.
func (a *Archiver) Fetch(ctx context.Context, runID string) ([]byte, error) {
	return a.object.Get(ctx, Key(runID))
}
