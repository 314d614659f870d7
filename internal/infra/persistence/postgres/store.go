// Package postgres implements Storage on PostgreSQL via database/sql and the
// pgx stdlib driver. Run dequeue relies on FOR UPDATE SKIP LOCKED so multiple
// workers can poll the same queue without double-claiming.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"evalcore/internal/core"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db *sql.DB
}

var _ core.Storage = (*Store)(nil)

// New opens a pool against dsn, verifies connectivity and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func now() time.Time { return time.Now().UTC() }

// --- prompts ---

func (s *Store) CreatePrompt(ctx context.Context, prompt core.Prompt) (core.Prompt, error) {
	if prompt.ID == "" {
		prompt.ID = uuid.NewString()
	}
	prompt.CreatedAt = now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
		prompt.ID, prompt.Name, prompt.Description, prompt.CreatedAt)
	if err != nil {
		return core.Prompt{}, fmt.Errorf("insert prompt: %w", err)
	}
	return prompt, nil
}

func (s *Store) GetPrompt(ctx context.Context, id string) (core.Prompt, error) {
	var p core.Prompt
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM prompts WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Prompt{}, core.ErrNotFound{Entity: core.EntityPrompt, ID: id}
	}
	if err != nil {
		return core.Prompt{}, fmt.Errorf("select prompt: %w", err)
	}
	return p, nil
}

func (s *Store) ListPrompts(ctx context.Context, page core.PageRequest) ([]core.Prompt, int, error) {
	page = page.Normalize()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prompts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prompts: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM prompts
		 ORDER BY created_at LIMIT $1 OFFSET $2`, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("select prompts: %w", err)
	}
	defer rows.Close()
	out := []core.Prompt{}
	for rows.Next() {
		var p core.Prompt
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (s *Store) DeletePrompt(ctx context.Context, id string) error {
	var referenced bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM eval_runs r
			JOIN prompt_versions v ON v.id = r.prompt_version_id
			WHERE v.prompt_id = $1)`, id).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("check prompt references: %w", err)
	}
	if referenced {
		return core.ErrConflict{Reason: "prompt has versions referenced by eval runs"}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound{Entity: core.EntityPrompt, ID: id}
	}
	return nil
}

// --- versions ---

func (s *Store) CreateVersion(ctx context.Context, version core.PromptVersion) (core.PromptVersion, error) {
	if _, err := s.GetPrompt(ctx, version.PromptID); err != nil {
		return core.PromptVersion{}, err
	}
	version.ID = uuid.NewString()
	version.CreatedAt = now()
	version.Labels = nil
	messages, err := marshalOrNull(version.TemplateMessages)
	if err != nil {
		return core.PromptVersion{}, err
	}
	defaults, err := marshalOrNull(version.ModelDefaults)
	if err != nil {
		return core.PromptVersion{}, err
	}
	// The subselect and the (prompt_id, version_number) unique constraint
	// together make numbering atomic; a lost race surfaces as a constraint
	// error rather than a duplicate number.
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO prompt_versions
			(id, prompt_id, version_number, type, template_text, template_messages, model_defaults, created_at)
		 VALUES ($1, $2,
			(SELECT COALESCE(MAX(version_number), 0) + 1 FROM prompt_versions WHERE prompt_id = $2),
			$3, $4, $5, $6, $7)
		 RETURNING version_number`,
		version.ID, version.PromptID, version.Type, version.TemplateText,
		messages, defaults, version.CreatedAt).Scan(&version.VersionNumber)
	if err != nil {
		return core.PromptVersion{}, fmt.Errorf("insert prompt version: %w", err)
	}
	return version, nil
}

const versionColumns = `id, prompt_id, version_number, type, template_text, template_messages, model_defaults, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (core.PromptVersion, error) {
	var (
		v                  core.PromptVersion
		messages, defaults []byte
	)
	err := row.Scan(&v.ID, &v.PromptID, &v.VersionNumber, &v.Type, &v.TemplateText,
		&messages, &defaults, &v.CreatedAt)
	if err != nil {
		return core.PromptVersion{}, err
	}
	if messages != nil {
		if err := json.Unmarshal(messages, &v.TemplateMessages); err != nil {
			return core.PromptVersion{}, fmt.Errorf("decode template messages: %w", err)
		}
	}
	if defaults != nil {
		v.ModelDefaults = &core.ModelConfig{}
		if err := json.Unmarshal(defaults, v.ModelDefaults); err != nil {
			return core.PromptVersion{}, fmt.Errorf("decode model defaults: %w", err)
		}
	}
	return v, nil
}

func (s *Store) versionLabels(ctx context.Context, versionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label FROM prompt_labels WHERE version_id = $1 ORDER BY label`, versionID)
	if err != nil {
		return nil, fmt.Errorf("select labels: %w", err)
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (s *Store) GetVersion(ctx context.Context, id string) (core.PromptVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PromptVersion{}, core.ErrNotFound{Entity: core.EntityPromptVersion, ID: id}
	}
	if err != nil {
		return core.PromptVersion{}, fmt.Errorf("select prompt version: %w", err)
	}
	if v.Labels, err = s.versionLabels(ctx, id); err != nil {
		return core.PromptVersion{}, err
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, promptID string) ([]core.PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions
		 WHERE prompt_id = $1 ORDER BY version_number`, promptID)
	if err != nil {
		return nil, fmt.Errorf("select prompt versions: %w", err)
	}
	defer rows.Close()
	var out []core.PromptVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Labels, err = s.versionLabels(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) GetVersionByLabel(ctx context.Context, promptID, label string) (core.PromptVersion, error) {
	var versionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT version_id FROM prompt_labels WHERE prompt_id = $1 AND label = $2`,
		promptID, label).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PromptVersion{}, core.ErrNotFound{Entity: core.EntityPromptVersion, ID: label}
	}
	if err != nil {
		return core.PromptVersion{}, fmt.Errorf("select label: %w", err)
	}
	return s.GetVersion(ctx, versionID)
}

func (s *Store) SetLabel(ctx context.Context, versionID, label string) (core.PromptVersion, error) {
	version, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return core.PromptVersion{}, err
	}
	// Upsert on (prompt_id, label) moves the label in one statement.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prompt_labels (prompt_id, label, version_id) VALUES ($1, $2, $3)
		 ON CONFLICT (prompt_id, label) DO UPDATE SET version_id = EXCLUDED.version_id`,
		version.PromptID, label, versionID)
	if err != nil {
		return core.PromptVersion{}, fmt.Errorf("set label: %w", err)
	}
	return s.GetVersion(ctx, versionID)
}

func (s *Store) ClearLabel(ctx context.Context, versionID, label string) (core.PromptVersion, error) {
	if _, err := s.GetVersion(ctx, versionID); err != nil {
		return core.PromptVersion{}, err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM prompt_labels WHERE version_id = $1 AND label = $2`, versionID, label)
	if err != nil {
		return core.PromptVersion{}, fmt.Errorf("clear label: %w", err)
	}
	return s.GetVersion(ctx, versionID)
}

// --- datasets ---

func (s *Store) CreateDataset(ctx context.Context, dataset core.Dataset) (core.Dataset, error) {
	if dataset.ID == "" {
		dataset.ID = uuid.NewString()
	}
	dataset.CreatedAt = now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
		dataset.ID, dataset.Name, dataset.Description, dataset.CreatedAt)
	if err != nil {
		return core.Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}
	return dataset, nil
}

func (s *Store) GetDataset(ctx context.Context, id string) (core.Dataset, error) {
	var d core.Dataset
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM datasets WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Dataset{}, core.ErrNotFound{Entity: core.EntityDataset, ID: id}
	}
	if err != nil {
		return core.Dataset{}, fmt.Errorf("select dataset: %w", err)
	}
	return d, nil
}

func (s *Store) ListDatasets(ctx context.Context, page core.PageRequest) ([]core.Dataset, int, error) {
	page = page.Normalize()
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count datasets: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM datasets
		 ORDER BY created_at LIMIT $1 OFFSET $2`, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("select datasets: %w", err)
	}
	defer rows.Close()
	out := []core.Dataset{}
	for rows.Next() {
		var d core.Dataset
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	var referenced bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM eval_runs WHERE dataset_id = $1)`, id).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("check dataset references: %w", err)
	}
	if referenced {
		return core.ErrConflict{Reason: "dataset referenced by eval runs"}
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound{Entity: core.EntityDataset, ID: id}
	}
	return nil
}

func (s *Store) CreateItems(ctx context.Context, datasetID string, items []core.DatasetItem) ([]core.DatasetItem, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]core.DatasetItem, 0, len(items))
	createdAt := now()
	for _, item := range items {
		item.ID = uuid.NewString()
		item.DatasetID = datasetID
		item.CreatedAt = createdAt
		input, err := json.Marshal(item.Input)
		if err != nil {
			return nil, fmt.Errorf("encode item input: %w", err)
		}
		expected, err := marshalOrNull(item.ExpectedOutput)
		if err != nil {
			return nil, err
		}
		metadata, err := marshalOrNull(item.Metadata)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO dataset_items (id, dataset_id, input, expected_output, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, datasetID, input, expected, metadata, createdAt)
		if err != nil {
			return nil, fmt.Errorf("insert dataset item: %w", err)
		}
		out = append(out, item)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit items: %w", err)
	}
	return out, nil
}

const itemColumns = `id, dataset_id, input, expected_output, metadata, created_at`

func scanItem(row rowScanner) (core.DatasetItem, error) {
	var (
		item                      core.DatasetItem
		input, expected, metadata []byte
	)
	err := row.Scan(&item.ID, &item.DatasetID, &input, &expected, &metadata, &item.CreatedAt)
	if err != nil {
		return core.DatasetItem{}, err
	}
	if err := json.Unmarshal(input, &item.Input); err != nil {
		return core.DatasetItem{}, fmt.Errorf("decode item input: %w", err)
	}
	if expected != nil {
		if err := json.Unmarshal(expected, &item.ExpectedOutput); err != nil {
			return core.DatasetItem{}, fmt.Errorf("decode expected output: %w", err)
		}
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return core.DatasetItem{}, fmt.Errorf("decode item metadata: %w", err)
		}
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, datasetID string) ([]core.DatasetItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM dataset_items WHERE dataset_id = $1 ORDER BY seq`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("select dataset items: %w", err)
	}
	defer rows.Close()
	var out []core.DatasetItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) ListItemsPage(ctx context.Context, datasetID string, page core.PageRequest) ([]core.DatasetItem, int, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, 0, err
	}
	page = page.Normalize()
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dataset_items WHERE dataset_id = $1`, datasetID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count dataset items: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM dataset_items WHERE dataset_id = $1
		 ORDER BY seq LIMIT $2 OFFSET $3`, datasetID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("select dataset items: %w", err)
	}
	defer rows.Close()
	out := []core.DatasetItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dataset_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dataset item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound{Entity: core.EntityDatasetItem, ID: id}
	}
	return nil
}

// --- eval runs ---

const runColumns = `id, name, prompt_version_id, dataset_id, models, assertions, status,
	progress, summary, error_message, created_by, started_at, completed_at, created_at,
	share_token, share_expires_at`

func scanRun(row rowScanner) (core.EvalRun, error) {
	var (
		run                          core.EvalRun
		models, assertions, progress []byte
		summary                      []byte
		shareToken                   sql.NullString
		startedAt, completedAt       sql.NullTime
		shareExpiresAt               sql.NullTime
	)
	err := row.Scan(&run.ID, &run.Name, &run.PromptVersionID, &run.DatasetID,
		&models, &assertions, &run.Status, &progress, &summary, &run.ErrorMessage,
		&run.CreatedBy, &startedAt, &completedAt, &run.CreatedAt,
		&shareToken, &shareExpiresAt)
	if err != nil {
		return core.EvalRun{}, err
	}
	if err := json.Unmarshal(models, &run.Models); err != nil {
		return core.EvalRun{}, fmt.Errorf("decode run models: %w", err)
	}
	if err := json.Unmarshal(assertions, &run.Assertions); err != nil {
		return core.EvalRun{}, fmt.Errorf("decode run assertions: %w", err)
	}
	if err := json.Unmarshal(progress, &run.Progress); err != nil {
		return core.EvalRun{}, fmt.Errorf("decode run progress: %w", err)
	}
	if summary != nil {
		run.Summary = &core.Summary{}
		if err := json.Unmarshal(summary, run.Summary); err != nil {
			return core.EvalRun{}, fmt.Errorf("decode run summary: %w", err)
		}
	}
	if shareToken.Valid {
		run.ShareToken = shareToken.String
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		run.CompletedAt = &t
	}
	if shareExpiresAt.Valid {
		t := shareExpiresAt.Time.UTC()
		run.ShareExpiresAt = &t
	}
	return run, nil
}

func (s *Store) CreateRun(ctx context.Context, run core.EvalRun) (core.EvalRun, error) {
	run.ID = uuid.NewString()
	run.CreatedAt = now()
	models, err := json.Marshal(run.Models)
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("encode run models: %w", err)
	}
	assertions, err := json.Marshal(run.Assertions)
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("encode run assertions: %w", err)
	}
	progress, err := json.Marshal(run.Progress)
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("encode run progress: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO eval_runs
			(id, name, prompt_version_id, dataset_id, models, assertions, status,
			 progress, error_message, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Name, run.PromptVersionID, run.DatasetID, models, assertions,
		run.Status, progress, run.ErrorMessage, run.CreatedBy, run.CreatedAt)
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("insert eval run: %w", err)
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (core.EvalRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM eval_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityEvalRun, ID: id}
	}
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("select eval run: %w", err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, filter core.RunFilter, page core.PageRequest) ([]core.EvalRun, int, error) {
	page = page.Normalize()
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.PromptVersionID != "" {
		args = append(args, filter.PromptVersionID)
		where += fmt.Sprintf(" AND prompt_version_id = $%d", len(args))
	}
	if filter.DatasetID != "" {
		args = append(args, filter.DatasetID)
		where += fmt.Sprintf(" AND dataset_id = $%d", len(args))
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM eval_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count eval runs: %w", err)
	}
	args = append(args, page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM eval_runs`+where+
			fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select eval runs: %w", err)
	}
	defer rows.Close()
	out := []core.EvalRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}

func (s *Store) DequeueRun(ctx context.Context, staleBefore *time.Time) (core.EvalRun, bool, error) {
	claim := `status = 'pending'`
	args := []any{}
	if staleBefore != nil {
		args = append(args, staleBefore.UTC())
		claim = `(status = 'pending' OR (status = 'running' AND started_at < $1))`
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE eval_runs SET status = 'running', started_at = NOW()
		 WHERE id = (
			SELECT id FROM eval_runs
			WHERE `+claim+`
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1)
		 RETURNING `+runColumns, args...)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.EvalRun{}, false, nil
	}
	if err != nil {
		return core.EvalRun{}, false, fmt.Errorf("dequeue eval run: %w", err)
	}
	return run, true, nil
}

func (s *Store) UpdateRunProgress(ctx context.Context, id string, progress core.Progress) error {
	payload, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE eval_runs SET progress = $2 WHERE id = $1`, id, payload)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound{Entity: core.EntityEvalRun, ID: id}
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id string, status core.RunStatus, errorMessage string, progress core.Progress, summary *core.Summary) (core.EvalRun, error) {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("encode progress: %w", err)
	}
	summaryJSON, err := marshalOrNull(summary)
	if err != nil {
		return core.EvalRun{}, err
	}
	// The status guard makes a terminal row immune: a cancel that landed
	// first stays canceled and the completion write degrades to a read.
	row := s.db.QueryRowContext(ctx,
		`UPDATE eval_runs
		 SET status = $2, error_message = $3, progress = $4, summary = $5, completed_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'running')
		 RETURNING `+runColumns,
		id, status, errorMessage, progressJSON, summaryJSON)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetRun(ctx, id)
	}
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("finish eval run: %w", err)
	}
	return run, nil
}

func (s *Store) CancelRun(ctx context.Context, id string) (core.EvalRun, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE eval_runs SET status = 'canceled', completed_at = NOW()
		 WHERE id = $1 AND status IN ('pending', 'running')
		 RETURNING `+runColumns, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetRun(ctx, id); getErr != nil {
			return core.EvalRun{}, getErr
		}
		return core.EvalRun{}, core.ErrConflict{Reason: "can only cancel pending or running runs"}
	}
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("cancel eval run: %w", err)
	}
	return run, nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM eval_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete eval run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound{Entity: core.EntityEvalRun, ID: id}
	}
	return nil
}

// --- results ---

func (s *Store) InsertResults(ctx context.Context, results []core.EvalResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createdAt := now()
	for _, result := range results {
		if result.ID == "" {
			result.ID = uuid.NewString()
		}
		modelConfig, err := json.Marshal(result.ModelConfig)
		if err != nil {
			return fmt.Errorf("encode model config: %w", err)
		}
		request, err := json.Marshal(result.Request)
		if err != nil {
			return fmt.Errorf("encode request payload: %w", err)
		}
		grading, err := json.Marshal(result.Grading)
		if err != nil {
			return fmt.Errorf("encode grading: %w", err)
		}
		metrics, err := json.Marshal(result.Metrics)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
		var output sql.NullString
		if result.Output != nil {
			output = sql.NullString{String: *result.Output, Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO eval_results
				(id, eval_run_id, dataset_item_id, model_id, model_config, request,
				 output, grading, metrics, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			result.ID, result.EvalRunID, result.DatasetItemID, result.ModelID,
			modelConfig, request, output, grading, metrics, createdAt)
		if err != nil {
			return fmt.Errorf("insert eval result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit results: %w", err)
	}
	return nil
}

func (s *Store) ListResults(ctx context.Context, runID string, filter core.ResultFilter, page core.PageRequest) ([]core.EvalResult, int, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, 0, err
	}
	page = page.Normalize()
	where := ` WHERE eval_run_id = $1`
	args := []any{runID}
	if filter.ModelID != "" {
		args = append(args, filter.ModelID)
		where += fmt.Sprintf(" AND model_id = $%d", len(args))
	}
	if filter.Passed != nil {
		args = append(args, *filter.Passed)
		where += fmt.Sprintf(" AND (grading->>'pass')::boolean = $%d", len(args))
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM eval_results`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count eval results: %w", err)
	}
	args = append(args, page.Limit, page.Offset())
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, eval_run_id, dataset_item_id, model_id, model_config, request,
			output, grading, metrics, created_at
		 FROM eval_results`+where+
			fmt.Sprintf(" ORDER BY dataset_item_id, model_id LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select eval results: %w", err)
	}
	defer rows.Close()
	out := []core.EvalResult{}
	for rows.Next() {
		var (
			result               core.EvalResult
			modelConfig, request []byte
			grading, metrics     []byte
			output               sql.NullString
		)
		err := rows.Scan(&result.ID, &result.EvalRunID, &result.DatasetItemID, &result.ModelID,
			&modelConfig, &request, &output, &grading, &metrics, &result.CreatedAt)
		if err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(modelConfig, &result.ModelConfig); err != nil {
			return nil, 0, fmt.Errorf("decode model config: %w", err)
		}
		if err := json.Unmarshal(request, &result.Request); err != nil {
			return nil, 0, fmt.Errorf("decode request payload: %w", err)
		}
		if err := json.Unmarshal(grading, &result.Grading); err != nil {
			return nil, 0, fmt.Errorf("decode grading: %w", err)
		}
		if err := json.Unmarshal(metrics, &result.Metrics); err != nil {
			return nil, 0, fmt.Errorf("decode metrics: %w", err)
		}
		if output.Valid {
			v := output.String
			result.Output = &v
		}
		out = append(out, result)
	}
	return out, total, rows.Err()
}

// --- shares ---

func (s *Store) SetShare(ctx context.Context, runID, token string, expiresAt time.Time) (core.EvalRun, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE eval_runs SET share_token = $2, share_expires_at = $3 WHERE id = $1`,
		runID, token, expiresAt.UTC())
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("set share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityEvalRun, ID: runID}
	}
	return s.GetRun(ctx, runID)
}

func (s *Store) ClearShare(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE eval_runs SET share_token = NULL, share_expires_at = NULL WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("clear share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound{Entity: core.EntityEvalRun, ID: runID}
	}
	return nil
}

func (s *Store) GetRunByShareToken(ctx context.Context, token string) (core.EvalRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM eval_runs WHERE share_token = $1`, token)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityShare}
	}
	if err != nil {
		return core.EvalRun{}, fmt.Errorf("select run by share token: %w", err)
	}
	return run, nil
}

// --- playground runs ---

func (s *Store) SavePlaygroundRun(ctx context.Context, run core.PlaygroundRun) (core.PlaygroundRun, error) {
	run.ID = uuid.NewString()
	run.CreatedAt = now()
	config, err := json.Marshal(run.Config)
	if err != nil {
		return core.PlaygroundRun{}, fmt.Errorf("encode playground config: %w", err)
	}
	results, err := json.Marshal(run.Results)
	if err != nil {
		return core.PlaygroundRun{}, fmt.Errorf("encode playground results: %w", err)
	}
	var versionID sql.NullString
	if run.VersionID != nil {
		versionID = sql.NullString{String: *run.VersionID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO playground_runs (id, prompt_id, version_id, config, results, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.PromptID, versionID, config, results, run.CreatedAt)
	if err != nil {
		return core.PlaygroundRun{}, fmt.Errorf("insert playground run: %w", err)
	}
	return run, nil
}

func (s *Store) ListPlaygroundRunsByVersion(ctx context.Context, versionID string, limit int) ([]core.PlaygroundRun, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, prompt_id, version_id, config, results, created_at
		 FROM playground_runs WHERE version_id = $1
		 ORDER BY created_at DESC LIMIT $2`, versionID, limit)
	if err != nil {
		return nil, fmt.Errorf("select playground runs: %w", err)
	}
	defer rows.Close()
	out := []core.PlaygroundRun{}
	for rows.Next() {
		var (
			run             core.PlaygroundRun
			vid             sql.NullString
			config, results []byte
		)
		if err := rows.Scan(&run.ID, &run.PromptID, &vid, &config, &results, &run.CreatedAt); err != nil {
			return nil, err
		}
		if vid.Valid {
			v := vid.String
			run.VersionID = &v
		}
		if err := json.Unmarshal(config, &run.Config); err != nil {
			return nil, fmt.Errorf("decode playground config: %w", err)
		}
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return nil, fmt.Errorf("decode playground results: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// marshalOrNull encodes v, returning nil (SQL NULL) for nil pointers, nil
// maps, nil slices and nil interfaces.
func marshalOrNull(v any) ([]byte, error) {
	if isNil(v) {
		return nil, nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return payload, nil
}

func isNil(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *core.ModelConfig:
		return t == nil
	case *core.Summary:
		return t == nil
	case []core.Message:
		return t == nil
	case map[string]any:
		return t == nil
	}
	return false
}
