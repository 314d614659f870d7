package postgres

// schemaStatements creates the relational schema on startup. Statements are
// idempotent so repeated boots against the same database are safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS prompts (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_versions (
		id                TEXT PRIMARY KEY,
		prompt_id         TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		version_number    INTEGER NOT NULL,
		type              TEXT NOT NULL,
		template_text     TEXT NOT NULL DEFAULT '',
		template_messages JSONB,
		model_defaults    JSONB,
		created_at        TIMESTAMPTZ NOT NULL,
		UNIQUE (prompt_id, version_number)
	)`,
	// One row per (prompt, label); moving a label is an upsert on this key.
	`CREATE TABLE IF NOT EXISTS prompt_labels (
		prompt_id  TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		label      TEXT NOT NULL,
		version_id TEXT NOT NULL REFERENCES prompt_versions(id) ON DELETE CASCADE,
		PRIMARY KEY (prompt_id, label)
	)`,
	`CREATE TABLE IF NOT EXISTS datasets (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dataset_items (
		id              TEXT PRIMARY KEY,
		dataset_id      TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		seq             BIGSERIAL,
		input           JSONB NOT NULL,
		expected_output JSONB,
		metadata        JSONB,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dataset_items_dataset ON dataset_items(dataset_id, seq)`,
	`CREATE TABLE IF NOT EXISTS eval_runs (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL DEFAULT '',
		prompt_version_id TEXT NOT NULL REFERENCES prompt_versions(id),
		dataset_id        TEXT NOT NULL REFERENCES datasets(id),
		models            JSONB NOT NULL,
		assertions        JSONB NOT NULL,
		status            TEXT NOT NULL,
		progress          JSONB NOT NULL,
		summary           JSONB,
		error_message     TEXT NOT NULL DEFAULT '',
		created_by        TEXT NOT NULL DEFAULT '',
		started_at        TIMESTAMPTZ,
		completed_at      TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL,
		share_token       TEXT,
		share_expires_at  TIMESTAMPTZ
	)`,
	// The dequeue query only ever scans non-terminal runs.
	`CREATE INDEX IF NOT EXISTS idx_eval_runs_queue ON eval_runs(status, created_at)
		WHERE status IN ('pending', 'running')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_eval_runs_share_token ON eval_runs(share_token)
		WHERE share_token IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS eval_results (
		id              TEXT PRIMARY KEY,
		eval_run_id     TEXT NOT NULL REFERENCES eval_runs(id) ON DELETE CASCADE,
		dataset_item_id TEXT NOT NULL,
		model_id        TEXT NOT NULL,
		model_config    JSONB NOT NULL,
		request         JSONB NOT NULL,
		output          TEXT,
		grading         JSONB NOT NULL,
		metrics         JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		UNIQUE (eval_run_id, dataset_item_id, model_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_eval_results_run ON eval_results(eval_run_id)`,
	`CREATE TABLE IF NOT EXISTS playground_runs (
		id         TEXT PRIMARY KEY,
		prompt_id  TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		version_id TEXT REFERENCES prompt_versions(id) ON DELETE CASCADE,
		config     JSONB NOT NULL,
		results    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_playground_runs_version ON playground_runs(version_id, created_at DESC)`,
}
