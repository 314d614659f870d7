package sqlite

// schemaStatements creates the schema on startup; all statements are
// idempotent. Column types use TIMESTAMP so the driver round-trips time.Time.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS prompts (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_versions (
		id                TEXT PRIMARY KEY,
		prompt_id         TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		version_number    INTEGER NOT NULL,
		type              TEXT NOT NULL,
		template_text     TEXT NOT NULL DEFAULT '',
		template_messages BLOB,
		model_defaults    BLOB,
		created_at        TIMESTAMP NOT NULL,
		UNIQUE (prompt_id, version_number)
	)`,
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
		created_at  TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dataset_items (
		id              TEXT PRIMARY KEY,
		dataset_id      TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		input           BLOB NOT NULL,
		expected_output BLOB,
		metadata        BLOB,
		created_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dataset_items_dataset ON dataset_items(dataset_id)`,
	`CREATE TABLE IF NOT EXISTS eval_runs (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL DEFAULT '',
		prompt_version_id TEXT NOT NULL REFERENCES prompt_versions(id),
		dataset_id        TEXT NOT NULL REFERENCES datasets(id),
		models            BLOB NOT NULL,
		assertions        BLOB NOT NULL,
		status            TEXT NOT NULL,
		progress          BLOB NOT NULL,
		summary           BLOB,
		error_message     TEXT NOT NULL DEFAULT '',
		created_by        TEXT NOT NULL DEFAULT '',
		started_at        TIMESTAMP,
		completed_at      TIMESTAMP,
		created_at        TIMESTAMP NOT NULL,
		share_token       TEXT,
		share_expires_at  TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_eval_runs_queue ON eval_runs(status, created_at)
		WHERE status IN ('pending', 'running')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_eval_runs_share_token ON eval_runs(share_token)
		WHERE share_token IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS eval_results (
		id              TEXT PRIMARY KEY,
		eval_run_id     TEXT NOT NULL REFERENCES eval_runs(id) ON DELETE CASCADE,
		dataset_item_id TEXT NOT NULL,
		model_id        TEXT NOT NULL,
		model_config    BLOB NOT NULL,
		request         BLOB NOT NULL,
		output          TEXT,
		grading         BLOB NOT NULL,
		metrics         BLOB NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		UNIQUE (eval_run_id, dataset_item_id, model_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_eval_results_run ON eval_results(eval_run_id)`,
	`CREATE TABLE IF NOT EXISTS playground_runs (
		id         TEXT PRIMARY KEY,
		prompt_id  TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
		version_id TEXT REFERENCES prompt_versions(id) ON DELETE CASCADE,
		config     BLOB NOT NULL,
		results    BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_playground_runs_version ON playground_runs(version_id, created_at DESC)`,
}
