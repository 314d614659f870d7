package core

import "time"

// TemplateType distinguishes plain-text prompts from chat-message prompts.
type TemplateType string

const (
	TemplateText TemplateType = "text"
	TemplateChat TemplateType = "chat"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a chat template or a compiled request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Reserved labels. At most one version per prompt may carry each of these.
const (
	LabelProduction = "production"
	LabelBeta       = "beta"
	LabelAlpha      = "alpha"
)

// ReservedLabels lists the labels whose per-prompt uniqueness the storage
// layer enforces.
var ReservedLabels = []string{LabelProduction, LabelBeta, LabelAlpha}

// Prompt is the parent of a version history. The surrounding project and
// use-case hierarchy lives outside this module; prompts are kept here because
// versions and playground runs reference them.
type Prompt struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PromptVersion is an immutable snapshot of a prompt template. VersionNumber
// is strictly monotonic per prompt, starting at 1.
type PromptVersion struct {
	ID               string       `json:"id"`
	PromptID         string       `json:"prompt_id"`
	VersionNumber    int          `json:"version_number"`
	Type             TemplateType `json:"type"`
	TemplateText     string       `json:"template_text,omitempty"`
	TemplateMessages []Message    `json:"template_messages,omitempty"`
	ModelDefaults    *ModelConfig `json:"model_defaults,omitempty"`
	Labels           []string     `json:"labels,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// HasLabel reports whether the version carries the given label.
func (v PromptVersion) HasLabel(label string) bool {
	for _, l := range v.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Dataset groups labelled input/expected-output items.
type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DatasetItem is one evaluation case. Input maps template variable names to
// JSON values; ExpectedOutput is arbitrary JSON consulted by assertions.
type DatasetItem struct {
	ID             string         `json:"id"`
	DatasetID      string         `json:"dataset_id"`
	Input          map[string]any `json:"input"`
	ExpectedOutput any            `json:"expected_output,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ModelConfig describes one model column of an eval run or a playground call.
// Temperature, MaxTokens and TopP are pointers so an omitted knob can fall
// back to version defaults or global defaults at invocation time.
type ModelConfig struct {
	ID              string   `json:"id,omitempty"`
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxTokens       *int     `json:"max_tokens,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
}

// Assertion is one declarative check applied to every model output of a run.
type Assertion struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// AssertionResult is the verdict of a single assertion.
type AssertionResult struct {
	Type   string  `json:"type"`
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Grading aggregates all assertion verdicts for one output.
type Grading struct {
	Pass       bool              `json:"pass"`
	Score      float64           `json:"score"`
	Reason     string            `json:"reason"`
	Assertions []AssertionResult `json:"assertions"`
}

// TokenUsage mirrors the provider-reported token counts.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Metrics captures the cost side of one model call, including retries.
type Metrics struct {
	LatencyMS float64    `json:"latency_ms"`
	Tokens    TokenUsage `json:"tokens"`
	CostUSD   *float64   `json:"cost_usd"`
	Retries   int        `json:"retries"`
	Error     string     `json:"error,omitempty"`
}

// RequestPayload records what was sent to the model for one task.
type RequestPayload struct {
	CompiledPrompt   *string        `json:"compiled_prompt,omitempty"`
	CompiledMessages []Message      `json:"compiled_messages,omitempty"`
	Variables        map[string]any `json:"variables"`
	Missing          []string       `json:"missing,omitempty"`
}

// RunStatus is the lifecycle state of an eval run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCanceled
}

// Progress tracks fan-out completion for an in-flight run.
// Invariant: Completed+Failed <= Total and Percent in [0,100].
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Percent   int `json:"percent"`
}

// Summary aggregates the persisted results of a drained run.
type Summary struct {
	Total          int     `json:"total"`
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	PassRate       float64 `json:"pass_rate"`
	AvgScore       float64 `json:"avg_score"`
	TotalLatencyMS float64 `json:"total_latency_ms"`
	AvgLatencyMS   float64 `json:"avg_latency_ms"`
	TotalCostUSD   float64 `json:"total_cost_usd"`
}

// EvalRun is the root of one evaluation: prompt version x dataset x models x
// assertions, plus the observable lifecycle state.
type EvalRun struct {
	ID              string        `json:"id"`
	Name            string        `json:"name,omitempty"`
	PromptVersionID string        `json:"prompt_version_id"`
	DatasetID       string        `json:"dataset_id"`
	Models          []ModelConfig `json:"models"`
	Assertions      []Assertion   `json:"assertions"`
	Status          RunStatus     `json:"status"`
	Progress        Progress      `json:"progress"`
	Summary         *Summary      `json:"summary,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	CreatedBy       string        `json:"created_by,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ShareToken      string        `json:"share_token,omitempty"`
	ShareExpiresAt  *time.Time    `json:"share_expires_at,omitempty"`
}

// EvalResult is the outcome of one (run, item, model) task. ModelConfig is a
// write-once copy of the run's model entry at execution time, so historical
// results keep the originally-chosen knobs even if the run row is rewritten.
type EvalResult struct {
	ID            string         `json:"id"`
	EvalRunID     string         `json:"eval_run_id"`
	DatasetItemID string         `json:"dataset_item_id"`
	ModelID       string         `json:"model_id"`
	ModelConfig   ModelConfig    `json:"model_config"`
	Request       RequestPayload `json:"request"`
	Output        *string        `json:"output"`
	Grading       Grading        `json:"grading"`
	Metrics       Metrics        `json:"metrics"`
	CreatedAt     time.Time      `json:"created_at"`
}

// PlaygroundRun is a saved snapshot of a synchronous playground invocation.
type PlaygroundRun struct {
	ID        string           `json:"id"`
	PromptID  string           `json:"prompt_id"`
	VersionID *string          `json:"version_id,omitempty"`
	Config    map[string]any   `json:"config"`
	Results   []map[string]any `json:"results"`
	CreatedAt time.Time        `json:"created_at"`
}
