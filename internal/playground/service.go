// Package playground implements the synchronous prompt-iteration surface:
// template preview, single-shot model calls, and parallel comparisons across
// models or prompt versions. Nothing here touches the run queue; playground
// calls execute inline in the request.
package playground

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"evalcore/internal/core"
	"evalcore/internal/llm"
)

// Service wires template compilation to the model invoker.
type Service struct {
	store   core.Storage
	invoker llm.Invoker
}

// NewService constructs a playground service.
func NewService(store core.Storage, invoker llm.Invoker) *Service {
	return &Service{store: store, invoker: invoker}
}

// CompileRequest is a template preview call.
type CompileRequest struct {
	Type      core.TemplateType `json:"type"`
	Template  string            `json:"template,omitempty"`
	Messages  []core.Message    `json:"messages,omitempty"`
	Variables map[string]any    `json:"variables"`
}

// Compile validates and substitutes without calling any model.
func (s *Service) Compile(req CompileRequest) core.DryRunResult {
	return core.DryRun(req.Type, req.Template, req.Messages, req.Variables)
}

// RunRequest is a single synchronous model call against an inline template.
type RunRequest struct {
	Type      core.TemplateType `json:"type"`
	Template  string            `json:"template,omitempty"`
	Messages  []core.Message    `json:"messages,omitempty"`
	Variables map[string]any    `json:"variables"`
	Model     core.ModelConfig  `json:"model"`
}

// RunResult is the outcome of one playground call. Error carries compile or
// provider faults; the call itself still succeeds at the HTTP layer.
type RunResult struct {
	Compiled  core.DryRunResult `json:"compiled"`
	Output    string            `json:"output,omitempty"`
	Model     string            `json:"model,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	LatencyMS float64           `json:"latency_ms,omitempty"`
	Tokens    core.TokenUsage   `json:"tokens"`
	CostUSD   *float64          `json:"cost_usd,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Run compiles and invokes one model. Missing variables short-circuit before
// any model call.
func (s *Service) Run(ctx context.Context, req RunRequest) RunResult {
	dry := core.DryRun(req.Type, req.Template, req.Messages, req.Variables)
	if !dry.IsValid {
		return RunResult{
			Compiled: dry,
			Error:    "Missing variables: " + strings.Join(dry.MissingVariables, ", "),
		}
	}
	return s.invoke(ctx, dry, req.Model, nil)
}

// RunVersionRequest invokes a stored prompt version. Model knobs set here
// override the version's model defaults.
type RunVersionRequest struct {
	Variables map[string]any   `json:"variables"`
	Model     core.ModelConfig `json:"model"`
}

// RunVersion compiles a stored version with the supplied variables and
// invokes the merged model config.
func (s *Service) RunVersion(ctx context.Context, versionID string, req RunVersionRequest) (RunResult, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return RunResult{}, err
	}
	dry := core.DryRun(version.Type, version.TemplateText, version.TemplateMessages, req.Variables)
	if !dry.IsValid {
		return RunResult{
			Compiled: dry,
			Error:    "Missing variables: " + strings.Join(dry.MissingVariables, ", "),
		}, nil
	}
	return s.invoke(ctx, dry, req.Model, version.ModelDefaults), nil
}

// MultiRequest compares several model configs over one inline template.
type MultiRequest struct {
	Type      core.TemplateType  `json:"type"`
	Template  string             `json:"template,omitempty"`
	Messages  []core.Message     `json:"messages,omitempty"`
	Variables map[string]any     `json:"variables"`
	Models    []core.ModelConfig `json:"models"`
}

// MultiResult pairs each model config with its outcome.
type MultiResult struct {
	Compiled core.DryRunResult `json:"compiled"`
	Results  []RunResult       `json:"results"`
}

// RunMulti compiles once and fans out over the model list in parallel. A
// failing sub-call records its error in place and never fails the batch.
func (s *Service) RunMulti(ctx context.Context, req MultiRequest) (MultiResult, error) {
	if len(req.Models) == 0 {
		return MultiResult{}, core.ErrValidation{Reason: "at least one model required"}
	}
	dry := core.DryRun(req.Type, req.Template, req.Messages, req.Variables)
	out := MultiResult{Compiled: dry, Results: make([]RunResult, len(req.Models))}
	if !dry.IsValid {
		msg := "Missing variables: " + strings.Join(dry.MissingVariables, ", ")
		for i := range out.Results {
			out.Results[i] = RunResult{Compiled: dry, Error: msg}
		}
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, model := range req.Models {
		g.Go(func() error {
			out.Results[i] = s.invoke(gctx, dry, model, nil)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// VersionRun is one entry of a cross-version comparison.
type VersionRun struct {
	VersionID string           `json:"version_id"`
	Variables map[string]any   `json:"variables"`
	Model     core.ModelConfig `json:"model"`
}

// VersionRunResult pairs a version with its outcome.
type VersionRunResult struct {
	VersionID     string `json:"version_id"`
	VersionNumber int    `json:"version_number"`
	RunResult
}

// RunVersions compares stored prompt versions side by side. Versions are
// fetched up front so an unknown id fails the whole request before any model
// call; per-version compile or provider faults only mark that entry.
func (s *Service) RunVersions(ctx context.Context, runs []VersionRun) ([]VersionRunResult, error) {
	if len(runs) == 0 {
		return nil, core.ErrValidation{Reason: "at least one version required"}
	}
	versions := make([]core.PromptVersion, len(runs))
	for i, r := range runs {
		version, err := s.store.GetVersion(ctx, r.VersionID)
		if err != nil {
			return nil, err
		}
		versions[i] = version
	}

	out := make([]VersionRunResult, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range runs {
		g.Go(func() error {
			run, version := runs[i], versions[i]
			entry := VersionRunResult{VersionID: version.ID, VersionNumber: version.VersionNumber}
			dry := core.DryRun(version.Type, version.TemplateText, version.TemplateMessages, run.Variables)
			if !dry.IsValid {
				entry.RunResult = RunResult{
					Compiled: dry,
					Error:    "Missing variables: " + strings.Join(dry.MissingVariables, ", "),
				}
			} else {
				entry.RunResult = s.invoke(gctx, dry, run.Model, version.ModelDefaults)
			}
			out[i] = entry
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// invoke performs the model call for a compiled template, merging the model
// config over the version defaults when present.
func (s *Service) invoke(ctx context.Context, dry core.DryRunResult, model core.ModelConfig, defaults *core.ModelConfig) RunResult {
	req := llm.Request{
		Messages:        dry.RequestMessages(),
		Model:           model.Model,
		Temperature:     model.Temperature,
		MaxTokens:       model.MaxTokens,
		TopP:            model.TopP,
		ReasoningEffort: model.ReasoningEffort,
	}
	if defaults != nil {
		if req.Model == "" {
			req.Model = defaults.Model
		}
		if req.Temperature == nil {
			req.Temperature = defaults.Temperature
		}
		if req.MaxTokens == nil {
			req.MaxTokens = defaults.MaxTokens
		}
		if req.TopP == nil {
			req.TopP = defaults.TopP
		}
		if req.ReasoningEffort == "" {
			req.ReasoningEffort = defaults.ReasoningEffort
		}
	}
	resp := s.invoker.Generate(ctx, req)
	return RunResult{
		Compiled:  dry,
		Output:    resp.Output,
		Model:     resp.Model,
		Provider:  resp.Provider,
		LatencyMS: resp.LatencyMS,
		Tokens:    resp.Tokens,
		CostUSD:   resp.CostUSD,
		Error:     resp.Error,
	}
}
