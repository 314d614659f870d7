package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"evalcore/internal/core"
	"evalcore/internal/llm"
)

// Executor drains one claimed eval run: it materialises the item x model task
// grid, fans out bounded by the concurrency limit, retries transient model
// faults, grades outputs and persists results plus the final summary.
type Executor struct {
	store      core.Storage
	invoker    llm.Invoker
	metrics    MetricsRecorder
	logger     *slog.Logger
	concurrent int64
	maxRetries int

	// sleep is swapped in tests so backoff does not stall the suite.
	sleep func(time.Duration)
}

// NewExecutor builds an executor. concurrency bounds in-flight tasks across
// the whole grid; maxRetries bounds extra attempts per model call.
func NewExecutor(store core.Storage, invoker llm.Invoker, concurrency, maxRetries int, metrics MetricsRecorder, logger *slog.Logger) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:      store,
		invoker:    invoker,
		metrics:    metrics,
		logger:     logger,
		concurrent: int64(concurrency),
		maxRetries: maxRetries,
		sleep:      time.Sleep,
	}
}

// SetSleep replaces the backoff sleeper; tests use a recorder.
func (e *Executor) SetSleep(fn func(time.Duration)) { e.sleep = fn }

type task struct {
	item  core.DatasetItem
	model core.ModelConfig
}

// Execute runs one claimed eval run to a terminal status. Setup failures
// (missing version, empty dataset) finish the run as failed without results.
// A cancel observed mid-flight stops new tasks; the terminal-status guard in
// FinishRun keeps the canceled status.
func (e *Executor) Execute(ctx context.Context, run core.EvalRun) error {
	log := e.logger.With("run_id", run.ID)

	version, err := e.store.GetVersion(ctx, run.PromptVersionID)
	if err != nil {
		return e.fail(ctx, run.ID, fmt.Sprintf("prompt version %s not found", run.PromptVersionID), core.Progress{})
	}
	items, err := e.store.ListItems(ctx, run.DatasetID)
	if err != nil {
		return e.fail(ctx, run.ID, fmt.Sprintf("load dataset items: %v", err), core.Progress{})
	}
	if len(items) == 0 {
		return e.fail(ctx, run.ID, "dataset has no items", core.Progress{})
	}

	tasks := make([]task, 0, len(items)*len(run.Models))
	for _, item := range items {
		for _, model := range run.Models {
			tasks = append(tasks, task{item: item, model: model})
		}
	}
	total := len(tasks)
	if err := e.store.UpdateRunProgress(ctx, run.ID, core.Progress{Total: total}); err != nil {
		log.Warn("update progress failed", "error", err)
	}

	var (
		mu        sync.Mutex
		results   = make([]core.EvalResult, 0, total)
		completed int
		failed    int
		canceled  atomic.Bool
		wg        sync.WaitGroup
	)
	sem := semaphore.NewWeighted(e.concurrent)

	flush := func() {
		mu.Lock()
		progress := progressFor(total, completed, failed)
		mu.Unlock()
		if err := e.store.UpdateRunProgress(ctx, run.ID, progress); err != nil {
			log.Warn("update progress failed", "error", err)
		}
		// Cancellation is cooperative: look at the stored status on every
		// flush and stop launching once it flips.
		current, err := e.store.GetRun(ctx, run.ID)
		if err == nil && current.Status == core.RunCanceled {
			canceled.Store(true)
		}
	}

	for _, t := range tasks {
		if canceled.Load() || ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			defer sem.Release(1)
			result := e.runTask(ctx, run, version, t)
			mu.Lock()
			results = append(results, result)
			if result.Metrics.Error == "" {
				completed++
			} else {
				failed++
			}
			mu.Unlock()
			flush()
		}(t)
	}
	wg.Wait()

	if len(results) > 0 {
		if err := e.store.InsertResults(ctx, results); err != nil {
			return e.fail(ctx, run.ID, fmt.Sprintf("persist results: %v", err),
				progressFor(total, completed, failed))
		}
	}

	summary := summarize(results)
	finished, err := e.store.FinishRun(ctx, run.ID, core.RunCompleted, "",
		progressFor(total, completed, failed), &summary)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	e.metrics.RunFinished(string(finished.Status))
	log.Info("run finished",
		"status", finished.Status,
		"total", summary.Total,
		"passed", summary.Passed,
		"failed", summary.Failed)
	return nil
}

func (e *Executor) fail(ctx context.Context, runID, message string, progress core.Progress) error {
	finished, err := e.store.FinishRun(ctx, runID, core.RunFailed, message, progress, nil)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	e.metrics.RunFinished(string(finished.Status))
	e.logger.Warn("run failed during setup", "run_id", runID, "error", message)
	return nil
}

// runTask executes one item x model cell. It never panics outward; a panic in
// grading or invocation is captured into the result's error field.
func (e *Executor) runTask(ctx context.Context, run core.EvalRun, version core.PromptVersion, t task) (result core.EvalResult) {
	start := time.Now()
	defer func() {
		e.metrics.TaskDuration(time.Since(start).Seconds())
		if r := recover(); r != nil {
			result = core.EvalResult{
				EvalRunID:     run.ID,
				DatasetItemID: t.item.ID,
				ModelID:       t.model.ID,
				ModelConfig:   t.model,
				Grading:       core.Grading{Reason: "task panicked"},
				Metrics:       core.Metrics{Error: fmt.Sprintf("panic: %v", r)},
			}
			e.metrics.TaskFinished("failed")
		}
	}()

	dry := core.DryRun(version.Type, version.TemplateText, version.TemplateMessages, t.item.Input)
	request := core.RequestPayload{
		Variables: t.item.Input,
		Missing:   dry.MissingVariables,
	}
	if dry.IsValid {
		request.CompiledPrompt = dry.CompiledText
		request.CompiledMessages = dry.CompiledMessages
	}

	result = core.EvalResult{
		EvalRunID:     run.ID,
		DatasetItemID: t.item.ID,
		ModelID:       t.model.ID,
		ModelConfig:   t.model,
		Request:       request,
	}

	// Missing variables are a synthetic failure: no model call, no retries.
	// The variable list goes into the grading reason; the error field carries
	// the fixed marker.
	if !dry.IsValid {
		result.Grading = core.Grading{
			Reason: "Missing variables: " + strings.Join(dry.MissingVariables, ", "),
		}
		result.Metrics = core.Metrics{Error: "Missing variables"}
		e.metrics.TaskFinished("failed")
		return result
	}

	req := buildRequest(version, t.model, dry)
	resp, retries := e.invokeWithRetry(ctx, req)
	result.Metrics = core.Metrics{
		LatencyMS: resp.LatencyMS,
		Tokens:    resp.Tokens,
		CostUSD:   resp.CostUSD,
		Retries:   retries,
		Error:     resp.Error,
	}
	if resp.Error != "" {
		result.Grading = core.Grading{Reason: "Model call failed"}
		e.metrics.TaskFinished("failed")
		return result
	}

	output := resp.Output
	result.Output = &output
	result.Grading = core.RunAssertions(output, t.item.ExpectedOutput, run.Assertions)
	e.metrics.TaskFinished("completed")
	return result
}

// invokeWithRetry calls the model, retrying failures with exponential backoff
// (2s, 4s, 8s, ...). It returns the last response and the number of retries
// actually performed.
func (e *Executor) invokeWithRetry(ctx context.Context, req llm.Request) (llm.Response, int) {
	var resp llm.Response
	retries := 0
	for {
		resp = e.invoker.Generate(ctx, req)
		outcome := "completed"
		if resp.Error != "" {
			outcome = "failed"
		}
		e.metrics.ModelCall(resp.Provider, outcome)
		if resp.Error == "" || retries >= e.maxRetries || ctx.Err() != nil {
			return resp, retries
		}
		retries++
		e.sleep(time.Duration(math.Pow(2, float64(retries))) * time.Second)
	}
}

// buildRequest merges knobs: the run's model config wins, then the version's
// model defaults, then the invoker's own defaults.
func buildRequest(version core.PromptVersion, model core.ModelConfig, dry core.DryRunResult) llm.Request {
	req := llm.Request{
		Messages:        dry.RequestMessages(),
		Model:           model.Model,
		Temperature:     model.Temperature,
		MaxTokens:       model.MaxTokens,
		TopP:            model.TopP,
		ReasoningEffort: model.ReasoningEffort,
	}
	if defaults := version.ModelDefaults; defaults != nil {
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
	return req
}

func progressFor(total, completed, failed int) core.Progress {
	percent := 0
	if total > 0 {
		percent = (completed + failed) * 100 / total
	}
	return core.Progress{
		Total:     total,
		Completed: completed,
		Failed:    failed,
		Percent:   percent,
	}
}

// summarize aggregates the drained result set.
func summarize(results []core.EvalResult) core.Summary {
	s := core.Summary{Total: len(results)}
	if s.Total == 0 {
		return s
	}
	var scoreSum float64
	for _, r := range results {
		if r.Grading.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
		scoreSum += r.Grading.Score
		s.TotalLatencyMS += r.Metrics.LatencyMS
		if r.Metrics.CostUSD != nil {
			s.TotalCostUSD += *r.Metrics.CostUSD
		}
	}
	s.PassRate = float64(s.Passed) / float64(s.Total)
	s.AvgScore = scoreSum / float64(s.Total)
	s.AvgLatencyMS = s.TotalLatencyMS / float64(s.Total)
	return s
}
