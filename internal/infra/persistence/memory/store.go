// Package memory provides an in-memory Storage implementation. It is the
// reference for store semantics and doubles as the fixture for worker,
// playground and handler tests. Dequeue uses a mutex-guarded compare-and-swap
// on the status field, the substitute for SKIP LOCKED on non-relational
// backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"evalcore/internal/core"
)

// Store keeps every entity in process memory.
type Store struct {
	mu sync.RWMutex

	prompts        map[string]core.Prompt
	versions       map[string]core.PromptVersion
	datasets       map[string]core.Dataset
	items          map[string]core.DatasetItem
	runs           map[string]core.EvalRun
	results        map[string]core.EvalResult
	playgroundRuns map[string]core.PlaygroundRun

	// resultKeys enforces (run, item, model_id) uniqueness.
	resultKeys map[resultKey]struct{}

	now func() time.Time
}

type resultKey struct {
	runID   string
	itemID  string
	modelID string
}

var _ core.Storage = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		prompts:        make(map[string]core.Prompt),
		versions:       make(map[string]core.PromptVersion),
		datasets:       make(map[string]core.Dataset),
		items:          make(map[string]core.DatasetItem),
		runs:           make(map[string]core.EvalRun),
		results:        make(map[string]core.EvalResult),
		playgroundRuns: make(map[string]core.PlaygroundRun),
		resultKeys:     make(map[resultKey]struct{}),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func newID() string { return uuid.NewString() }

// --- prompts ---

func (s *Store) CreatePrompt(_ context.Context, prompt core.Prompt) (core.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prompt.ID == "" {
		prompt.ID = newID()
	}
	prompt.CreatedAt = s.now()
	s.prompts[prompt.ID] = prompt
	return prompt, nil
}

func (s *Store) GetPrompt(_ context.Context, id string) (core.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prompt, ok := s.prompts[id]
	if !ok {
		return core.Prompt{}, core.ErrNotFound{Entity: core.EntityPrompt, ID: id}
	}
	return prompt, nil
}

func (s *Store) ListPrompts(_ context.Context, page core.PageRequest) ([]core.Prompt, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]core.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return paginate(all, page.Normalize())
}

func (s *Store) DeletePrompt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[id]; !ok {
		return core.ErrNotFound{Entity: core.EntityPrompt, ID: id}
	}
	for _, run := range s.runs {
		if v, ok := s.versions[run.PromptVersionID]; ok && v.PromptID == id {
			return core.ErrConflict{Reason: "prompt has versions referenced by eval runs"}
		}
	}
	for vid, v := range s.versions {
		if v.PromptID == id {
			delete(s.versions, vid)
		}
	}
	delete(s.prompts, id)
	return nil
}

// --- versions ---

func (s *Store) CreateVersion(_ context.Context, version core.PromptVersion) (core.PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prompts[version.PromptID]; !ok {
		return core.PromptVersion{}, core.ErrNotFound{Entity: core.EntityPrompt, ID: version.PromptID}
	}
	next := 1
	for _, v := range s.versions {
		if v.PromptID == version.PromptID && v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	version.ID = newID()
	version.VersionNumber = next
	version.CreatedAt = s.now()
	version.Labels = nil
	s.versions[version.ID] = cloneVersion(version)
	return version, nil
}

func (s *Store) GetVersion(_ context.Context, id string) (core.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[id]
	if !ok {
		return core.PromptVersion{}, core.ErrNotFound{Entity: core.EntityPromptVersion, ID: id}
	}
	return cloneVersion(v), nil
}

func (s *Store) ListVersions(_ context.Context, promptID string) ([]core.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.PromptVersion
	for _, v := range s.versions {
		if v.PromptID == promptID {
			out = append(out, cloneVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *Store) GetVersionByLabel(_ context.Context, promptID, label string) (core.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.PromptID == promptID && v.HasLabel(label) {
			return cloneVersion(v), nil
		}
	}
	return core.PromptVersion{}, core.ErrNotFound{Entity: core.EntityPromptVersion, ID: label}
}

func (s *Store) SetLabel(_ context.Context, versionID, label string) (core.PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.versions[versionID]
	if !ok {
		return core.PromptVersion{}, core.ErrNotFound{Entity: core.EntityPromptVersion, ID: versionID}
	}
	// Move the label: at most one version per prompt carries it.
	for id, v := range s.versions {
		if id == versionID || v.PromptID != target.PromptID {
			continue
		}
		if v.HasLabel(label) {
			v.Labels = removeLabel(v.Labels, label)
			s.versions[id] = v
		}
	}
	if !target.HasLabel(label) {
		target.Labels = append(append([]string(nil), target.Labels...), label)
	}
	s.versions[versionID] = target
	return cloneVersion(target), nil
}

func (s *Store) ClearLabel(_ context.Context, versionID, label string) (core.PromptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.versions[versionID]
	if !ok {
		return core.PromptVersion{}, core.ErrNotFound{Entity: core.EntityPromptVersion, ID: versionID}
	}
	target.Labels = removeLabel(target.Labels, label)
	s.versions[versionID] = target
	return cloneVersion(target), nil
}

// --- datasets ---

func (s *Store) CreateDataset(_ context.Context, dataset core.Dataset) (core.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dataset.ID == "" {
		dataset.ID = newID()
	}
	dataset.CreatedAt = s.now()
	s.datasets[dataset.ID] = dataset
	return dataset, nil
}

func (s *Store) GetDataset(_ context.Context, id string) (core.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[id]
	if !ok {
		return core.Dataset{}, core.ErrNotFound{Entity: core.EntityDataset, ID: id}
	}
	return d, nil
}

func (s *Store) ListDatasets(_ context.Context, page core.PageRequest) ([]core.Dataset, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]core.Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return paginate(all, page.Normalize())
}

func (s *Store) DeleteDataset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[id]; !ok {
		return core.ErrNotFound{Entity: core.EntityDataset, ID: id}
	}
	for _, run := range s.runs {
		if run.DatasetID == id {
			return core.ErrConflict{Reason: "dataset referenced by eval runs"}
		}
	}
	for itemID, item := range s.items {
		if item.DatasetID == id {
			delete(s.items, itemID)
		}
	}
	delete(s.datasets, id)
	return nil
}

func (s *Store) CreateItems(_ context.Context, datasetID string, items []core.DatasetItem) ([]core.DatasetItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[datasetID]; !ok {
		return nil, core.ErrNotFound{Entity: core.EntityDataset, ID: datasetID}
	}
	out := make([]core.DatasetItem, 0, len(items))
	base := s.now()
	for i, item := range items {
		item.ID = newID()
		item.DatasetID = datasetID
		// Nanosecond offsets keep creation order observable.
		item.CreatedAt = base.Add(time.Duration(i) * time.Nanosecond)
		s.items[item.ID] = cloneItem(item)
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) ListItems(_ context.Context, datasetID string) ([]core.DatasetItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.DatasetItem
	for _, item := range s.items {
		if item.DatasetID == datasetID {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListItemsPage(ctx context.Context, datasetID string, page core.PageRequest) ([]core.DatasetItem, int, error) {
	all, err := s.ListItems(ctx, datasetID)
	if err != nil {
		return nil, 0, err
	}
	return paginate(all, page.Normalize())
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return core.ErrNotFound{Entity: core.EntityDatasetItem, ID: id}
	}
	delete(s.items, id)
	return nil
}

// --- eval runs ---

func (s *Store) CreateRun(_ context.Context, run core.EvalRun) (core.EvalRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = newID()
	run.CreatedAt = s.now()
	s.runs[run.ID] = cloneRun(run)
	return run, nil
}

func (s *Store) GetRun(_ context.Context, id string) (core.EvalRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityEvalRun, ID: id}
	}
	return cloneRun(run), nil
}

func (s *Store) ListRuns(_ context.Context, filter core.RunFilter, page core.PageRequest) ([]core.EvalRun, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []core.EvalRun
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.PromptVersionID != "" && run.PromptVersionID != filter.PromptVersionID {
			continue
		}
		if filter.DatasetID != "" && run.DatasetID != filter.DatasetID {
			continue
		}
		all = append(all, cloneRun(run))
	}
	// Newest first, matching the listing endpoint.
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, page.Normalize())
}

func (s *Store) DequeueRun(_ context.Context, staleBefore *time.Time) (core.EvalRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidate *core.EvalRun
	for id := range s.runs {
		run := s.runs[id]
		claimable := run.Status == core.RunPending ||
			(staleBefore != nil && run.Status == core.RunRunning &&
				run.StartedAt != nil && run.StartedAt.Before(*staleBefore))
		if !claimable {
			continue
		}
		if candidate == nil || run.CreatedAt.Before(candidate.CreatedAt) {
			r := run
			candidate = &r
		}
	}
	if candidate == nil {
		return core.EvalRun{}, false, nil
	}
	now := s.now()
	candidate.Status = core.RunRunning
	candidate.StartedAt = &now
	s.runs[candidate.ID] = cloneRun(*candidate)
	return cloneRun(*candidate), true, nil
}

func (s *Store) UpdateRunProgress(_ context.Context, id string, progress core.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return core.ErrNotFound{Entity: core.EntityEvalRun, ID: id}
	}
	run.Progress = progress
	s.runs[id] = run
	return nil
}

func (s *Store) FinishRun(_ context.Context, id string, status core.RunStatus, errorMessage string, progress core.Progress, summary *core.Summary) (core.EvalRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityEvalRun, ID: id}
	}
	// A terminal status is sticky: a cancel that landed mid-flight wins over
	// the executor's completion write.
	if run.Status.Terminal() {
		return cloneRun(run), nil
	}
	now := s.now()
	run.Status = status
	run.ErrorMessage = errorMessage
	run.Progress = progress
	run.Summary = summary
	run.CompletedAt = &now
	s.runs[id] = cloneRun(run)
	return cloneRun(run), nil
}

func (s *Store) CancelRun(_ context.Context, id string) (core.EvalRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityEvalRun, ID: id}
	}
	if run.Status != core.RunPending && run.Status != core.RunRunning {
		return core.EvalRun{}, core.ErrConflict{Reason: "can only cancel pending or running runs"}
	}
	now := s.now()
	run.Status = core.RunCanceled
	run.CompletedAt = &now
	s.runs[id] = cloneRun(run)
	return cloneRun(run), nil
}

func (s *Store) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return core.ErrNotFound{Entity: core.EntityEvalRun, ID: id}
	}
	for rid, result := range s.results {
		if result.EvalRunID == id {
			delete(s.resultKeys, resultKey{result.EvalRunID, result.DatasetItemID, result.ModelID})
			delete(s.results, rid)
		}
	}
	delete(s.runs, id)
	return nil
}

// --- results ---

func (s *Store) InsertResults(_ context.Context, results []core.EvalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, result := range results {
		key := resultKey{result.EvalRunID, result.DatasetItemID, result.ModelID}
		if _, dup := s.resultKeys[key]; dup {
			return core.ErrConflict{Reason: "duplicate result for (run, item, model)"}
		}
	}
	now := s.now()
	for _, result := range results {
		if result.ID == "" {
			result.ID = newID()
		}
		result.CreatedAt = now
		key := resultKey{result.EvalRunID, result.DatasetItemID, result.ModelID}
		s.resultKeys[key] = struct{}{}
		s.results[result.ID] = result
	}
	return nil
}

func (s *Store) ListResults(_ context.Context, runID string, filter core.ResultFilter, page core.PageRequest) ([]core.EvalResult, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.runs[runID]; !ok {
		return nil, 0, core.ErrNotFound{Entity: core.EntityEvalRun, ID: runID}
	}
	var all []core.EvalResult
	for _, result := range s.results {
		if result.EvalRunID != runID {
			continue
		}
		if filter.ModelID != "" && result.ModelID != filter.ModelID {
			continue
		}
		if filter.Passed != nil && result.Grading.Pass != *filter.Passed {
			continue
		}
		all = append(all, result)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].DatasetItemID != all[j].DatasetItemID {
			return all[i].DatasetItemID < all[j].DatasetItemID
		}
		return all[i].ModelID < all[j].ModelID
	})
	return paginate(all, page.Normalize())
}

// --- shares ---

func (s *Store) SetShare(_ context.Context, runID, token string, expiresAt time.Time) (core.EvalRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityEvalRun, ID: runID}
	}
	run.ShareToken = token
	run.ShareExpiresAt = &expiresAt
	s.runs[runID] = cloneRun(run)
	return cloneRun(run), nil
}

func (s *Store) ClearShare(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return core.ErrNotFound{Entity: core.EntityEvalRun, ID: runID}
	}
	run.ShareToken = ""
	run.ShareExpiresAt = nil
	s.runs[runID] = cloneRun(run)
	return nil
}

func (s *Store) GetRunByShareToken(_ context.Context, token string) (core.EvalRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" {
		return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityShare}
	}
	for _, run := range s.runs {
		if run.ShareToken == token {
			return cloneRun(run), nil
		}
	}
	return core.EvalRun{}, core.ErrNotFound{Entity: core.EntityShare}
}

// --- playground runs ---

func (s *Store) SavePlaygroundRun(_ context.Context, run core.PlaygroundRun) (core.PlaygroundRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = newID()
	run.CreatedAt = s.now()
	s.playgroundRuns[run.ID] = run
	return run, nil
}

func (s *Store) ListPlaygroundRunsByVersion(_ context.Context, versionID string, limit int) ([]core.PlaygroundRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.PlaygroundRun
	for _, run := range s.playgroundRuns {
		if run.VersionID != nil && *run.VersionID == versionID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// --- helpers ---

func paginate[T any](all []T, page core.PageRequest) ([]T, int, error) {
	total := len(all)
	start := page.Offset()
	if start >= total {
		return []T{}, total, nil
	}
	end := start + page.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func removeLabel(labels []string, label string) []string {
	out := labels[:0]
	for _, l := range labels {
		if l != label {
			out = append(out, l)
		}
	}
	return append([]string(nil), out...)
}

func cloneVersion(v core.PromptVersion) core.PromptVersion {
	dup := v
	dup.TemplateMessages = append([]core.Message(nil), v.TemplateMessages...)
	dup.Labels = append([]string(nil), v.Labels...)
	if v.ModelDefaults != nil {
		md := *v.ModelDefaults
		dup.ModelDefaults = &md
	}
	return dup
}

func cloneItem(item core.DatasetItem) core.DatasetItem {
	dup := item
	dup.Input = cloneMap(item.Input)
	dup.Metadata = cloneMap(item.Metadata)
	return dup
}

func cloneRun(run core.EvalRun) core.EvalRun {
	dup := run
	dup.Models = append([]core.ModelConfig(nil), run.Models...)
	dup.Assertions = append([]core.Assertion(nil), run.Assertions...)
	if run.Summary != nil {
		sum := *run.Summary
		dup.Summary = &sum
	}
	if run.StartedAt != nil {
		t := *run.StartedAt
		dup.StartedAt = &t
	}
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		dup.CompletedAt = &t
	}
	if run.ShareExpiresAt != nil {
		t := *run.ShareExpiresAt
		dup.ShareExpiresAt = &t
	}
	return dup
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
