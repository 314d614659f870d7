package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// Service exposes the validated operations of the evaluation backend on top
// of a Storage implementation. It owns the rules that are not structural
// enough for the store: payload validation, model id assignment, share token
// issuance and expiry.
type Service struct {
	store Storage
}

// NewService constructs a service backed by the supplied store.
func NewService(store Storage) *Service {
	return &Service{store: store}
}

// Store returns the underlying storage implementation.
func (s *Service) Store() Storage { return s.store }

// CreatePrompt persists a new prompt.
func (s *Service) CreatePrompt(ctx context.Context, prompt Prompt) (Prompt, error) {
	if prompt.Name == "" {
		return Prompt{}, ErrValidation{Reason: "prompt name required"}
	}
	return s.store.CreatePrompt(ctx, prompt)
}

// CreateVersion validates and persists an immutable prompt version. The
// store assigns the next version number.
func (s *Service) CreateVersion(ctx context.Context, version PromptVersion) (PromptVersion, error) {
	switch version.Type {
	case TemplateText:
		if version.TemplateText == "" {
			return PromptVersion{}, ErrValidation{Reason: "template_text required for text versions"}
		}
		if len(version.TemplateMessages) > 0 {
			return PromptVersion{}, ErrValidation{Reason: "template_messages not allowed for text versions"}
		}
	case TemplateChat:
		if len(version.TemplateMessages) == 0 {
			return PromptVersion{}, ErrValidation{Reason: "template_messages required for chat versions"}
		}
		if version.TemplateText != "" {
			return PromptVersion{}, ErrValidation{Reason: "template_text not allowed for chat versions"}
		}
		for _, msg := range version.TemplateMessages {
			switch msg.Role {
			case RoleSystem, RoleUser, RoleAssistant:
			default:
				return PromptVersion{}, ErrValidation{Reason: fmt.Sprintf("invalid message role %q", msg.Role)}
			}
		}
	default:
		return PromptVersion{}, ErrValidation{Reason: fmt.Sprintf("invalid template type %q", version.Type)}
	}
	if _, err := s.store.GetPrompt(ctx, version.PromptID); err != nil {
		return PromptVersion{}, err
	}
	version.Labels = nil
	return s.store.CreateVersion(ctx, version)
}

// PromoteVersion attaches a reserved label to a version, demoting any other
// version of the same prompt that carried it.
func (s *Service) PromoteVersion(ctx context.Context, versionID, label string) (PromptVersion, error) {
	if !reservedLabel(label) {
		return PromptVersion{}, ErrValidation{Reason: fmt.Sprintf("unknown label %q", label)}
	}
	return s.store.SetLabel(ctx, versionID, label)
}

// DemoteVersion removes a reserved label from a version.
func (s *Service) DemoteVersion(ctx context.Context, versionID, label string) (PromptVersion, error) {
	if !reservedLabel(label) {
		return PromptVersion{}, ErrValidation{Reason: fmt.Sprintf("unknown label %q", label)}
	}
	return s.store.ClearLabel(ctx, versionID, label)
}

func reservedLabel(label string) bool {
	for _, l := range ReservedLabels {
		if l == label {
			return true
		}
	}
	return false
}

// CreateDataset persists a new dataset.
func (s *Service) CreateDataset(ctx context.Context, dataset Dataset) (Dataset, error) {
	if dataset.Name == "" {
		return Dataset{}, ErrValidation{Reason: "dataset name required"}
	}
	return s.store.CreateDataset(ctx, dataset)
}

// AddItems appends items to a dataset.
func (s *Service) AddItems(ctx context.Context, datasetID string, items []DatasetItem) ([]DatasetItem, error) {
	if len(items) == 0 {
		return nil, ErrValidation{Reason: "at least one item required"}
	}
	for i, item := range items {
		if item.Input == nil {
			return nil, ErrValidation{Reason: fmt.Sprintf("item %d: input required", i)}
		}
	}
	return s.store.CreateItems(ctx, datasetID, items)
}

// CreateEvalRun validates references, assigns missing model ids
// (model_{index}) and inserts the run in pending state with zeroed progress.
func (s *Service) CreateEvalRun(ctx context.Context, run EvalRun) (EvalRun, error) {
	if len(run.Models) == 0 {
		return EvalRun{}, ErrValidation{Reason: "at least one model required"}
	}
	if _, err := s.store.GetVersion(ctx, run.PromptVersionID); err != nil {
		return EvalRun{}, err
	}
	if _, err := s.store.GetDataset(ctx, run.DatasetID); err != nil {
		return EvalRun{}, err
	}
	for i := range run.Models {
		if run.Models[i].ID == "" {
			run.Models[i].ID = fmt.Sprintf("model_%d", i)
		}
		if run.Models[i].Model == "" {
			return EvalRun{}, ErrValidation{Reason: fmt.Sprintf("model %d: model name required", i)}
		}
	}
	if run.Assertions == nil {
		run.Assertions = []Assertion{}
	}
	run.Status = RunPending
	run.Progress = Progress{}
	run.Summary = nil
	run.ErrorMessage = ""
	run.StartedAt = nil
	run.CompletedAt = nil
	return s.store.CreateRun(ctx, run)
}

// CancelEvalRun cancels a pending or running run.
func (s *Service) CancelEvalRun(ctx context.Context, id string) (EvalRun, error) {
	return s.store.CancelRun(ctx, id)
}

// shareTokenBytes yields 22-character URL-safe tokens, the same width as the
// original issuance scheme.
const shareTokenBytes = 16

// NewShareToken returns an opaque URL-safe random token.
func NewShareToken() (string, error) {
	var buf [shareTokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// ShareInfo describes an issued share link.
type ShareInfo struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateShare issues a share token on a run, valid for expiresInDays.
func (s *Service) CreateShare(ctx context.Context, runID string, expiresInDays int) (ShareInfo, error) {
	if expiresInDays < 1 || expiresInDays > 365 {
		return ShareInfo{}, ErrValidation{Reason: "expires_in_days must be between 1 and 365"}
	}
	token, err := NewShareToken()
	if err != nil {
		return ShareInfo{}, err
	}
	expiresAt := time.Now().UTC().AddDate(0, 0, expiresInDays)
	if _, err := s.store.SetShare(ctx, runID, token, expiresAt); err != nil {
		return ShareInfo{}, err
	}
	return ShareInfo{
		Token:     token,
		URL:       "/reports/" + token,
		ExpiresAt: expiresAt,
	}, nil
}

// RevokeShare clears the share token and expiry from a run.
func (s *Service) RevokeShare(ctx context.Context, runID string) error {
	return s.store.ClearShare(ctx, runID)
}

// ResolveShare maps a token to its run, rejecting absent tokens with
// ErrNotFound and expired ones with ErrGone.
func (s *Service) ResolveShare(ctx context.Context, token string) (EvalRun, error) {
	run, err := s.store.GetRunByShareToken(ctx, token)
	if err != nil {
		return EvalRun{}, err
	}
	if run.ShareExpiresAt != nil && time.Now().UTC().After(*run.ShareExpiresAt) {
		return EvalRun{}, ErrGone{Reason: "share link expired"}
	}
	return run, nil
}

// SavePlaygroundRun persists a playground snapshot after verifying its
// references.
func (s *Service) SavePlaygroundRun(ctx context.Context, run PlaygroundRun) (PlaygroundRun, error) {
	if _, err := s.store.GetPrompt(ctx, run.PromptID); err != nil {
		return PlaygroundRun{}, err
	}
	if run.VersionID != nil {
		if _, err := s.store.GetVersion(ctx, *run.VersionID); err != nil {
			return PlaygroundRun{}, err
		}
	}
	return s.store.SavePlaygroundRun(ctx, run)
}
