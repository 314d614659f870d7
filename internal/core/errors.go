package core

import "fmt"

// EntityType names a stored entity kind for error reporting.
type EntityType string

const (
	EntityPrompt        EntityType = "prompt"
	EntityPromptVersion EntityType = "prompt_version"
	EntityDataset       EntityType = "dataset"
	EntityDatasetItem   EntityType = "dataset_item"
	EntityEvalRun       EntityType = "eval_run"
	EntityEvalResult    EntityType = "eval_result"
	EntityShare         EntityType = "share"
)

// ErrNotFound is returned when a referenced entity does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrConflict is returned when an operation is not legal in the entity's
// current state, such as cancelling a terminal run.
type ErrConflict struct {
	Reason string
}

func (e ErrConflict) Error() string { return e.Reason }

// ErrGone is returned when a share token exists but has expired.
type ErrGone struct {
	Reason string
}

func (e ErrGone) Error() string { return e.Reason }

// ErrValidation is returned for malformed requests: bad template payloads,
// empty model lists, out-of-range parameters.
type ErrValidation struct {
	Reason string
}

func (e ErrValidation) Error() string { return e.Reason }
