// Package reportarchive renders finished eval runs into self-contained JSON
// report documents and persists them to an object store. Archiving happens
// when a share link is issued, so a report snapshot survives later deletion
// of the run.
package reportarchive

import (
	"time"

	"evalcore/internal/core"
)

// Report is the archived document for one eval run.
type Report struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Run         core.EvalRun       `json:"run"`
	Version     core.PromptVersion `json:"prompt_version"`
	Dataset     core.Dataset       `json:"dataset"`
	Results     []core.EvalResult  `json:"results"`
}

// Render assembles a report document.
func Render(run core.EvalRun, version core.PromptVersion, dataset core.Dataset, results []core.EvalResult) Report {
	return Report{
		GeneratedAt: time.Now().UTC(),
		Run:         run,
		Version:     version,
		Dataset:     dataset,
		Results:     results,
	}
}
