package sync

import (
	"time"

	"github.com/jwhitfield/trackbridge/pkg/models"
)

// Outcome classifies what happened to a single artifact during a phase.
type Outcome int

const (
	// OutcomeCreated means a new artifact was created on the peer system.
	OutcomeCreated Outcome = iota + 1
	// OutcomeUpdated means an already-mapped artifact was updated in place.
	OutcomeUpdated
	// OutcomeSkipped means the artifact needed no work (already mapped,
	// creation disabled, unmapped tracker type on import).
	OutcomeSkipped
	// OutcomeFailed means the artifact was abandoned after an error. The
	// failure is isolated: the batch continues with the next item.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// ItemResult is the tagged result of processing one artifact. Item processors
// never write mappings themselves; they return the deltas they produced and
// the orchestrator performs one batched repository write per phase.
type ItemResult struct {
	Outcome Outcome

	// Reason explains a skip (human-readable, for logs).
	Reason string

	// Err is set when Outcome is OutcomeFailed.
	Err error

	// NewMappings are artifact and release mappings produced by this item.
	NewMappings []models.ArtifactMapping

	// RemovedMappings are stale release mappings to delete.
	RemovedMappings []models.ArtifactMapping

	// Warnings counts optional-mapping misses and best-effort sub-operation
	// failures hit while processing the item.
	Warnings int
}

func skipped(reason string) ItemResult {
	return ItemResult{Outcome: OutcomeSkipped, Reason: reason}
}

func failed(err error) ItemResult {
	return ItemResult{Outcome: OutcomeFailed, Err: err}
}

// PhaseReport tallies item outcomes for one phase of one project.
type PhaseReport struct {
	Created int
	Updated int
	Skipped int
	Failed  int
}

// Add folds one item result into the tally.
func (p *PhaseReport) Add(r ItemResult) {
	switch r.Outcome {
	case OutcomeCreated:
		p.Created++
	case OutcomeUpdated:
		p.Updated++
	case OutcomeSkipped:
		p.Skipped++
	case OutcomeFailed:
		p.Failed++
	}
}

// Total returns the number of items processed.
func (p *PhaseReport) Total() int {
	return p.Created + p.Updated + p.Skipped + p.Failed
}

// Status is the run-level result, the only externally observed signal of a
// run. Everything finer-grained surfaces through the log stream.
type Status int

const (
	// StatusSuccess means every project and item completed cleanly.
	StatusSuccess Status = iota
	// StatusWarning means the run completed but some projects or items were
	// skipped or failed.
	StatusWarning
	// StatusError means an authentication or connectivity fault aborted the
	// run; the host scheduler must not advance its last-sync date.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Report aggregates a whole run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Projects        int
	ProjectsSkipped int

	Export PhaseReport
	Import PhaseReport

	// Warnings counts optional-mapping misses and best-effort sub-operation
	// failures surfaced by item processors.
	Warnings int
}

// Status derives the run-level result from the tallies. A fatal fault is
// reported separately, as the error return of Execute.
func (r *Report) Status() Status {
	if r.ProjectsSkipped > 0 || r.Export.Failed > 0 || r.Import.Failed > 0 || r.Warnings > 0 {
		return StatusWarning
	}
	return StatusSuccess
}
