// Package runstore persists the state of pipeline runs.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

var ErrNotFound = errors.New("run not found")

// Store records each run as it moves through the pipeline states.
type Store interface {
	Create(ctx context.Context, rec models.RunRecord) error
	// UpdateState moves the run to state. errDetails is stored only when set.
	UpdateState(ctx context.Context, runID string, state models.RunState, stage, errDetails string) error
	// RecordJob inserts the job, or replaces an earlier entry with the same id.
	RecordJob(ctx context.Context, runID string, job models.Job) error
	SetArtifacts(ctx context.Context, runID string, artifacts []string) error
	Get(ctx context.Context, runID string) (*models.RunRecord, error)
}

func upsertJob(jobs []models.Job, job models.Job) []models.Job {
	for i := range jobs {
		if jobs[i].ID == job.ID {
			jobs[i] = job
			return jobs
		}
	}
	return append(jobs, job)
}

// Nop discards run records; used when no run store is configured.
type Nop struct{}

func (Nop) Create(context.Context, models.RunRecord) error                             { return nil }
func (Nop) UpdateState(context.Context, string, models.RunState, string, string) error { return nil }
func (Nop) RecordJob(context.Context, string, models.Job) error                        { return nil }
func (Nop) SetArtifacts(context.Context, string, []string) error                       { return nil }
func (Nop) Get(context.Context, string) (*models.RunRecord, error)                     { return nil, ErrNotFound }

var now = time.Now
