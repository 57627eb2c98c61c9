package models

import "time"

// JobKind names the remote conversion stage a job runs.
type JobKind string

const (
	JobKindStageGranule JobKind = "STAGE_GRANULE"
	JobKindNetCDFToZarr JobKind = "NETCDF_TO_ZARR"
	JobKindZarrConcat   JobKind = "ZARR_CONCAT"
	JobKindZarrToCOG    JobKind = "ZARR_TO_COG"
)

// JobStatus is the status reported by the remote job executor.
type JobStatus string

const (
	JobStatusAccepted  JobStatus = "ACCEPTED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusUnknown   JobStatus = "UNKNOWN"
)

// IsTerminal reports whether a job in this status can never change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is one unit of remote asynchronous work, owned by the orchestrator for
// the duration of a single stage.
type Job struct {
	ID           string            `firestore:"id" json:"id"`
	Kind         JobKind           `firestore:"kind" json:"kind"`
	Variable     string            `firestore:"variable,omitempty" json:"variable,omitempty"`
	Params       map[string]string `firestore:"params,omitempty" json:"params,omitempty"`
	Status       JobStatus         `firestore:"status" json:"status"`
	SubmittedAt  time.Time         `firestore:"submittedAt" json:"submittedAt"`
	LastPolledAt time.Time         `firestore:"lastPolledAt,omitempty" json:"lastPolledAt,omitempty"`
}
