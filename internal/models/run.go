package models

import "time"

// RunState is a state of the pipeline state machine.
type RunState string

const (
	StateClassifying   RunState = "CLASSIFYING"
	StateStaging       RunState = "STAGING"
	StateConverting    RunState = "CONVERTING"
	StateConcatenating RunState = "CONCATENATING"
	StateRasterizing   RunState = "RASTERIZING"
	StateCataloging    RunState = "CATALOGING"
	StateDone          RunState = "DONE"
	StateFailed        RunState = "FAILED"
)

// RunRecord represents one pipeline run in Firestore.
// It tracks the current state, the jobs submitted and the artifacts produced.
type RunRecord struct {
	RunID        string    `firestore:"runId,omitempty"`
	GranuleID    string    `firestore:"granuleId,omitempty"`
	CollectionID string    `firestore:"collectionId,omitempty"`
	InputURL     string    `firestore:"inputUrl,omitempty"`
	State        RunState  `firestore:"state,omitempty"`
	Stage        string    `firestore:"stage,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	Jobs         []Job     `firestore:"jobs,omitempty"`
	Artifacts    []string  `firestore:"artifacts,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt,omitempty"`
}
