package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/granuleflow/internal/catalog"
	"github.com/Lllllllleong/granuleflow/internal/jobqueue"
	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/monitor"
)

// Process exit codes reported for a finished run.
const (
	ExitOK                 = 0
	ExitUnexpected         = 1
	ExitJobFailed          = 5
	ExitInvalidInput       = 6
	ExitSubmissionRejected = 7
	ExitJobTimeout         = 8
	ExitCatalogError       = 9
)

// InvalidInputError reports run parameters that cannot be classified.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// MissingOutputError reports a job that succeeded without producing the
// outputs the next stage needs.
type MissingOutputError struct {
	JobID    string
	Kind     models.JobKind
	Location string
	Want     string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("%s job %s produced no %s outputs under %s", e.Kind, e.JobID, e.Want, e.Location)
}

// StageError tells the operator which stage, job and variable a run died in.
type StageError struct {
	Stage    models.RunState
	Kind     models.JobKind
	Variable string
	JobID    string
	Err      error
}

func (e *StageError) Error() string {
	var parts []string
	if e.Kind != "" {
		parts = append(parts, string(e.Kind))
	}
	if e.JobID != "" {
		parts = append(parts, "job "+e.JobID)
	}
	if e.Variable != "" {
		parts = append(parts, "variable "+e.Variable)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s (%s): %v", e.Stage, strings.Join(parts, ", "), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExitCode maps the error returned by Run to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		invalid     *InvalidInputError
		submission  *jobqueue.SubmissionError
		timeout     *monitor.JobTimeoutError
		failed      *monitor.JobFailedError
		missing     *MissingOutputError
		unavailable *catalog.CatalogUnavailableError
		duplicate   *catalog.DuplicateItemError
		invalidItem *catalog.InvalidItemError
	)
	switch {
	case errors.As(err, &invalid):
		return ExitInvalidInput
	case errors.As(err, &submission):
		return ExitSubmissionRejected
	case errors.As(err, &timeout):
		return ExitJobTimeout
	case errors.As(err, &failed), errors.As(err, &missing):
		return ExitJobFailed
	case errors.As(err, &unavailable), errors.As(err, &duplicate), errors.As(err, &invalidItem):
		return ExitCatalogError
	}
	return ExitUnexpected
}
