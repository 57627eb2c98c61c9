// Package jobqueue submits pipeline stages to a remote job executor and
// reports their status.
package jobqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

// ParamIdentifier carries a human-readable job name alongside the stage
// parameters.
const ParamIdentifier = "identifier"

// Identifier builds the readable job name for a submission: the job kind and
// the last ten characters of the source it works on.
func Identifier(kind models.JobKind, source string) string {
	source = strings.TrimSuffix(source, "/")
	if len(source) > 10 {
		source = source[len(source)-10:]
	}
	return fmt.Sprintf("granuleflow_%s_%s", strings.ToLower(string(kind)), source)
}

// Handle identifies a submitted job.
type Handle struct {
	ID   string
	Kind models.JobKind
}

// Client is the contract toward the remote job executor. Implementations must
// be safe for concurrent use: fan-out members submit and poll in parallel.
type Client interface {
	// Submit creates one remote job. It fails with *SubmissionError when the
	// executor rejects the request.
	Submit(ctx context.Context, kind models.JobKind, params map[string]string) (Handle, error)
	// Poll reports the job's current status. Network and timeout problems are
	// returned as *TransientPollError. UNKNOWN means the executor has no
	// record of the handle.
	Poll(ctx context.Context, h Handle) (models.JobStatus, error)
	// Result returns the object-storage location holding a succeeded job's outputs.
	Result(ctx context.Context, h Handle) (string, error)
}

// SubmissionError reports that the executor rejected a job.
type SubmissionError struct {
	Kind   models.JobKind
	Reason string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to submit %s job: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to submit %s job: %s", e.Kind, e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TransientPollError reports a poll that may succeed when retried.
type TransientPollError struct {
	JobID string
	Err   error
}

func (e *TransientPollError) Error() string {
	return fmt.Sprintf("transient error polling job %s: %v", e.JobID, e.Err)
}

func (e *TransientPollError) Unwrap() error { return e.Err }
