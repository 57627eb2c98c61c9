package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

// executionsAPI is the subset of the Workflows Executions client used here.
type executionsAPI interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
	GetExecution(ctx context.Context, req *executionspb.GetExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowsConfig names the workflow deployed for each job kind.
type WorkflowsConfig struct {
	ProjectID string
	Location  string
	Queue     string
	Workflows map[models.JobKind]string
}

// WorkflowsClient runs each stage as a Cloud Workflows execution. The job
// parameters become the execution argument and the execution result carries
// the output location.
type WorkflowsClient struct {
	api    executionsAPI
	config WorkflowsConfig
	logger *slog.Logger
}

// NewWorkflowsClient wraps an executions client.
func NewWorkflowsClient(api executionsAPI, config WorkflowsConfig, logger *slog.Logger) *WorkflowsClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkflowsClient{api: api, config: config, logger: logger}
}

func (c *WorkflowsClient) Submit(ctx context.Context, kind models.JobKind, params map[string]string) (Handle, error) {
	workflowID, ok := c.config.Workflows[kind]
	if !ok || workflowID == "" {
		return Handle{}, &SubmissionError{Kind: kind, Reason: "no workflow configured for job kind"}
	}

	argument := make(map[string]string, len(params)+1)
	for k, v := range params {
		argument[k] = v
	}
	if c.config.Queue != "" {
		argument["queue"] = c.config.Queue
	}
	payloadBytes, err := json.Marshal(argument)
	if err != nil {
		return Handle{}, &SubmissionError{Kind: kind, Reason: "failed to marshal workflow argument", Err: err}
	}

	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", c.config.ProjectID, c.config.Location, workflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	execution, err := c.api.CreateExecution(ctx, req)
	if err != nil {
		return Handle{}, &SubmissionError{Kind: kind, Reason: "workflow execution rejected", Err: err}
	}
	if execution.GetName() == "" {
		return Handle{}, &SubmissionError{Kind: kind, Reason: "executor returned no execution name"}
	}
	return Handle{ID: execution.GetName(), Kind: kind}, nil
}

func (c *WorkflowsClient) Poll(ctx context.Context, h Handle) (models.JobStatus, error) {
	execution, err := c.api.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: h.ID})
	if err != nil {
		switch status.Code(err) {
		case codes.NotFound:
			return models.JobStatusUnknown, nil
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return "", &TransientPollError{JobID: h.ID, Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &TransientPollError{JobID: h.ID, Err: err}
		}
		return "", fmt.Errorf("failed to get execution %s: %w", h.ID, err)
	}

	switch execution.GetState() {
	case executionspb.Execution_QUEUED:
		return models.JobStatusAccepted, nil
	case executionspb.Execution_ACTIVE:
		return models.JobStatusRunning, nil
	case executionspb.Execution_SUCCEEDED:
		return models.JobStatusSucceeded, nil
	case executionspb.Execution_FAILED, executionspb.Execution_CANCELLED, executionspb.Execution_UNAVAILABLE:
		c.logger.Warn("Workflow execution ended unsuccessfully.",
			"jobId", h.ID,
			"state", execution.GetState().String(),
			"error", execution.GetError().GetPayload(),
		)
		return models.JobStatusFailed, nil
	default:
		return models.JobStatusAccepted, nil
	}
}

func (c *WorkflowsClient) Result(ctx context.Context, h Handle) (string, error) {
	execution, err := c.api.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: h.ID})
	if err != nil {
		return "", fmt.Errorf("failed to get execution %s: %w", h.ID, err)
	}
	return parseResultLocation(execution.GetResult())
}

// parseResultLocation accepts either {"output": "<uri>"} or a bare JSON string.
func parseResultLocation(result string) (string, error) {
	result = strings.TrimSpace(result)
	if result == "" {
		return "", errors.New("execution returned an empty result")
	}
	var asObject struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal([]byte(result), &asObject); err == nil && asObject.Output != "" {
		return asObject.Output, nil
	}
	var asString string
	if err := json.Unmarshal([]byte(result), &asString); err == nil && asString != "" {
		return asString, nil
	}
	return "", fmt.Errorf("execution result has no output location: %s", result)
}
