package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Lllllllleong/granuleflow/internal/apiclient"
	"github.com/Lllllllleong/granuleflow/internal/models"
)

// HTTPConfig configures the HTTP job API backend.
type HTTPConfig struct {
	Queue string
	// Algorithms maps each job kind to the algorithm id registered with the
	// job API.
	Algorithms map[models.JobKind]string
	Version    string
}

// HTTPClient talks to a DPS-style job API:
//
//	POST {host}/api/dps/job
//	GET  {host}/api/dps/job/{id}/status
//	GET  {host}/api/dps/job/{id}/result
type HTTPClient struct {
	api    *apiclient.Client
	config HTTPConfig
	logger *slog.Logger
}

func NewHTTPClient(api *apiclient.Client, config HTTPConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Version == "" {
		config.Version = "master"
	}
	return &HTTPClient{api: api, config: config, logger: logger}
}

type submitJobRequest struct {
	AlgorithmID string            `json:"algo_id"`
	Version     string            `json:"version"`
	Queue       string            `json:"queue,omitempty"`
	Identifier  string            `json:"identifier,omitempty"`
	Params      map[string]string `json:"params"`
}

type submitJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type jobStatusResponse struct {
	Status string `json:"status"`
}

type jobResultResponse struct {
	Outputs []string `json:"outputs"`
}

func (c *HTTPClient) Submit(ctx context.Context, kind models.JobKind, params map[string]string) (Handle, error) {
	algorithm, ok := c.config.Algorithms[kind]
	if !ok || algorithm == "" {
		return Handle{}, &SubmissionError{Kind: kind, Reason: "no algorithm configured for job kind"}
	}

	jobParams := make(map[string]string, len(params))
	for k, v := range params {
		if k == ParamIdentifier {
			continue
		}
		jobParams[k] = v
	}
	body := submitJobRequest{
		AlgorithmID: algorithm,
		Version:     c.config.Version,
		Queue:       c.config.Queue,
		Identifier:  params[ParamIdentifier],
		Params:      jobParams,
	}

	const path = "/api/dps/job"
	resp, err := c.api.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return Handle{}, &SubmissionError{Kind: kind, Reason: "job API unreachable", Err: err}
	}
	if !resp.IsSuccess() {
		return Handle{}, &SubmissionError{Kind: kind, Reason: "job API rejected request", Err: c.api.NewStatusError(http.MethodPost, path, resp)}
	}

	var submitted submitJobResponse
	if err := resp.JSON(&submitted); err != nil {
		return Handle{}, &SubmissionError{Kind: kind, Reason: "malformed submit response", Err: err}
	}
	if submitted.JobID == "" {
		reason := submitted.Message
		if reason == "" {
			reason = "job API returned no job id"
		}
		return Handle{}, &SubmissionError{Kind: kind, Reason: reason}
	}
	return Handle{ID: submitted.JobID, Kind: kind}, nil
}

func (c *HTTPClient) Poll(ctx context.Context, h Handle) (models.JobStatus, error) {
	path := "/api/dps/job/" + url.PathEscape(h.ID) + "/status"
	resp, err := c.api.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &TransientPollError{JobID: h.ID, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return models.JobStatusUnknown, nil
	}
	if !resp.IsSuccess() {
		statusErr := c.api.NewStatusError(http.MethodGet, path, resp)
		if statusErr.Retryable() {
			return "", &TransientPollError{JobID: h.ID, Err: statusErr}
		}
		return "", statusErr
	}

	var body jobStatusResponse
	if err := resp.JSON(&body); err != nil {
		return "", &TransientPollError{JobID: h.ID, Err: fmt.Errorf("malformed status response: %w", err)}
	}
	return c.mapStatus(h, body.Status), nil
}

func (c *HTTPClient) mapStatus(h Handle, raw string) models.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accepted", "queued", "job-queued":
		return models.JobStatusAccepted
	case "running", "started", "job-started":
		return models.JobStatusRunning
	case "succeeded", "successful", "completed", "job-completed":
		return models.JobStatusSucceeded
	case "failed", "deleted", "revoked", "dismissed", "job-failed":
		return models.JobStatusFailed
	default:
		c.logger.Warn("Unrecognized job status, treating as running.", "jobId", h.ID, "status", raw)
		return models.JobStatusRunning
	}
}

func (c *HTTPClient) Result(ctx context.Context, h Handle) (string, error) {
	path := "/api/dps/job/" + url.PathEscape(h.ID) + "/result"
	resp, err := c.api.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", c.api.NewStatusError(http.MethodGet, path, resp)
	}

	var body jobResultResponse
	if err := resp.JSON(&body); err != nil {
		return "", fmt.Errorf("malformed result response for job %s: %w", h.ID, err)
	}
	for _, output := range body.Outputs {
		if strings.HasPrefix(output, "s3://") || strings.HasPrefix(output, "gs://") {
			return output, nil
		}
	}
	return "", fmt.Errorf("job %s reported no object-storage output", h.ID)
}
