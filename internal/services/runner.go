package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/pipeline"
)

// runner is the part of the Orchestrator the entrypoints use.
type runner interface {
	Run(ctx context.Context, req models.RunRequest) (*models.RunResult, error)
}

// PipelineFunction runs one pipeline per HTTP request.
type PipelineFunction struct {
	orch   runner
	logger *slog.Logger
}

// NewPipelineFunction builds the function from the environment. Called once
// per instance by main.go.
func NewPipelineFunction(ctx context.Context) (*PipelineFunction, error) {
	backends, logger, err := newFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Pipeline runner initialized.")
	return &PipelineFunction{orch: backends.Orchestrator, logger: logger}, nil
}

// Process runs req to completion and reports the outcome. The returned
// response is never nil.
func (f *PipelineFunction) Process(ctx context.Context, req models.RunRequest) *models.RunResponse {
	res, err := f.orch.Run(ctx, req)
	if err != nil {
		code := pipeline.ExitCode(err)
		f.logger.Error("Pipeline run failed.", "error", err, "exitCode", code)
		return &models.RunResponse{Status: string(models.StateFailed), ExitCode: code, Error: err.Error()}
	}
	return &models.RunResponse{
		Status:    string(res.State),
		RunID:     res.RunID,
		ExitCode:  pipeline.ExitOK,
		Artifacts: res.Artifacts,
	}
}

// ServeHTTP decodes a RunRequest, runs it and writes the RunResponse with
// the HTTP status matching its exit code.
func (f *PipelineFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.logger.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	resp := f.Process(r.Context(), req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(resp.ExitCode))
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		f.logger.Error("Failed to write response", "error", err, "runId", resp.RunID)
	}
}

// HTTPStatus maps a pipeline exit code to the status the HTTP entrypoint
// answers with.
func HTTPStatus(exitCode int) int {
	switch exitCode {
	case pipeline.ExitOK:
		return http.StatusOK
	case pipeline.ExitInvalidInput:
		return http.StatusBadRequest
	case pipeline.ExitJobFailed, pipeline.ExitSubmissionRejected:
		return http.StatusBadGateway
	case pipeline.ExitJobTimeout:
		return http.StatusGatewayTimeout
	case pipeline.ExitCatalogError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
