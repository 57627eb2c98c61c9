package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/Lllllllleong/granuleflow/internal/gcp"
	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/objstore"
	"github.com/Lllllllleong/granuleflow/internal/pipeline"
)

// zarrMarker is the consolidated metadata object written last into a Zarr
// store. Its arrival means the store is complete.
const zarrMarker = ".zmetadata"

// TriggerFunction starts a pipeline run for every NetCDF file or Zarr store
// that lands in a watched bucket.
type TriggerFunction struct {
	orch         runner
	logger       *slog.Logger
	collectionID string
	variables    []string
}

// NewTriggerFunction builds the function from the environment.
// TRIGGER_COLLECTION_ID and TRIGGER_VARIABLES (comma separated) apply to
// every triggered run.
func NewTriggerFunction(ctx context.Context) (*TriggerFunction, error) {
	backends, logger, err := newFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	f := &TriggerFunction{
		orch:         backends.Orchestrator,
		logger:       logger,
		collectionID: gcp.GetEnv("TRIGGER_COLLECTION_ID", ""),
		variables:    splitList(gcp.GetEnv("TRIGGER_VARIABLES", "")),
	}
	logger.Info("Granule trigger initialized.", "collectionId", f.collectionID, "variables", f.variables)
	return f, nil
}

// RequestForObject returns the run request for a finalized object, or false
// when the object does not start a run.
func RequestForObject(e models.GCSEvent) (models.RunRequest, bool) {
	if e.Bucket == "" || e.Name == "" {
		return models.RunRequest{}, false
	}
	uri := objstore.Location{Scheme: objstore.SchemeGCS, Bucket: e.Bucket, Key: e.Name}.String()

	if path.Base(e.Name) == zarrMarker {
		store := path.Dir(e.Name)
		if strings.HasSuffix(strings.ToLower(store), ".zarr") {
			return models.RunRequest{
				ZarrURL: objstore.Location{Scheme: objstore.SchemeGCS, Bucket: e.Bucket, Key: store}.String(),
			}, true
		}
		return models.RunRequest{}, false
	}
	if strings.Contains(strings.ToLower(e.Name), ".zarr/") {
		return models.RunRequest{}, false
	}
	switch strings.ToLower(path.Ext(e.Name)) {
	case ".nc", ".nc4":
		return models.RunRequest{NetCDFURL: uri}, true
	}
	return models.RunRequest{}, false
}

// Process runs the pipeline for one object. Failed runs are logged; only
// unexpected errors are returned, so the event is retried for those alone.
func (f *TriggerFunction) Process(ctx context.Context, e models.GCSEvent) error {
	logCtx := f.logger.With("bucket", e.Bucket, "object", e.Name)
	req, ok := RequestForObject(e)
	if !ok {
		logCtx.Info("Object does not start a run, skipping.")
		return nil
	}
	req.CollectionID = f.collectionID
	req.Variables = f.variables

	res, err := f.orch.Run(ctx, req)
	if err != nil {
		code := pipeline.ExitCode(err)
		logCtx.Error("Triggered run failed.", "error", err, "exitCode", code)
		if code == pipeline.ExitUnexpected {
			return fmt.Errorf("pipeline run for gs://%s/%s: %w", e.Bucket, e.Name, err)
		}
		return nil
	}
	logCtx.Info("Triggered run finished.", "runId", res.RunID, "artifacts", len(res.Artifacts))
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
