package runstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Create(ctx, models.RunRecord{RunID: "run-1", GranuleID: "G123", State: models.StateClassifying}))
	assert.Error(t, s.Create(ctx, models.RunRecord{RunID: "run-1"}))

	require.NoError(t, s.UpdateState(ctx, "run-1", models.StateConverting, "NETCDF_TO_ZARR", ""))
	require.NoError(t, s.RecordJob(ctx, "run-1", models.Job{ID: "j1", Kind: models.JobKindNetCDFToZarr, Status: models.JobStatusAccepted}))
	require.NoError(t, s.RecordJob(ctx, "run-1", models.Job{ID: "j1", Kind: models.JobKindNetCDFToZarr, Status: models.JobStatusSucceeded}))
	require.NoError(t, s.RecordJob(ctx, "run-1", models.Job{ID: "j2", Kind: models.JobKindNetCDFToZarr, Status: models.JobStatusRunning}))
	require.NoError(t, s.SetArtifacts(ctx, "run-1", []string{"s3://b/a.tif"}))
	require.NoError(t, s.UpdateState(ctx, "run-1", models.StateFailed, "NETCDF_TO_ZARR", "job j2 failed"))

	rec, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, rec.State)
	assert.Equal(t, "job j2 failed", rec.ErrorDetails)
	require.Len(t, rec.Jobs, 2)
	assert.Equal(t, models.JobStatusSucceeded, rec.Jobs[0].Status)
	assert.Equal(t, []string{"s3://b/a.tif"}, rec.Artifacts)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateState(ctx, "missing", models.StateDone, "", ""), ErrNotFound)
}
