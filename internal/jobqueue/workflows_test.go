package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

type fakeExecutions struct {
	created   []*executionspb.CreateExecutionRequest
	createErr error
	execution *executionspb.Execution
	getErr    error
}

func (f *fakeExecutions) CreateExecution(_ context.Context, req *executionspb.CreateExecutionRequest, _ ...gax.CallOption) (*executionspb.Execution, error) {
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &executionspb.Execution{Name: req.GetParent() + "/executions/abc"}, nil
}

func (f *fakeExecutions) GetExecution(_ context.Context, _ *executionspb.GetExecutionRequest, _ ...gax.CallOption) (*executionspb.Execution, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.execution, nil
}

func newTestWorkflowsClient(api executionsAPI) *WorkflowsClient {
	return NewWorkflowsClient(api, WorkflowsConfig{
		ProjectID: "proj",
		Location:  "us-central1",
		Queue:     "maap-dps-worker-16gb",
		Workflows: map[models.JobKind]string{models.JobKindNetCDFToZarr: "netcdf-to-zarr"},
	}, nil)
}

func TestWorkflowsSubmit(t *testing.T) {
	api := &fakeExecutions{}
	client := newTestWorkflowsClient(api)

	h, err := client.Submit(context.Background(), models.JobKindNetCDFToZarr, map[string]string{"input": "s3://b/g.nc4"})
	require.NoError(t, err)
	assert.Equal(t, models.JobKindNetCDFToZarr, h.Kind)
	assert.Equal(t, "projects/proj/locations/us-central1/workflows/netcdf-to-zarr/executions/abc", h.ID)

	require.Len(t, api.created, 1)
	var argument map[string]string
	require.NoError(t, json.Unmarshal([]byte(api.created[0].GetExecution().GetArgument()), &argument))
	assert.Equal(t, "s3://b/g.nc4", argument["input"])
	assert.Equal(t, "maap-dps-worker-16gb", argument["queue"])
}

func TestWorkflowsSubmitErrors(t *testing.T) {
	var subErr *SubmissionError

	_, err := newTestWorkflowsClient(&fakeExecutions{}).Submit(context.Background(), models.JobKindZarrToCOG, nil)
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, models.JobKindZarrToCOG, subErr.Kind)

	api := &fakeExecutions{createErr: status.Error(codes.PermissionDenied, "denied")}
	_, err = newTestWorkflowsClient(api).Submit(context.Background(), models.JobKindNetCDFToZarr, nil)
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, codes.PermissionDenied, status.Code(errors.Unwrap(err)))
}

func TestWorkflowsPoll(t *testing.T) {
	tests := []struct {
		name      string
		execution *executionspb.Execution
		getErr    error
		want      models.JobStatus
		transient bool
	}{
		{name: "queued", execution: &executionspb.Execution{State: executionspb.Execution_QUEUED}, want: models.JobStatusAccepted},
		{name: "active", execution: &executionspb.Execution{State: executionspb.Execution_ACTIVE}, want: models.JobStatusRunning},
		{name: "succeeded", execution: &executionspb.Execution{State: executionspb.Execution_SUCCEEDED}, want: models.JobStatusSucceeded},
		{name: "failed", execution: &executionspb.Execution{State: executionspb.Execution_FAILED, Error: &executionspb.Execution_Error{Payload: "boom"}}, want: models.JobStatusFailed},
		{name: "cancelled", execution: &executionspb.Execution{State: executionspb.Execution_CANCELLED}, want: models.JobStatusFailed},
		{name: "not found", getErr: status.Error(codes.NotFound, "gone"), want: models.JobStatusUnknown},
		{name: "unavailable", getErr: status.Error(codes.Unavailable, "blip"), transient: true},
		{name: "deadline", getErr: status.Error(codes.DeadlineExceeded, "slow"), transient: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestWorkflowsClient(&fakeExecutions{execution: tt.execution, getErr: tt.getErr})
			got, err := client.Poll(context.Background(), Handle{ID: "exec"})
			if tt.transient {
				var transient *TransientPollError
				assert.ErrorAs(t, err, &transient)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseResultLocation(t *testing.T) {
	got, err := parseResultLocation(`{"output": "s3://b/out/"}`)
	require.NoError(t, err)
	assert.Equal(t, "s3://b/out/", got)

	got, err = parseResultLocation(`"gs://b/out/"`)
	require.NoError(t, err)
	assert.Equal(t, "gs://b/out/", got)

	_, err = parseResultLocation("")
	assert.Error(t, err)
	_, err = parseResultLocation(`{"other": 1}`)
	assert.Error(t, err)
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "granuleflow_netcdf_to_zarr_6789012345", Identifier(models.JobKindNetCDFToZarr, "s3://b/0123456789012345"))
	assert.Equal(t, "granuleflow_stage_granule_G123", Identifier(models.JobKindStageGranule, "G123"))
}
