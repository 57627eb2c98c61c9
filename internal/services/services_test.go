package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/monitor"
	"github.com/Lllllllleong/granuleflow/internal/pipeline"
)

type stubRunner struct {
	got []models.RunRequest
	res *models.RunResult
	err error
}

func (s *stubRunner) Run(_ context.Context, req models.RunRequest) (*models.RunResult, error) {
	s.got = append(s.got, req)
	return s.res, s.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[int]int{
		pipeline.ExitOK:                 http.StatusOK,
		pipeline.ExitUnexpected:         http.StatusInternalServerError,
		pipeline.ExitJobFailed:          http.StatusBadGateway,
		pipeline.ExitInvalidInput:       http.StatusBadRequest,
		pipeline.ExitSubmissionRejected: http.StatusBadGateway,
		pipeline.ExitJobTimeout:         http.StatusGatewayTimeout,
		pipeline.ExitCatalogError:       http.StatusServiceUnavailable,
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPStatus(code), "exit code %d", code)
	}
}

func TestServeHTTPSuccess(t *testing.T) {
	stub := &stubRunner{res: &models.RunResult{
		RunID: "run-1",
		State: models.StateDone,
		Artifacts: []models.Artifact{{
			COGURI: "s3://out/a_T2M.tif", Variable: "T2M", CollectionID: "M2_T2M", ItemID: "a_T2M-0123456789ab",
		}},
	}}
	f := &PipelineFunction{orch: stub, logger: discard()}

	body := `{"zarrUrl":"s3://in/a_T2M.zarr","collectionId":"M2","variables":["T2M"]}`
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DONE", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 0, resp.ExitCode)
	require.Len(t, resp.Artifacts, 1)

	require.Len(t, stub.got, 1)
	assert.Equal(t, "s3://in/a_T2M.zarr", stub.got[0].ZarrURL)
	assert.Equal(t, []string{"T2M"}, stub.got[0].Variables)
}

func TestServeHTTPFailureMapsExitCode(t *testing.T) {
	stub := &stubRunner{err: &pipeline.StageError{
		Stage: models.StateRasterizing,
		Kind:  models.JobKindZarrToCOG,
		JobID: "job-7",
		Err:   &monitor.JobTimeoutError{JobID: "job-7", Kind: models.JobKindZarrToCOG, LastStatus: models.JobStatusRunning},
	}}
	f := &PipelineFunction{orch: stub, logger: discard()}

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"zarrUrl":"s3://in/a.zarr"}`)))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	var resp models.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "FAILED", resp.Status)
	assert.Equal(t, pipeline.ExitJobTimeout, resp.ExitCode)
	assert.Contains(t, resp.Error, "job-7")
}

func TestServeHTTPRejectsBadRequests(t *testing.T) {
	f := &PipelineFunction{orch: &stubRunner{}, logger: discard()}

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestForObject(t *testing.T) {
	tests := []struct {
		name   string
		event  models.GCSEvent
		want   models.RunRequest
		starts bool
	}{
		{
			name:   "netcdf4",
			event:  models.GCSEvent{Bucket: "landing", Name: "merra/MERRA2_400.tavg1.nc4"},
			want:   models.RunRequest{NetCDFURL: "gs://landing/merra/MERRA2_400.tavg1.nc4"},
			starts: true,
		},
		{
			name:   "netcdf upper case",
			event:  models.GCSEvent{Bucket: "landing", Name: "a/B.NC"},
			want:   models.RunRequest{NetCDFURL: "gs://landing/a/B.NC"},
			starts: true,
		},
		{
			name:   "zarr consolidated metadata",
			event:  models.GCSEvent{Bucket: "landing", Name: "stores/MERRA2_T2M.zarr/.zmetadata"},
			want:   models.RunRequest{ZarrURL: "gs://landing/stores/MERRA2_T2M.zarr"},
			starts: true,
		},
		{name: "zarr chunk", event: models.GCSEvent{Bucket: "landing", Name: "stores/x.zarr/T2M/0.0.0"}},
		{name: "netcdf inside zarr", event: models.GCSEvent{Bucket: "landing", Name: "stores/x.zarr/raw.nc"}},
		{name: "other file", event: models.GCSEvent{Bucket: "landing", Name: "readme.txt"}},
		{name: "empty", event: models.GCSEvent{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RequestForObject(tt.event)
			assert.Equal(t, tt.starts, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriggerProcess(t *testing.T) {
	stub := &stubRunner{res: &models.RunResult{RunID: "run-1", State: models.StateDone}}
	f := &TriggerFunction{orch: stub, logger: discard(), collectionID: "M2", variables: []string{"T2M"}}

	require.NoError(t, f.Process(context.Background(), models.GCSEvent{Bucket: "b", Name: "f.nc"}))
	require.NoError(t, f.Process(context.Background(), models.GCSEvent{Bucket: "b", Name: "notes.md"}))
	require.Len(t, stub.got, 1)
	assert.Equal(t, "M2", stub.got[0].CollectionID)
	assert.Equal(t, []string{"T2M"}, stub.got[0].Variables)
}

func TestTriggerProcessReturnsOnlyUnexpectedErrors(t *testing.T) {
	stub := &stubRunner{err: &pipeline.InvalidInputError{Reason: "bad"}}
	f := &TriggerFunction{orch: stub, logger: discard()}
	assert.NoError(t, f.Process(context.Background(), models.GCSEvent{Bucket: "b", Name: "f.nc"}))

	stub.err = errors.New("boom")
	assert.Error(t, f.Process(context.Background(), models.GCSEvent{Bucket: "b", Name: "f.nc"}))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"T2M", "QV2M"}, splitList(" T2M, ,QV2M "))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "warn", "json").Info("hidden")
	assert.Empty(t, buf.String())

	NewLogger(&buf, "debug", "text").Debug("shown", "k", "v")
	assert.Contains(t, buf.String(), "k=v")
}
