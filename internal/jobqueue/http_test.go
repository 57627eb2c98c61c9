package jobqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/granuleflow/internal/apiclient"
	"github.com/Lllllllleong/granuleflow/internal/models"
)

func newTestHTTPClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	api := apiclient.New(apiclient.Config{BaseURL: server.URL, Token: "secret", RateLimit: 1000, RateBurst: 10})
	return NewHTTPClient(api, HTTPConfig{
		Queue:      "q",
		Algorithms: map[models.JobKind]string{models.JobKindZarrToCOG: "CZDT_ZARR_TO_COG"},
	}, nil)
}

func TestHTTPSubmit(t *testing.T) {
	var got submitJobRequest
	client := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/dps/job", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"job_id": "job-1", "status": "Accepted"}`))
	})

	h, err := client.Submit(context.Background(), models.JobKindZarrToCOG, map[string]string{
		"zarr":          "s3://b/a.zarr/",
		ParamIdentifier: "granuleflow_zarr_to_cog_a.zarr",
	})
	require.NoError(t, err)
	assert.Equal(t, Handle{ID: "job-1", Kind: models.JobKindZarrToCOG}, h)
	assert.Equal(t, "CZDT_ZARR_TO_COG", got.AlgorithmID)
	assert.Equal(t, "master", got.Version)
	assert.Equal(t, "q", got.Queue)
	assert.Equal(t, "granuleflow_zarr_to_cog_a.zarr", got.Identifier)
	assert.Equal(t, map[string]string{"zarr": "s3://b/a.zarr/"}, got.Params)
}

func TestHTTPSubmitRejected(t *testing.T) {
	client := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "bad params"}`, http.StatusBadRequest)
	})

	_, err := client.Submit(context.Background(), models.JobKindZarrToCOG, nil)
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	var statusErr *apiclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
}

func TestHTTPPoll(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		body      string
		want      models.JobStatus
		transient bool
	}{
		{name: "accepted", code: 200, body: `{"status": "Accepted"}`, want: models.JobStatusAccepted},
		{name: "running", code: 200, body: `{"status": "Running"}`, want: models.JobStatusRunning},
		{name: "succeeded", code: 200, body: `{"status": "Succeeded"}`, want: models.JobStatusSucceeded},
		{name: "failed", code: 200, body: `{"status": "Failed"}`, want: models.JobStatusFailed},
		{name: "revoked", code: 200, body: `{"status": "Revoked"}`, want: models.JobStatusFailed},
		{name: "unrecognized", code: 200, body: `{"status": "Offline"}`, want: models.JobStatusRunning},
		{name: "missing", code: 404, body: `{}`, want: models.JobStatusUnknown},
		{name: "server error", code: 503, body: `busy`, transient: true},
		{name: "garbled", code: 200, body: `<html>`, transient: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/dps/job/job-1/status", r.URL.Path)
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})
			got, err := client.Poll(context.Background(), Handle{ID: "job-1"})
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

func TestHTTPResult(t *testing.T) {
	client := newTestHTTPClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/dps/job/job-1/result", r.URL.Path)
		_, _ = w.Write([]byte(`{"outputs": ["https://example.com/job-1", "s3://s3-us-west-2.amazonaws.com:80/bucket/out/job-1"]}`))
	})

	got, err := client.Result(context.Background(), Handle{ID: "job-1"})
	require.NoError(t, err)
	assert.Equal(t, "s3://s3-us-west-2.amazonaws.com:80/bucket/out/job-1", got)
}
