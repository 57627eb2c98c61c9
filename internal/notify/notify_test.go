package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	path      string
	eventType string
	body      map[string]any
}

func newRecorder(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var mu sync.Mutex
	var got []received
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		got = append(got, received{path: r.URL.Path, eventType: r.Header.Get("Ce-Type"), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), got...)
	}
}

func TestCloudEventsNotifier(t *testing.T) {
	server, got := newRecorder(t, http.StatusOK)
	n, err := NewCloudEventsNotifier(server.URL+"/", nil)
	require.NoError(t, err)

	ctx := context.Background()
	n.Log(ctx, "INFO", "Started NETCDF_TO_ZARR for G123")
	n.ProductAvailable(ctx, ProductDetails{
		Collection: "C1-MAAP_PRECTOT",
		OGC:        "https://stac.example.com/stac/collections/C1-MAAP_PRECTOT/items",
		URIs:       []string{"s3://b/out/series_PRECTOT.tif"},
		JobID:      "run-1",
	})

	events := got()
	require.Len(t, events, 2)

	assert.Equal(t, "/log", events[0].path)
	assert.Equal(t, EventTypeLog, events[0].eventType)
	assert.Equal(t, "INFO", events[0].body["level"])
	assert.Equal(t, "Started NETCDF_TO_ZARR for G123", events[0].body["msg_body"])

	assert.Equal(t, "/product", events[1].path)
	assert.Equal(t, EventTypeProductAvailable, events[1].eventType)
	assert.Equal(t, "run-1", events[1].body["job_id"])
	assert.Equal(t, "C1-MAAP_PRECTOT", events[1].body["collection"])
	assert.Equal(t, "https://stac.example.com/stac/collections/C1-MAAP_PRECTOT/items", events[1].body["ogc"])
	assert.Equal(t, []any{"s3://b/out/series_PRECTOT.tif"}, events[1].body["uris"])
}

func TestCloudEventsNotifierSwallowsFailures(t *testing.T) {
	server, got := newRecorder(t, http.StatusInternalServerError)
	n, err := NewCloudEventsNotifier(server.URL, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		n.Log(context.Background(), "ERROR", "boom")
	})
	assert.Len(t, got(), 1)

	unreachable, err := NewCloudEventsNotifier("http://127.0.0.1:1", nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		unreachable.ProductAvailable(context.Background(), ProductDetails{JobID: "r"})
	})
}
