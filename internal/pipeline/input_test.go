package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/granuleflow/internal/catalog"
	"github.com/Lllllllleong/granuleflow/internal/jobqueue"
	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/monitor"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		req  models.RunRequest
		want Input
	}{
		{
			name: "granule",
			req:  models.RunRequest{GranuleID: " G123 ", CollectionID: "C1-MAAP"},
			want: GranuleInput{GranuleID: "G123", CollectionID: "C1-MAAP"},
		},
		{
			name: "netcdf url",
			req:  models.RunRequest{NetCDFURL: "s3://bucket/in/MERRA2_400.nc4"},
			want: NetCDFInput{URL: "s3://bucket/in/MERRA2_400.nc4"},
		},
		{
			name: "zarr url drops trailing slash",
			req:  models.RunRequest{ZarrURL: "gs://bucket/MERRA2_T2M.zarr/", CollectionID: "M2"},
			want: ZarrInput{URL: "gs://bucket/MERRA2_T2M.zarr", CollectionID: "M2"},
		},
		{
			name: "input url netcdf",
			req:  models.RunRequest{InputURL: "s3://bucket/a/file.NC"},
			want: NetCDFInput{URL: "s3://bucket/a/file.NC"},
		},
		{
			name: "input url zarr",
			req:  models.RunRequest{InputURL: "s3://bucket/a/store.zarr/"},
			want: ZarrInput{URL: "s3://bucket/a/store.zarr"},
		},
		{
			name: "https s3 url is normalized",
			req:  models.RunRequest{InputURL: "https://bucket.s3.amazonaws.com/a/file.nc"},
			want: NetCDFInput{URL: "s3://bucket/a/file.nc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyInvalid(t *testing.T) {
	tests := []struct {
		name string
		req  models.RunRequest
	}{
		{"nothing set", models.RunRequest{}},
		{"blank fields", models.RunRequest{GranuleID: "  ", InputURL: " "}},
		{"two inputs", models.RunRequest{GranuleID: "G1", CollectionID: "C1", NetCDFURL: "s3://b/f.nc"}},
		{"granule without collection", models.RunRequest{GranuleID: "G1"}},
		{"unsupported extension", models.RunRequest{InputURL: "s3://b/file.h5"}},
		{"no extension", models.RunRequest{InputURL: "s3://b/file"}},
		{"not a storage url", models.RunRequest{NetCDFURL: "/local/file.nc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.req)
			var invalid *InvalidInputError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, ExitInvalidInput, ExitCode(err))
		})
	}
}

func TestBaseCollection(t *testing.T) {
	assert.Equal(t, "C1", GranuleInput{GranuleID: "G", CollectionID: "C1"}.BaseCollection())
	assert.Equal(t, "MERRA2_400", NetCDFInput{URL: "s3://b/MERRA2_400.nc4"}.BaseCollection())
	assert.Equal(t, "override", NetCDFInput{URL: "s3://b/x.nc", CollectionID: "override"}.BaseCollection())
	assert.Equal(t, "store", ZarrInput{URL: "s3://b/store.zarr"}.BaseCollection())
}

func TestBuildPlan(t *testing.T) {
	tests := []struct {
		name   string
		in     Input
		concat bool
		want   []models.RunState
	}{
		{
			name: "granule",
			in:   GranuleInput{GranuleID: "G", CollectionID: "C"},
			want: []models.RunState{models.StateClassifying, models.StateStaging, models.StateConverting,
				models.StateRasterizing, models.StateCataloging, models.StateDone},
		},
		{
			name:   "netcdf with concat",
			in:     NetCDFInput{URL: "s3://b/f.nc"},
			concat: true,
			want: []models.RunState{models.StateClassifying, models.StateConverting, models.StateConcatenating,
				models.StateRasterizing, models.StateCataloging, models.StateDone},
		},
		{
			name:   "zarr ignores concat",
			in:     ZarrInput{URL: "s3://b/s.zarr"},
			concat: true,
			want:   []models.RunState{models.StateClassifying, models.StateRasterizing, models.StateCataloging, models.StateDone},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := BuildPlan(tt.in, tt.concat)
			assert.Equal(t, tt.want, plan.States)
		})
	}
}

func TestVariables(t *testing.T) {
	assert.Equal(t, []string{WildcardVariable}, Variables(nil))
	assert.Equal(t, []string{WildcardVariable}, Variables([]string{" ", ""}))
	assert.Equal(t, []string{WildcardVariable}, Variables([]string{"T2M", "*"}))
	assert.Equal(t, []string{"PRECTOT", "PRECCON"}, Variables([]string{"PRECTOT", " PRECCON ", "PRECTOT"}))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitUnexpected},
		{"invalid", &InvalidInputError{Reason: "x"}, ExitInvalidInput},
		{"submission", &StageError{Err: &jobqueue.SubmissionError{Kind: models.JobKindZarrToCOG, Reason: "quota"}}, ExitSubmissionRejected},
		{"failed", &StageError{Err: &monitor.JobFailedError{JobID: "j"}}, ExitJobFailed},
		{"missing output", &StageError{Err: &MissingOutputError{JobID: "j"}}, ExitJobFailed},
		{"timeout", fmt.Errorf("wrapped: %w", &monitor.JobTimeoutError{JobID: "j"}), ExitJobTimeout},
		{"catalog unavailable", &StageError{Err: &catalog.CatalogUnavailableError{Op: "put-item", Err: errors.New("503")}}, ExitCatalogError},
		{"duplicate item", &catalog.DuplicateItemError{CollectionID: "c", ItemID: "i"}, ExitCatalogError},
		{"invalid item", &catalog.InvalidItemError{ItemID: "i", Err: errors.New("bad")}, ExitCatalogError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{
		Stage:    models.StateConverting,
		Kind:     models.JobKindNetCDFToZarr,
		Variable: "PRECCON",
		JobID:    "job-3",
		Err:      errors.New("boom"),
	}
	assert.Equal(t, "stage CONVERTING (NETCDF_TO_ZARR, job job-3, variable PRECCON): boom", err.Error())
}
