package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/granuleflow/internal/jobqueue"
	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/pipeline"
)

func TestParse(t *testing.T) {
	opts, err := Parse([]string{
		"-granule-id", "G123",
		"-collection-id", "C1-MAAP",
		"-variables", "PRECTOT, PRECCON",
		"-variables", "T2M",
		"-concat",
		"-max-wait", "2h",
		"-lat-coord", "latitude",
		"-log-format", "text",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, models.RunRequest{
		GranuleID:    "G123",
		CollectionID: "C1-MAAP",
		Variables:    []string{"PRECTOT", "PRECCON", "T2M"},
		EnableConcat: true,
		MaxWait:      "2h",
		Coordinates:  models.Coordinates{Latitude: "latitude"},
	}, opts.Request)
	assert.Equal(t, "text", opts.LogFormat)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]string{"-no-such-flag"}, io.Discard)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, pipeline.ExitInvalidInput, exitErr.Code)

	_, err = Parse([]string{"-zarr-url", "s3://b/a.zarr", "extra"}, io.Discard)
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, pipeline.ExitInvalidInput, exitErr.Code)

	_, err = Parse([]string{"-h"}, io.Discard)
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, pipeline.ExitOK, exitErr.Code)
}

type stubRunner struct {
	res *models.RunResult
	err error
}

func (s stubRunner) Run(context.Context, models.RunRequest) (*models.RunResult, error) {
	return s.res, s.err
}

func TestExecute(t *testing.T) {
	var out bytes.Buffer
	res := &models.RunResult{RunID: "run-1", State: models.StateDone}
	require.NoError(t, execute(context.Background(), stubRunner{res: res}, models.RunRequest{}, &out))

	var got models.RunResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)

	err := execute(context.Background(), stubRunner{err: &pipeline.StageError{
		Stage: models.StateConverting,
		Err:   &jobqueue.SubmissionError{Kind: models.JobKindNetCDFToZarr, Reason: "HTTP 400"},
	}}, models.RunRequest{}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, pipeline.ExitSubmissionRejected, exitErr.Code)
	assert.Contains(t, exitErr.Message, "HTTP 400")
}
