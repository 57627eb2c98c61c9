package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeFile(t, `
jobBackend: http
jobApiHost: https://jobs.example.com
jobQueue: maap-dps-worker-8gb
catalogBackend: stac
stacHost: https://stac.example.com
maxBackoff: 2m
coordinates:
  time: valid_time
jobTargets:
  ZARR_TO_COG: zarr-to-cog-v2
`)
	t.Setenv("MAX_WAIT", "3600")
	t.Setenv("FAN_OUT_LIMIT", "4")
	t.Setenv("COORD_LATITUDE", "latitude")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, JobBackendHTTP, cfg.JobBackend)
	assert.Equal(t, "maap-dps-worker-8gb", cfg.JobQueue)
	assert.Equal(t, 2*time.Minute, cfg.MaxBackoff)
	assert.Equal(t, time.Hour, cfg.MaxWait)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 4, cfg.FanOutLimit)
	assert.Equal(t, models.Coordinates{Time: "valid_time", Latitude: "latitude", Longitude: "lon"}, cfg.Coordinates)
	assert.Equal(t, "zarr-to-cog-v2", cfg.JobTargets[models.JobKindZarrToCOG])
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("PROJECT_ID", "granuleflow-prod")
	t.Setenv("STAC_HOST", "https://stac.example.com")
	t.Setenv("JOB_TARGET_NETCDF_TO_ZARR", "nc2zarr")
	t.Setenv("MAX_BACKOFF", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, JobBackendWorkflows, cfg.JobBackend)
	assert.Equal(t, "nc2zarr", cfg.JobTargets[models.JobKindNetCDFToZarr])
	assert.Equal(t, "czdt-zarr-to-cog", cfg.JobTargets[models.JobKindZarrToCOG])
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "jobBackend: [unclosed"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})
	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("MAX_WAIT", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "MAX_WAIT")
	})
	t.Run("bad env integer", func(t *testing.T) {
		t.Setenv("FAN_OUT_LIMIT", "many")
		_, err := Load("")
		assert.ErrorContains(t, err, "FAN_OUT_LIMIT")
	})
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.ProjectID = "p"
	valid.STACHost = "https://stac.example.com"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no project for workflows", func(c *Config) { c.ProjectID = "" }, "PROJECT_ID"},
		{"unknown job backend", func(c *Config) { c.JobBackend = "batch" }, "unknown job backend"},
		{"http without host", func(c *Config) { c.JobBackend = JobBackendHTTP }, "JOB_API_HOST"},
		{"stac without host", func(c *Config) { c.STACHost = "" }, "STAC_HOST"},
		{"unknown catalog", func(c *Config) { c.CatalogBackend = "solr" }, "unknown catalog backend"},
		{"zero wait", func(c *Config) { c.MaxWait = 0 }, "maxWait"},
		{"backoff inverted", func(c *Config) { c.MaxBackoff = time.Millisecond }, "maxBackoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("90")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = ParseDuration(" 1h30m ")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = ParseDuration("later")
	assert.Error(t, err)
}
