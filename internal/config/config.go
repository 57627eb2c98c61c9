// Package config holds the explicit configuration value handed to the
// pipeline at construction. Nothing below internal/services reads the
// process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/granuleflow/internal/gcp"
	"github.com/Lllllllleong/granuleflow/internal/models"
)

const (
	JobBackendWorkflows = "workflows"
	JobBackendHTTP      = "http"

	CatalogBackendSTAC      = "stac"
	CatalogBackendFirestore = "firestore"
)

// Config holds every setting of a pipeline deployment.
type Config struct {
	JobBackend       string                    `yaml:"jobBackend"`
	JobQueue         string                    `yaml:"jobQueue"`
	ProjectID        string                    `yaml:"projectId"`
	WorkflowLocation string                    `yaml:"workflowLocation"`
	JobTargets       map[models.JobKind]string `yaml:"jobTargets"`
	JobAPIHost       string                    `yaml:"jobApiHost"`
	JobAPIToken      string                    `yaml:"jobApiToken"`
	JobAPIRateLimit  float64                   `yaml:"jobApiRateLimit"`

	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	MaxWait        time.Duration `yaml:"maxWait"`
	FanOutLimit    int           `yaml:"fanOutLimit"`

	CatalogBackend       string `yaml:"catalogBackend"`
	STACHost             string `yaml:"stacHost"`
	STACToken            string `yaml:"stacToken"`
	CatalogCollections   string `yaml:"catalogCollections"`
	CatalogItems         string `yaml:"catalogItems"`
	CatalogStartDatetime string `yaml:"catalogStartDatetime"`

	S3Endpoint  string `yaml:"s3Endpoint"`
	S3AccessKey string `yaml:"s3AccessKey"`
	S3SecretKey string `yaml:"s3SecretKey"`
	S3Region    string `yaml:"s3Region"`
	S3UseSSL    bool   `yaml:"s3UseSSL"`

	ManifestPrefix  string             `yaml:"manifestPrefix"`
	ZarrConfigURL   string             `yaml:"zarrConfigUrl"`
	ConcatConfigURL string             `yaml:"concatConfigUrl"`
	ConcatDuration  string             `yaml:"concatDuration"`
	Coordinates     models.Coordinates `yaml:"coordinates"`

	NotifyHost     string `yaml:"notifyHost"`
	RunsCollection string `yaml:"runsCollection"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		JobBackend:       JobBackendWorkflows,
		WorkflowLocation: "us-central1",
		JobTargets: map[models.JobKind]string{
			models.JobKindStageGranule: "czdt-iss-ingest",
			models.JobKindNetCDFToZarr: "czdt-netcdf-to-zarr",
			models.JobKindZarrConcat:   "czdt-zarr-concat",
			models.JobKindZarrToCOG:    "czdt-zarr-to-cog",
		},
		JobAPIRateLimit:    5,
		InitialBackoff:     time.Second,
		MaxBackoff:         64 * time.Second,
		MaxWait:            48 * time.Hour,
		FanOutLimit:        16,
		CatalogBackend:     CatalogBackendSTAC,
		CatalogCollections: "catalog_collections",
		CatalogItems:       "catalog_items",
		S3Region:           "us-west-2",
		S3UseSSL:           true,
		ConcatDuration:     "P5D",
		Coordinates: models.Coordinates{
			Time:      "time",
			Latitude:  "lat",
			Longitude: "lon",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and finally environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.JobBackend = gcp.GetEnv("JOB_BACKEND", c.JobBackend)
	c.JobQueue = gcp.GetEnv("JOB_QUEUE", c.JobQueue)
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.WorkflowLocation = gcp.GetEnv("WORKFLOW_LOCATION", c.WorkflowLocation)
	if c.JobTargets == nil {
		c.JobTargets = map[models.JobKind]string{}
	}
	for _, kind := range []models.JobKind{models.JobKindStageGranule, models.JobKindNetCDFToZarr, models.JobKindZarrConcat, models.JobKindZarrToCOG} {
		c.JobTargets[kind] = gcp.GetEnv("JOB_TARGET_"+string(kind), c.JobTargets[kind])
	}
	c.JobAPIHost = gcp.GetEnv("JOB_API_HOST", c.JobAPIHost)
	c.JobAPIToken = gcp.GetEnv("JOB_API_TOKEN", c.JobAPIToken)

	c.CatalogBackend = gcp.GetEnv("CATALOG_BACKEND", c.CatalogBackend)
	c.STACHost = gcp.GetEnv("STAC_HOST", c.STACHost)
	c.STACToken = gcp.GetEnv("STAC_TOKEN", c.STACToken)
	c.CatalogCollections = gcp.GetEnv("CATALOG_COLLECTIONS", c.CatalogCollections)
	c.CatalogItems = gcp.GetEnv("CATALOG_ITEMS", c.CatalogItems)
	c.CatalogStartDatetime = gcp.GetEnv("CATALOG_START_DATETIME", c.CatalogStartDatetime)

	c.S3Endpoint = gcp.GetEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = gcp.GetEnv("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = gcp.GetEnv("S3_SECRET_KEY", c.S3SecretKey)
	c.S3Region = gcp.GetEnv("S3_REGION", c.S3Region)

	c.ManifestPrefix = gcp.GetEnv("MANIFEST_PREFIX", c.ManifestPrefix)
	c.ZarrConfigURL = gcp.GetEnv("ZARR_CONFIG_URL", c.ZarrConfigURL)
	c.ConcatConfigURL = gcp.GetEnv("CONCAT_CONFIG_URL", c.ConcatConfigURL)
	c.ConcatDuration = gcp.GetEnv("CONCAT_DURATION", c.ConcatDuration)
	c.Coordinates.Time = gcp.GetEnv("COORD_TIME", c.Coordinates.Time)
	c.Coordinates.Latitude = gcp.GetEnv("COORD_LATITUDE", c.Coordinates.Latitude)
	c.Coordinates.Longitude = gcp.GetEnv("COORD_LONGITUDE", c.Coordinates.Longitude)

	c.NotifyHost = gcp.GetEnv("NOTIFY_HOST", c.NotifyHost)
	c.RunsCollection = gcp.GetEnv("RUNS_COLLECTION", c.RunsCollection)
	c.LogLevel = gcp.GetEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = gcp.GetEnv("LOG_FORMAT", c.LogFormat)

	var err error
	if c.InitialBackoff, err = envDuration("INITIAL_BACKOFF", c.InitialBackoff); err != nil {
		return err
	}
	if c.MaxBackoff, err = envDuration("MAX_BACKOFF", c.MaxBackoff); err != nil {
		return err
	}
	if c.MaxWait, err = envDuration("MAX_WAIT", c.MaxWait); err != nil {
		return err
	}
	if v := gcp.GetEnv("FAN_OUT_LIMIT", ""); v != "" {
		if c.FanOutLimit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("FAN_OUT_LIMIT: %w", err)
		}
	}
	if v := gcp.GetEnv("JOB_API_RATE_LIMIT", ""); v != "" {
		if c.JobAPIRateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("JOB_API_RATE_LIMIT: %w", err)
		}
	}
	if v := gcp.GetEnv("S3_USE_SSL", ""); v != "" {
		if c.S3UseSSL, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("S3_USE_SSL: %w", err)
		}
	}
	return nil
}

// Validate checks the configuration for settings the pipeline cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.InitialBackoff <= 0 {
		errs = append(errs, errors.New("initialBackoff must be positive"))
	}
	if c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, errors.New("maxBackoff must not be smaller than initialBackoff"))
	}
	if c.MaxWait <= 0 {
		errs = append(errs, errors.New("maxWait must be positive"))
	}
	switch c.JobBackend {
	case JobBackendWorkflows:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("PROJECT_ID must be set for the workflows job backend"))
		}
	case JobBackendHTTP:
		if c.JobAPIHost == "" {
			errs = append(errs, errors.New("JOB_API_HOST must be set for the http job backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown job backend %q", c.JobBackend))
	}
	switch c.CatalogBackend {
	case CatalogBackendSTAC:
		if c.STACHost == "" {
			errs = append(errs, errors.New("STAC_HOST must be set for the stac catalog backend"))
		}
	case CatalogBackendFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("PROJECT_ID must be set for the firestore catalog backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown catalog backend %q", c.CatalogBackend))
	}
	if c.RunsCollection != "" && c.ProjectID == "" {
		errs = append(errs, errors.New("PROJECT_ID must be set when RUNS_COLLECTION is set"))
	}
	return errors.Join(errs...)
}

// ParseDuration accepts a Go duration string or a plain number of seconds.
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := gcp.GetEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
