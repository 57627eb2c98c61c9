// Package services wires configured cloud clients into the pipeline and
// exposes the Cloud Functions entrypoints.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/granuleflow/internal/apiclient"
	"github.com/Lllllllleong/granuleflow/internal/catalog"
	"github.com/Lllllllleong/granuleflow/internal/config"
	"github.com/Lllllllleong/granuleflow/internal/gcp"
	"github.com/Lllllllleong/granuleflow/internal/jobqueue"
	"github.com/Lllllllleong/granuleflow/internal/notify"
	"github.com/Lllllllleong/granuleflow/internal/objstore"
	"github.com/Lllllllleong/granuleflow/internal/pipeline"
	"github.com/Lllllllleong/granuleflow/internal/runstore"
)

// ConfigFileEnv names the environment variable holding the optional YAML
// config file path.
const ConfigFileEnv = "PIPELINE_CONFIG"

// LoadConfig reads the deployment configuration from the file named by
// PIPELINE_CONFIG, if any, and the environment.
func LoadConfig() (*config.Config, error) {
	return config.Load(gcp.GetEnv(ConfigFileEnv, ""))
}

// NewLogger builds the process logger. Format is "json" or "text".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Backends owns the clients behind one Orchestrator.
type Backends struct {
	Orchestrator *pipeline.Orchestrator

	closers []func() error
}

// NewBackends creates the storage, job queue, catalog, notification and run
// record clients cfg selects and builds an Orchestrator on them.
func NewBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}
	fail := func(err error) (*Backends, error) {
		_ = b.Close()
		return nil, err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to create Storage client: %w", err))
	}
	b.closers = append(b.closers, storageClient.Close)

	s3Store, err := objstore.NewS3Store(objstore.S3Config{
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Region:          cfg.S3Region,
		UseSSL:          cfg.S3UseSSL,
	})
	if err != nil {
		return fail(err)
	}
	store := objstore.NewMux()
	store.Handle(objstore.SchemeGCS, objstore.NewGCSStore(storageClient))
	store.Handle(objstore.SchemeS3, s3Store)

	var fsClient *firestore.Client
	if cfg.CatalogBackend == config.CatalogBackendFirestore || cfg.RunsCollection != "" {
		fsClient, err = gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, fsClient.Close)
	}

	jobs, err := b.newJobQueue(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}

	var cat catalog.Service
	switch cfg.CatalogBackend {
	case config.CatalogBackendFirestore:
		cat = catalog.NewFirestoreService(fsClient, cfg.CatalogCollections, cfg.CatalogItems)
	default:
		cat, err = catalog.NewSTACService(apiclient.New(apiclient.Config{
			BaseURL: cfg.STACHost,
			Token:   cfg.STACToken,
		}))
		if err != nil {
			return fail(err)
		}
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotifyHost != "" {
		n, err := notify.NewCloudEventsNotifier(cfg.NotifyHost, logger)
		if err != nil {
			return fail(err)
		}
		notifier = n
	}

	var runs runstore.Store = runstore.Nop{}
	if cfg.RunsCollection != "" {
		runs = runstore.NewFirestoreStore(fsClient, cfg.RunsCollection)
	}

	b.Orchestrator = pipeline.New(cfg, pipeline.Deps{
		Jobs:     jobs,
		Storage:  store,
		Catalog:  cat,
		Notifier: notifier,
		Runs:     runs,
		Logger:   logger,
	})
	logger.Info("Pipeline backends initialized.",
		"jobBackend", cfg.JobBackend,
		"catalogBackend", cfg.CatalogBackend,
		"runRecords", cfg.RunsCollection != "",
	)
	return b, nil
}

func (b *Backends) newJobQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (jobqueue.Client, error) {
	switch cfg.JobBackend {
	case config.JobBackendHTTP:
		api := apiclient.New(apiclient.Config{
			BaseURL:   cfg.JobAPIHost,
			Token:     cfg.JobAPIToken,
			RateLimit: cfg.JobAPIRateLimit,
		})
		return jobqueue.NewHTTPClient(api, jobqueue.HTTPConfig{
			Queue:      cfg.JobQueue,
			Algorithms: cfg.JobTargets,
		}, logger), nil
	default:
		execClient, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, execClient.Close)
		return jobqueue.NewWorkflowsClient(execClient, jobqueue.WorkflowsConfig{
			ProjectID: cfg.ProjectID,
			Location:  cfg.WorkflowLocation,
			Queue:     cfg.JobQueue,
			Workflows: cfg.JobTargets,
		}, logger), nil
	}
}

// Close releases every client. It is safe to call on a partially built value.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// newFromEnv loads configuration and backends for a Cloud Function instance.
func newFromEnv(ctx context.Context) (*Backends, *slog.Logger, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	backends, err := NewBackends(ctx, *cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return backends, logger, nil
}
