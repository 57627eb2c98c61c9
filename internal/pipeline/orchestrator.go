// Package pipeline runs one input through staging, conversion,
// concatenation, rasterization and cataloging, submitting every stage as a
// remote job and waiting for it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/granuleflow/internal/catalog"
	"github.com/Lllllllleong/granuleflow/internal/config"
	"github.com/Lllllllleong/granuleflow/internal/jobqueue"
	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/monitor"
	"github.com/Lllllllleong/granuleflow/internal/notify"
	"github.com/Lllllllleong/granuleflow/internal/objstore"
	"github.com/Lllllllleong/granuleflow/internal/runstore"
)

// Deps are the collaborators of an Orchestrator. Jobs, Storage and Catalog
// are required.
type Deps struct {
	Jobs     jobqueue.Client
	Storage  objstore.Store
	Catalog  catalog.Service
	Notifier notify.Notifier
	Runs     runstore.Store
	Logger   *slog.Logger
	Clock    monitor.Clock
	NewRunID func() string
}

// Orchestrator drives pipeline runs. It holds no per-run state and may run
// several inputs concurrently.
type Orchestrator struct {
	cfg      config.Config
	jobs     jobqueue.Client
	storage  objstore.Store
	catalog  catalog.Service
	notifier notify.Notifier
	runs     runstore.Store
	logger   *slog.Logger
	clock    monitor.Clock
	newRunID func() string
}

func New(cfg config.Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		jobs:     deps.Jobs,
		storage:  deps.Storage,
		catalog:  deps.Catalog,
		notifier: deps.Notifier,
		runs:     deps.Runs,
		logger:   deps.Logger,
		clock:    deps.Clock,
		newRunID: deps.NewRunID,
	}
	if o.notifier == nil {
		o.notifier = notify.Nop{}
	}
	if o.runs == nil {
		o.runs = runstore.Nop{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}
	if o.cfg.FanOutLimit <= 0 {
		o.cfg.FanOutLimit = 16
	}
	return o
}

// run is the state of one pipeline run.
type run struct {
	id          string
	req         models.RunRequest
	input       Input
	plan        Plan
	variables   []string
	maxWait     time.Duration
	maxBackoff  time.Duration
	startedAt   time.Time
	logCtx      *slog.Logger
	monitor     *monitor.Monitor
	reconciler  *catalog.Reconciler
	coordinates models.Coordinates

	jobsMu sync.Mutex
	jobs   map[string]models.Job
}

// Run executes one pipeline run to DONE or FAILED. Every failure is returned
// as an error ExitCode can classify; stage failures are *StageError.
func (o *Orchestrator) Run(ctx context.Context, req models.RunRequest) (*models.RunResult, error) {
	r := &run{
		id:        o.newRunID(),
		req:       req,
		startedAt: time.Now().UTC(),
		jobs:      make(map[string]models.Job),
	}
	r.logCtx = o.logger.With("runId", r.id)
	r.logCtx.Info("Pipeline run starting.", "granuleId", req.GranuleID, "collectionId", req.CollectionID)

	record := models.RunRecord{
		RunID:        r.id,
		GranuleID:    req.GranuleID,
		CollectionID: req.CollectionID,
		InputURL:     firstNonEmpty(req.NetCDFURL, req.ZarrURL, req.InputURL),
		State:        models.StateClassifying,
	}
	if err := o.runs.Create(ctx, record); err != nil {
		r.logCtx.Warn("Failed to create run record, continuing without it.", "error", err)
	}

	if err := o.classify(ctx, r); err != nil {
		return nil, o.fail(ctx, r, models.StateClassifying, err)
	}

	zarrs, err := o.produceZarrs(ctx, r)
	if err != nil {
		return nil, err
	}

	o.transition(ctx, r, models.StateRasterizing, string(models.JobKindZarrToCOG))
	cogs, err := o.rasterize(ctx, r, zarrs)
	if err != nil {
		return nil, o.fail(ctx, r, models.StateRasterizing, err)
	}

	o.transition(ctx, r, models.StateCataloging, "")
	artifacts, err := o.catalogArtifacts(ctx, r, cogs)
	if err != nil {
		return nil, o.fail(ctx, r, models.StateCataloging, err)
	}

	o.transition(ctx, r, models.StateDone, "")
	r.logCtx.Info("Pipeline run finished.", "artifacts", len(artifacts), "elapsed", time.Since(r.startedAt))
	return &models.RunResult{RunID: r.id, State: models.StateDone, Artifacts: artifacts}, nil
}

func (o *Orchestrator) classify(ctx context.Context, r *run) error {
	in, err := Classify(r.req)
	if err != nil {
		return err
	}
	r.input = in
	r.plan = BuildPlan(in, r.req.EnableConcat)
	r.variables = Variables(r.req.Variables)

	r.maxWait, err = durationOverride(r.req.MaxWait, o.cfg.MaxWait, "max wait")
	if err != nil {
		return err
	}
	r.maxBackoff, err = durationOverride(r.req.MaxBackoff, o.cfg.MaxBackoff, "max backoff")
	if err != nil {
		return err
	}

	opts := []monitor.Option{
		monitor.WithLogger(r.logCtx),
		monitor.WithInitialBackoff(o.cfg.InitialBackoff),
		monitor.WithObserver(func(h jobqueue.Handle, status models.JobStatus) {
			o.observeJob(ctx, r, h, status)
		}),
	}
	if o.clock != nil {
		opts = append(opts, monitor.WithClock(o.clock))
	}
	r.monitor = monitor.New(o.jobs, opts...)
	r.reconciler = catalog.NewReconciler(o.catalog, r.logCtx)
	r.coordinates = o.resolveCoordinates(ctx, r)

	r.logCtx.Info("Input classified.",
		"input", fmt.Sprintf("%T", in),
		"source", in.Source(),
		"plan", r.plan.States,
		"variables", r.variables,
	)
	return nil
}

// produceZarrs runs the stages before rasterizing and returns the Zarr stores
// to rasterize.
func (o *Orchestrator) produceZarrs(ctx context.Context, r *run) ([]zarrOutput, error) {
	var netcdfs []string
	switch in := r.input.(type) {
	case ZarrInput:
		r.logCtx.Info("Zarr input, skipping conversion.")
		return []zarrOutput{{URI: in.URL, Variable: WildcardVariable}}, nil
	case NetCDFInput:
		netcdfs = []string{in.URL}
	case GranuleInput:
		o.transition(ctx, r, models.StateStaging, string(models.JobKindStageGranule))
		staged, err := o.stage(ctx, r, in)
		if err != nil {
			return nil, o.fail(ctx, r, models.StateStaging, err)
		}
		netcdfs = staged
	}

	o.transition(ctx, r, models.StateConverting, string(models.JobKindNetCDFToZarr))
	zarrs, err := o.convert(ctx, r, netcdfs)
	if err != nil {
		return nil, o.fail(ctx, r, models.StateConverting, err)
	}

	if !r.plan.Has(models.StateConcatenating) {
		return zarrs, nil
	}
	if len(zarrs) < 2 {
		r.logCtx.Info("Single conversion output, skipping concatenation.")
		return zarrs, nil
	}
	o.transition(ctx, r, models.StateConcatenating, string(models.JobKindZarrConcat))
	concatenated, err := o.concatenate(ctx, r, zarrs)
	if err != nil {
		return nil, o.fail(ctx, r, models.StateConcatenating, err)
	}
	return []zarrOutput{concatenated}, nil
}

func (o *Orchestrator) transition(ctx context.Context, r *run, state models.RunState, stage string) {
	r.logCtx.Info("Entering state.", "state", state, "stage", stage)
	if err := o.runs.UpdateState(ctx, r.id, state, stage, ""); err != nil {
		r.logCtx.Warn("Failed to record run state.", "state", state, "error", err)
	}
	if stage != "" {
		o.notifier.Log(ctx, "INFO", fmt.Sprintf("Started %s for %s (run %s)", stage, r.sourceOrRequest(), r.id))
	}
}

// fail records the FAILED state and returns err unchanged.
func (o *Orchestrator) fail(ctx context.Context, r *run, state models.RunState, err error) error {
	r.logCtx.Error("Pipeline run failed.", "state", state, "error", err, "exitCode", ExitCode(err))
	// The run may have been cancelled; the record still has to say FAILED.
	updateCtx := context.WithoutCancel(ctx)
	if updateErr := o.runs.UpdateState(updateCtx, r.id, models.StateFailed, string(state), err.Error()); updateErr != nil {
		r.logCtx.Error("CRITICAL: Failed to update run record to FAILED after a processing error.", "updateError", updateErr)
	}
	o.notifier.Log(updateCtx, "ERROR", fmt.Sprintf("Run %s failed in %s: %v", r.id, state, err))
	return err
}

func (r *run) sourceOrRequest() string {
	if r.input != nil {
		return r.input.Source()
	}
	return firstNonEmpty(r.req.GranuleID, r.req.NetCDFURL, r.req.ZarrURL, r.req.InputURL)
}

func durationOverride(raw string, fallback time.Duration, name string) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := config.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, &InvalidInputError{Reason: fmt.Sprintf("%s %q is not a positive duration", name, raw)}
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
