package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/granuleflow/internal/jobqueue"
	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/objstore"
	"github.com/Lllllllleong/granuleflow/internal/variable"
)

const (
	extNC4  = ".nc4"
	extNC   = ".nc"
	extZarr = ".zarr"
	extTIF  = ".tif"
	extJSON = ".json"
)

type zarrOutput struct {
	URI      string
	Variable string
}

type cogOutput struct {
	URI       string
	ZarrURI   string
	Variable  string
	Footprint models.Footprint
}

// stageJob is one job of a stage: its kind, parameters, and the variable it
// works on, if any.
type stageJob struct {
	kind     models.JobKind
	params   map[string]string
	variable string
	source   string
}

// runJob submits one job, waits for it and returns its id and output
// location.
func (o *Orchestrator) runJob(ctx context.Context, r *run, state models.RunState, sj stageJob) (string, string, error) {
	params := make(map[string]string, len(sj.params)+2)
	for k, v := range sj.params {
		params[k] = v
	}
	params[jobqueue.ParamIdentifier] = jobqueue.Identifier(sj.kind, sj.source)
	if r.req.RoleRef != "" {
		params["role_ref"] = r.req.RoleRef
	}

	stageErr := func(jobID string, err error) error {
		return &StageError{Stage: state, Kind: sj.kind, Variable: sj.variable, JobID: jobID, Err: err}
	}

	h, err := o.jobs.Submit(ctx, sj.kind, params)
	if err != nil {
		return "", "", stageErr("", err)
	}
	logCtx := r.logCtx.With("jobId", h.ID, "kind", sj.kind, "variable", sj.variable)
	logCtx.Info("Job submitted.")

	job := models.Job{
		ID:          h.ID,
		Kind:        sj.kind,
		Variable:    sj.variable,
		Params:      params,
		Status:      models.JobStatusAccepted,
		SubmittedAt: time.Now().UTC(),
	}
	r.trackJob(job)
	o.recordJob(ctx, r, job)

	if _, err := r.monitor.Await(ctx, h, r.maxWait, r.maxBackoff); err != nil {
		return h.ID, "", stageErr(h.ID, err)
	}

	location, err := o.jobs.Result(ctx, h)
	if err != nil {
		return h.ID, "", stageErr(h.ID, fmt.Errorf("failed to get job result: %w", err))
	}
	logCtx.Info("Job outputs available.", "location", location)
	return h.ID, location, nil
}

func (r *run) trackJob(job models.Job) {
	r.jobsMu.Lock()
	defer r.jobsMu.Unlock()
	r.jobs[job.ID] = job
}

// observeJob stores the latest polled status of a tracked job on the run
// record. The monitor calls it on every poll.
func (o *Orchestrator) observeJob(ctx context.Context, r *run, h jobqueue.Handle, status models.JobStatus) {
	r.jobsMu.Lock()
	job, ok := r.jobs[h.ID]
	if ok {
		job.Status = status
		job.LastPolledAt = time.Now().UTC()
		r.jobs[h.ID] = job
	}
	r.jobsMu.Unlock()
	if ok {
		o.recordJob(ctx, r, job)
	}
}

func (o *Orchestrator) recordJob(ctx context.Context, r *run, job models.Job) {
	if err := o.runs.RecordJob(context.WithoutCancel(ctx), r.id, job); err != nil {
		r.logCtx.Warn("Failed to record job.", "jobId", job.ID, "error", err)
	}
}

// listOutputs lists everything under a job's output location.
func (o *Orchestrator) listOutputs(ctx context.Context, location string) ([]string, error) {
	prefix := objstore.NormalizeS3HTTP(location)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return o.storage.List(ctx, prefix)
}

// stage submits the staging job for a granule and returns the NetCDF files it
// produced, preferring .nc4 over .nc.
func (o *Orchestrator) stage(ctx context.Context, r *run, in GranuleInput) ([]string, error) {
	sj := stageJob{
		kind:   models.JobKindStageGranule,
		source: in.GranuleID,
		params: map[string]string{
			"granule_id":    in.GranuleID,
			"collection_id": in.CollectionID,
			"bucket":        r.req.Bucket,
			"prefix":        r.req.Prefix,
		},
	}
	jobID, location, err := o.runJob(ctx, r, models.StateStaging, sj)
	if err != nil {
		return nil, err
	}
	objects, err := o.listOutputs(ctx, location)
	if err != nil {
		return nil, &StageError{Stage: models.StateStaging, Kind: sj.kind, JobID: jobID, Err: fmt.Errorf("failed to list staged files: %w", err)}
	}
	files := objstore.WithSuffix(objects, extNC4)
	if len(files) == 0 {
		files = objstore.WithSuffix(objects, extNC)
	}
	if len(files) == 0 {
		return nil, &StageError{Stage: models.StateStaging, Kind: sj.kind, JobID: jobID,
			Err: &MissingOutputError{JobID: jobID, Kind: sj.kind, Location: location, Want: "NetCDF"}}
	}
	r.logCtx.Info("Granule staged.", "files", files)
	return files, nil
}

// convert fans out one NETCDF_TO_ZARR job per file and variable. A wildcard
// request is one job per file covering every variable.
func (o *Orchestrator) convert(ctx context.Context, r *run, netcdfs []string) ([]zarrOutput, error) {
	var jobs []stageJob
	for _, file := range netcdfs {
		pattern := "*" + extNC
		if strings.HasSuffix(strings.ToLower(file), extNC4) {
			pattern = "*" + extNC4
		}
		stem := variable.Stem(file)
		for _, v := range r.variables {
			output := stem + extZarr
			if v != WildcardVariable {
				output = stem + "_" + v + extZarr
			}
			jobs = append(jobs, stageJob{
				kind:     models.JobKindNetCDFToZarr,
				variable: v,
				source:   objstore.Base(file),
				params: map[string]string{
					"input":       file,
					"pattern":     pattern,
					"config":      o.cfg.ZarrConfigURL,
					"output":      output,
					"variables":   v,
					"zarr_access": "stage",
				},
			})
		}
	}

	results, err := fanOut(ctx, o.cfg.FanOutLimit, jobs, func(ctx context.Context, sj stageJob) ([]zarrOutput, error) {
		jobID, location, err := o.runJob(ctx, r, models.StateConverting, sj)
		if err != nil {
			return nil, err
		}
		objects, err := o.listOutputs(ctx, location)
		if err != nil {
			return nil, &StageError{Stage: models.StateConverting, Kind: sj.kind, Variable: sj.variable, JobID: jobID, Err: err}
		}
		dirs := objstore.DirsWithSuffix(objects, extZarr)
		if len(dirs) == 0 {
			return nil, &StageError{Stage: models.StateConverting, Kind: sj.kind, Variable: sj.variable, JobID: jobID,
				Err: &MissingOutputError{JobID: jobID, Kind: sj.kind, Location: location, Want: "Zarr"}}
		}
		out := make([]zarrOutput, 0, len(dirs))
		for _, dir := range dirs {
			out = append(out, zarrOutput{URI: dir, Variable: sj.variable})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	var zarrs []zarrOutput
	for _, res := range results {
		zarrs = append(zarrs, res...)
	}
	return zarrs, nil
}

// concatenate writes a manifest of the converted stores and runs one
// ZARR_CONCAT job over it. The output is named after the input, not the run,
// so catalog items stay the same across re-runs.
func (o *Orchestrator) concatenate(ctx context.Context, r *run, zarrs []zarrOutput) (zarrOutput, error) {
	uris := make([]string, 0, len(zarrs))
	for _, z := range zarrs {
		uris = append(uris, z.URI)
	}
	manifest, err := json.Marshal(uris)
	if err != nil {
		return zarrOutput{}, err
	}
	manifestURI, err := o.manifestURI(r, zarrs[0].URI)
	if err != nil {
		return zarrOutput{}, &StageError{Stage: models.StateConcatenating, Kind: models.JobKindZarrConcat, Err: err}
	}
	if err := o.storage.Put(ctx, manifestURI, manifest); err != nil {
		return zarrOutput{}, &StageError{Stage: models.StateConcatenating, Kind: models.JobKindZarrConcat,
			Err: fmt.Errorf("failed to write manifest %s: %w", manifestURI, err)}
	}
	r.logCtx.Info("Concatenation manifest written.", "manifest", manifestURI, "stores", len(uris))

	sj := stageJob{
		kind:   models.JobKindZarrConcat,
		source: r.id,
		params: map[string]string{
			"zarr_manifest": manifestURI,
			"config":        o.cfg.ConcatConfigURL,
			"duration":      o.cfg.ConcatDuration,
			"output":        concatOutput(r.input),
			"zarr_access":   "stage",
		},
	}
	jobID, location, err := o.runJob(ctx, r, models.StateConcatenating, sj)
	if err != nil {
		return zarrOutput{}, err
	}
	objects, err := o.listOutputs(ctx, location)
	if err != nil {
		return zarrOutput{}, &StageError{Stage: models.StateConcatenating, Kind: sj.kind, JobID: jobID, Err: err}
	}
	dirs := objstore.DirsWithSuffix(objects, extZarr)
	if len(dirs) == 0 {
		return zarrOutput{}, &StageError{Stage: models.StateConcatenating, Kind: sj.kind, JobID: jobID,
			Err: &MissingOutputError{JobID: jobID, Kind: sj.kind, Location: location, Want: "Zarr"}}
	}
	// A concatenated store mixes variables, so it is cataloged under the
	// fallback variable whatever its name suggests.
	return zarrOutput{URI: dirs[0], Variable: variable.Fallback}, nil
}

// concatOutput is concat.{input stem}.zarr.
func concatOutput(in Input) string {
	return "concat." + variable.Stem(itemSource(in)) + extZarr
}

// manifestURI is {MANIFEST_PREFIX}/{runId}.json, defaulting the prefix to a
// manifests folder in the bucket of the first converted store.
func (o *Orchestrator) manifestURI(r *run, firstStore string) (string, error) {
	prefix := strings.TrimSuffix(o.cfg.ManifestPrefix, "/")
	if prefix == "" {
		loc, err := objstore.Parse(firstStore)
		if err != nil {
			return "", err
		}
		prefix = objstore.Location{Scheme: loc.Scheme, Bucket: loc.Bucket, Key: "granuleflow/manifests"}.String()
	}
	return prefix + "/" + r.id + extJSON, nil
}

// rasterize fans out one ZARR_TO_COG job per Zarr store.
func (o *Orchestrator) rasterize(ctx context.Context, r *run, zarrs []zarrOutput) ([]cogOutput, error) {
	jobs := make([]stageJob, 0, len(zarrs))
	for _, z := range zarrs {
		v := z.Variable
		if v == WildcardVariable {
			v = ""
		}
		jobs = append(jobs, stageJob{
			kind:     models.JobKindZarrToCOG,
			variable: v,
			source:   objstore.Base(z.URI),
			params: map[string]string{
				"zarr":        strings.TrimSuffix(z.URI, "/") + "/",
				"zarr_access": "stage",
				"time":        r.coordinates.Time,
				"latitude":    r.coordinates.Latitude,
				"longitude":   r.coordinates.Longitude,
				"output_name": variable.Stem(z.URI),
			},
		})
	}

	results, err := fanOut(ctx, o.cfg.FanOutLimit, jobs, func(ctx context.Context, sj stageJob) ([]cogOutput, error) {
		jobID, location, err := o.runJob(ctx, r, models.StateRasterizing, sj)
		if err != nil {
			return nil, err
		}
		objects, err := o.listOutputs(ctx, location)
		if err != nil {
			return nil, &StageError{Stage: models.StateRasterizing, Kind: sj.kind, Variable: sj.variable, JobID: jobID, Err: err}
		}
		tifs := objstore.WithSuffix(objects, extTIF)
		if len(tifs) == 0 {
			return nil, &StageError{Stage: models.StateRasterizing, Kind: sj.kind, Variable: sj.variable, JobID: jobID,
				Err: &MissingOutputError{JobID: jobID, Kind: sj.kind, Location: location, Want: "COG"}}
		}
		sidecars := make(map[string]bool)
		for _, obj := range objstore.WithSuffix(objects, extJSON) {
			sidecars[obj] = true
		}
		out := make([]cogOutput, 0, len(tifs))
		for _, tif := range tifs {
			cog := cogOutput{URI: tif, ZarrURI: strings.TrimSuffix(sj.params["zarr"], "/"), Variable: sj.variable}
			sidecar := strings.TrimSuffix(tif, extTIF) + extJSON
			if sidecars[sidecar] {
				cog.Footprint = o.readFootprint(ctx, r, sidecar)
			}
			out = append(out, cog)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	var cogs []cogOutput
	for _, res := range results {
		cogs = append(cogs, res...)
	}
	return cogs, nil
}

// readFootprint loads the footprint sidecar of a COG. A missing or malformed
// sidecar leaves the footprint empty.
func (o *Orchestrator) readFootprint(ctx context.Context, r *run, uri string) models.Footprint {
	var fp models.Footprint
	data, err := o.storage.Get(ctx, uri)
	if err != nil {
		r.logCtx.Warn("Failed to read footprint sidecar.", "uri", uri, "error", err)
		return fp
	}
	if err := json.Unmarshal(data, &fp); err != nil {
		r.logCtx.Warn("Malformed footprint sidecar.", "uri", uri, "error", err)
		return models.Footprint{}
	}
	return fp
}

// zarrConfig is the part of the conversion config the orchestrator reads.
type zarrConfig struct {
	Coordinates models.Coordinates `yaml:"coordinates"`
}

// resolveCoordinates picks coordinate names per field: the request first,
// then the Zarr conversion config, then the configured defaults.
func (o *Orchestrator) resolveCoordinates(ctx context.Context, r *run) models.Coordinates {
	fromConfig := models.Coordinates{}
	if o.cfg.ZarrConfigURL != "" && !isZarr(r.input) {
		data, err := o.storage.Get(ctx, o.cfg.ZarrConfigURL)
		switch {
		case err != nil:
			r.logCtx.Warn("Failed to read Zarr config, using default coordinates.", "url", o.cfg.ZarrConfigURL, "error", err)
		default:
			var zc zarrConfig
			if err := yaml.Unmarshal(data, &zc); err != nil {
				r.logCtx.Warn("Malformed Zarr config, using default coordinates.", "url", o.cfg.ZarrConfigURL, "error", err)
			} else {
				fromConfig = zc.Coordinates
			}
		}
	}
	req := r.req.Coordinates
	return models.Coordinates{
		Time:      firstNonEmpty(req.Time, fromConfig.Time, o.cfg.Coordinates.Time),
		Latitude:  firstNonEmpty(req.Latitude, fromConfig.Latitude, o.cfg.Coordinates.Latitude),
		Longitude: firstNonEmpty(req.Longitude, fromConfig.Longitude, o.cfg.Coordinates.Longitude),
	}
}

// fanOut runs fn for every task concurrently, at most limit at a time. The
// first error cancels the rest and is returned without waiting for their
// remote jobs; the abandoned jobs are left running. Results keep task order.
func fanOut[T, R any](ctx context.Context, limit int, tasks []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(tasks))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, task := range tasks {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := fn(gctx, task)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// itemSource is the source identity recorded on catalog items.
func itemSource(in Input) string {
	if g, ok := in.(GranuleInput); ok {
		return g.GranuleID
	}
	return path.Base(strings.TrimSuffix(in.Source(), "/"))
}
