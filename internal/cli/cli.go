// Package cli implements the command-line pipeline run.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/Lllllllleong/granuleflow/internal/config"
	"github.com/Lllllllleong/granuleflow/internal/gcp"
	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/pipeline"
	"github.com/Lllllllleong/granuleflow/internal/services"
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// Options are the parsed command-line arguments.
type Options struct {
	ConfigPath string
	Request    models.RunRequest
	LogLevel   string
	LogFormat  string
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// Parse reads the run request from args. A usage problem is an *ExitError
// with the invalid-input exit code.
func Parse(args []string, stderr io.Writer) (*Options, error) {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		opts      Options
		variables stringList
		req       = &opts.Request
	)
	fs.StringVar(&opts.ConfigPath, "config", "", "YAML config file (default: $"+services.ConfigFileEnv+")")
	fs.StringVar(&req.GranuleID, "granule-id", "", "archive granule id to stage")
	fs.StringVar(&req.CollectionID, "collection-id", "", "base collection id")
	fs.StringVar(&req.NetCDFURL, "netcdf-url", "", "NetCDF file in object storage")
	fs.StringVar(&req.ZarrURL, "zarr-url", "", "Zarr store in object storage")
	fs.StringVar(&req.InputURL, "input-url", "", "NetCDF or Zarr URL, classified by extension")
	fs.StringVar(&req.Bucket, "bucket", "", "staging bucket")
	fs.StringVar(&req.Prefix, "prefix", "", "staging prefix")
	fs.StringVar(&req.RoleRef, "role-ref", "", "storage role reference passed to jobs")
	fs.Var(&variables, "variables", "comma-separated variables (default: all)")
	fs.BoolVar(&req.EnableConcat, "concat", false, "concatenate converted stores before rasterizing")
	fs.StringVar(&req.Coordinates.Time, "time-coord", "", "time coordinate name")
	fs.StringVar(&req.Coordinates.Latitude, "lat-coord", "", "latitude coordinate name")
	fs.StringVar(&req.Coordinates.Longitude, "lon-coord", "", "longitude coordinate name")
	fs.StringVar(&req.MaxWait, "max-wait", "", "per-job wait budget, e.g. 2h or 7200")
	fs.StringVar(&req.MaxBackoff, "max-backoff", "", "maximum sleep between polls")
	fs.BoolVar(&req.Upsert, "upsert", false, "replace existing catalog items")
	fs.StringVar(&opts.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&opts.LogFormat, "log-format", "", "json or text")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, &ExitError{Code: pipeline.ExitOK}
		}
		return nil, &ExitError{Code: pipeline.ExitInvalidInput, Message: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, &ExitError{Code: pipeline.ExitInvalidInput, Message: fmt.Sprintf("unexpected arguments: %v", fs.Args())}
	}
	req.Variables = variables
	return &opts, nil
}

// Run executes one pipeline run from the command line and returns nil or an
// *ExitError.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := Parse(args, stderr)
	if err != nil {
		return err
	}

	path := opts.ConfigPath
	if path == "" {
		path = gcp.GetEnv(services.ConfigFileEnv, "")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return &ExitError{Code: pipeline.ExitUnexpected, Message: err.Error()}
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}
	logger := services.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)

	backends, err := services.NewBackends(ctx, *cfg, logger)
	if err != nil {
		return &ExitError{Code: pipeline.ExitUnexpected, Message: err.Error()}
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.Warn("Failed to close clients.", "error", err)
		}
	}()

	return execute(ctx, backends.Orchestrator, opts.Request, stdout)
}

type runner interface {
	Run(ctx context.Context, req models.RunRequest) (*models.RunResult, error)
}

// execute runs req and prints the result as JSON on success.
func execute(ctx context.Context, orch runner, req models.RunRequest, stdout io.Writer) error {
	res, err := orch.Run(ctx, req)
	if err != nil {
		return &ExitError{Code: pipeline.ExitCode(err), Message: err.Error()}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return &ExitError{Code: pipeline.ExitUnexpected, Message: fmt.Sprintf("failed to write result: %v", err)}
	}
	return nil
}
