package models

// These structs define the JSON payloads accepted and returned by the
// pipeline entrypoints.

// Coordinates names the dimensions the rasterizer reads from a Zarr store.
type Coordinates struct {
	Time      string `json:"time,omitempty" yaml:"time"`
	Latitude  string `json:"latitude,omitempty" yaml:"latitude"`
	Longitude string `json:"longitude,omitempty" yaml:"longitude"`
}

// RunRequest carries the run parameters of one pipeline run. Exactly one of
// GranuleID, NetCDFURL, ZarrURL or InputURL must be set; InputURL is
// classified by its extension.
type RunRequest struct {
	GranuleID    string      `json:"granuleId,omitempty"`
	CollectionID string      `json:"collectionId,omitempty"`
	NetCDFURL    string      `json:"netcdfUrl,omitempty"`
	ZarrURL      string      `json:"zarrUrl,omitempty"`
	InputURL     string      `json:"inputUrl,omitempty"`
	Bucket       string      `json:"bucket,omitempty"`
	Prefix       string      `json:"prefix,omitempty"`
	RoleRef      string      `json:"roleRef,omitempty"`
	Variables    []string    `json:"variables,omitempty"`
	EnableConcat bool        `json:"enableConcat,omitempty"`
	Coordinates  Coordinates `json:"coordinates,omitempty"`
	MaxWait      string      `json:"maxWait,omitempty"`
	MaxBackoff   string      `json:"maxBackoff,omitempty"`
	Upsert       bool        `json:"upsert,omitempty"`
}

// Artifact is one COG produced by the pipeline and the catalog entry
// registered for it.
type Artifact struct {
	COGURI       string `json:"cogUri"`
	ZarrURI      string `json:"zarrUri,omitempty"`
	Variable     string `json:"variable"`
	CollectionID string `json:"collectionId"`
	ItemID       string `json:"itemId"`
}

// RunResult is the outcome of a completed pipeline run.
type RunResult struct {
	RunID     string     `json:"runId"`
	State     RunState   `json:"state"`
	Artifacts []Artifact `json:"artifacts"`
}

// RunResponse is the output of the pipeline-runner function.
type RunResponse struct {
	Status    string     `json:"status"`
	RunID     string     `json:"runId,omitempty"`
	ExitCode  int        `json:"exitCode"`
	Error     string     `json:"error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// GCSEvent is the payload of a GCS object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
