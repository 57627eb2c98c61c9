package pipeline

import (
	"fmt"
	"path"
	"strings"

	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/objstore"
	"github.com/Lllllllleong/granuleflow/internal/variable"
)

// WildcardVariable requests every variable of a NetCDF file in one job.
const WildcardVariable = "*"

// Input is the classified run input: exactly one of GranuleInput,
// NetCDFInput or ZarrInput.
type Input interface {
	// Source identifies the input for job names and catalog item ids.
	Source() string
	// BaseCollection is the collection id that per-variable collections
	// derive from.
	BaseCollection() string
	isInput()
}

// GranuleInput is an archive granule that must be staged first.
type GranuleInput struct {
	GranuleID    string
	CollectionID string
}

// NetCDFInput is a NetCDF file already in object storage.
type NetCDFInput struct {
	URL          string
	CollectionID string
}

// ZarrInput is a Zarr store already in object storage; conversion is skipped.
type ZarrInput struct {
	URL          string
	CollectionID string
}

func (g GranuleInput) Source() string         { return g.GranuleID }
func (g GranuleInput) BaseCollection() string { return g.CollectionID }
func (GranuleInput) isInput()                 {}

func (n NetCDFInput) Source() string { return n.URL }
func (n NetCDFInput) BaseCollection() string {
	if n.CollectionID != "" {
		return n.CollectionID
	}
	return variable.Stem(n.URL)
}
func (NetCDFInput) isInput() {}

func (z ZarrInput) Source() string { return z.URL }
func (z ZarrInput) BaseCollection() string {
	if z.CollectionID != "" {
		return z.CollectionID
	}
	return variable.Stem(z.URL)
}
func (ZarrInput) isInput() {}

// Classify turns the run parameters into an Input. Exactly one of granule id,
// NetCDF URL, Zarr URL or generic input URL must be set.
func Classify(req models.RunRequest) (Input, error) {
	req.GranuleID = strings.TrimSpace(req.GranuleID)
	req.NetCDFURL = strings.TrimSpace(req.NetCDFURL)
	req.ZarrURL = strings.TrimSpace(req.ZarrURL)
	req.InputURL = strings.TrimSpace(req.InputURL)
	req.CollectionID = strings.TrimSpace(req.CollectionID)

	var set int
	for _, v := range []string{req.GranuleID, req.NetCDFURL, req.ZarrURL, req.InputURL} {
		if v != "" {
			set++
		}
	}
	switch set {
	case 0:
		return nil, &InvalidInputError{Reason: "one of granule id, NetCDF URL or Zarr URL is required"}
	case 1:
	default:
		return nil, &InvalidInputError{Reason: "exactly one of granule id, NetCDF URL or Zarr URL may be set"}
	}

	switch {
	case req.GranuleID != "":
		if req.CollectionID == "" {
			return nil, &InvalidInputError{Reason: "a granule id requires a collection id"}
		}
		return GranuleInput{GranuleID: req.GranuleID, CollectionID: req.CollectionID}, nil
	case req.NetCDFURL != "":
		uri, err := storageURI(req.NetCDFURL)
		if err != nil {
			return nil, err
		}
		return NetCDFInput{URL: uri, CollectionID: req.CollectionID}, nil
	case req.ZarrURL != "":
		uri, err := storageURI(req.ZarrURL)
		if err != nil {
			return nil, err
		}
		return ZarrInput{URL: strings.TrimSuffix(uri, "/"), CollectionID: req.CollectionID}, nil
	}

	uri, err := storageURI(req.InputURL)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSuffix(uri, "/")
	switch ext := strings.ToLower(path.Ext(trimmed)); ext {
	case ".nc", ".nc4":
		return NetCDFInput{URL: trimmed, CollectionID: req.CollectionID}, nil
	case ".zarr":
		return ZarrInput{URL: trimmed, CollectionID: req.CollectionID}, nil
	case "":
		return nil, &InvalidInputError{Reason: fmt.Sprintf("input URL %s has no file extension", req.InputURL)}
	default:
		return nil, &InvalidInputError{Reason: fmt.Sprintf("unsupported input extension %s", ext)}
	}
}

func storageURI(raw string) (string, error) {
	uri := objstore.NormalizeS3HTTP(raw)
	if _, err := objstore.Parse(uri); err != nil {
		return "", &InvalidInputError{Reason: err.Error()}
	}
	return uri, nil
}

// Variables returns the requested variables, collapsing an empty list or any
// wildcard entry into the single wildcard request.
func Variables(requested []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range requested {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		if v == WildcardVariable {
			return []string{WildcardVariable}
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return []string{WildcardVariable}
	}
	return out
}
