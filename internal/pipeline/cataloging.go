package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/granuleflow/internal/catalog"
	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/notify"
	"github.com/Lllllllleong/granuleflow/internal/variable"
)

// catalogArtifacts registers every COG, one at a time. The first failure
// ends the run; items already written stay in the catalog.
func (o *Orchestrator) catalogArtifacts(ctx context.Context, r *run, cogs []cogOutput) ([]models.Artifact, error) {
	base := r.input.BaseCollection()
	source := itemSource(r.input)

	artifacts := make([]models.Artifact, 0, len(cogs))
	var collections []string
	seen := make(map[string]bool)
	for _, cog := range cogs {
		v := cog.Variable
		if v == "" {
			v = variable.Extract(cog.URI)
		}
		collectionID, err := r.reconciler.EnsureCollection(ctx, base, v)
		if err != nil {
			return nil, &StageError{Stage: models.StateCataloging, Variable: v, Err: err}
		}

		item := models.Item{
			ID:        catalog.ItemID(collectionID, source, v, cog.URI),
			COGURI:    cog.URI,
			ZarrURI:   cog.ZarrURI,
			Variable:  v,
			Source:    source,
			Footprint: o.footprint(r, cog.Footprint),
		}
		if err := r.reconciler.UpsertItem(ctx, collectionID, item, r.req.Upsert); err != nil {
			return nil, &StageError{Stage: models.StateCataloging, Variable: v, Err: err}
		}

		artifacts = append(artifacts, models.Artifact{
			COGURI:       cog.URI,
			ZarrURI:      cog.ZarrURI,
			Variable:     v,
			CollectionID: collectionID,
			ItemID:       item.ID,
		})
		if !seen[collectionID] {
			seen[collectionID] = true
			collections = append(collections, collectionID)
		}
	}

	uris := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		uris = append(uris, a.COGURI)
	}
	if err := o.runs.SetArtifacts(ctx, r.id, uris); err != nil {
		r.logCtx.Warn("Failed to record artifacts.", "error", err)
	}

	for _, collectionID := range collections {
		o.notifier.ProductAvailable(ctx, notify.ProductDetails{
			Collection: collectionID,
			OGC:        o.ogcLink(collectionID),
			URIs:       productURIs(artifacts, collectionID),
			JobID:      r.id,
		})
		o.notifier.Log(ctx, "INFO", fmt.Sprintf("Product available for collection %s", collectionID))
	}
	return artifacts, nil
}

// productURIs lists the COGs of a collection followed by the Zarr stores
// they came from.
func productURIs(artifacts []models.Artifact, collectionID string) []string {
	var cogs, zarrs []string
	seen := make(map[string]bool)
	for _, a := range artifacts {
		if a.CollectionID != collectionID {
			continue
		}
		cogs = append(cogs, a.COGURI)
		if a.ZarrURI != "" && !seen[a.ZarrURI] {
			seen[a.ZarrURI] = true
			zarrs = append(zarrs, a.ZarrURI)
		}
	}
	return append(cogs, zarrs...)
}

// footprint fills in a datetime when the conversion stage supplied none:
// the configured catalog start time, else the run's start time.
func (o *Orchestrator) footprint(r *run, fp models.Footprint) models.Footprint {
	if fp.Datetime != "" || (fp.StartDatetime != "" && fp.EndDatetime != "") {
		return fp
	}
	if o.cfg.CatalogStartDatetime != "" {
		fp.Datetime = o.cfg.CatalogStartDatetime
	} else {
		fp.Datetime = r.startedAt.Format(time.RFC3339)
	}
	return fp
}

func (o *Orchestrator) ogcLink(collectionID string) string {
	if o.cfg.STACHost == "" {
		return ""
	}
	return fmt.Sprintf("%s/stac/collections/%s/items", strings.TrimSuffix(o.cfg.STACHost, "/"), collectionID)
}
