package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Lllllllleong/granuleflow/internal/models"
	"github.com/Lllllllleong/granuleflow/internal/variable"
)

// SchemaVersion is the STAC version written into created collections.
const SchemaVersion = "1.0.0"

// Reconciler makes catalog writes idempotent. Collections it has seen are
// remembered, so a second EnsureCollection for the same pair costs nothing.
type Reconciler struct {
	svc    Service
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]struct{}
}

func NewReconciler(svc Service, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{svc: svc, logger: logger, known: make(map[string]struct{})}
}

// CollectionID is the identifier of the collection holding variable's items.
func CollectionID(base, variable string) string {
	return base + "_" + variable
}

// NewCollection returns the fixed collection document created on first use.
func NewCollection(base, variable string) models.Collection {
	return models.Collection{
		ID:            CollectionID(base, variable),
		Title:         fmt.Sprintf("%s %s", base, variable),
		Description:   fmt.Sprintf("Cloud-optimized %s rasters derived from %s.", variable, base),
		SchemaVersion: SchemaVersion,
		License:       "proprietary",
		Extent: map[string]any{
			"spatial":  map[string]any{"bbox": [][]float64{{-180, -90, 180, 90}}},
			"temporal": map[string]any{"interval": [][]any{{nil, nil}}},
		},
	}
}

// EnsureCollection returns the id of the {base}_{variable} collection,
// creating it if needed. A concurrent creator winning the race is not an
// error.
func (r *Reconciler) EnsureCollection(ctx context.Context, base, variable string) (string, error) {
	id := CollectionID(base, variable)

	r.mu.Lock()
	_, seen := r.known[id]
	r.mu.Unlock()
	if seen {
		return id, nil
	}

	logCtx := r.logger.With("collectionId", id)
	_, err := r.svc.GetCollection(ctx, id)
	switch {
	case err == nil:
		logCtx.Info("Collection already exists.")
	case errors.Is(err, ErrNotFound):
		err = r.svc.CreateCollection(ctx, NewCollection(base, variable))
		switch {
		case err == nil:
			logCtx.Info("Created collection.")
		case errors.Is(err, ErrAlreadyExists):
			logCtx.Info("Collection created concurrently, reusing it.")
		default:
			return "", &CatalogUnavailableError{Op: "create-collection", ID: id, Err: err}
		}
	default:
		return "", &CatalogUnavailableError{Op: "get-collection", ID: id, Err: err}
	}

	r.mu.Lock()
	r.known[id] = struct{}{}
	r.mu.Unlock()
	return id, nil
}

// UpsertItem writes item into collectionID. With upsert off an existing item
// yields *DuplicateItemError; with upsert on it is replaced.
func (r *Reconciler) UpsertItem(ctx context.Context, collectionID string, item models.Item, upsert bool) error {
	item.CollectionID = collectionID
	logCtx := r.logger.With("collectionId", collectionID, "itemId", item.ID, "upsert", upsert)

	if !upsert {
		_, err := r.svc.GetItem(ctx, collectionID, item.ID)
		switch {
		case err == nil:
			return &DuplicateItemError{CollectionID: collectionID, ItemID: item.ID}
		case errors.Is(err, ErrNotFound):
		default:
			return &CatalogUnavailableError{Op: "get-item", ID: item.ID, Err: err}
		}
	}

	if err := r.svc.PutItem(ctx, item, upsert); err != nil {
		var invalid *InvalidItemError
		switch {
		case errors.As(err, &invalid):
			return err
		case errors.Is(err, ErrAlreadyExists):
			return &DuplicateItemError{CollectionID: collectionID, ItemID: item.ID}
		default:
			return &CatalogUnavailableError{Op: "put-item", ID: item.ID, Err: err}
		}
	}
	logCtx.Info("Item written.")
	return nil
}

// ItemID derives a stable item identifier from the collection, the source
// granule or file, the variable and the artifact's file name. Only the base
// name of artifact is used, so re-running on the same input yields the same
// id even though job output prefixes differ.
func ItemID(collectionID, source, variableName, artifact string) string {
	name := variable.Stem(artifact)
	sum := sha256.Sum256([]byte(strings.Join([]string{collectionID, source, variableName, name}, "|")))
	return sanitize(name) + "-" + hex.EncodeToString(sum[:])[:12]
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "item"
	}
	return b.String()
}
