// Package catalog registers pipeline artifacts in a metadata catalog:
// one collection per base collection and variable, one item per artifact.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

var (
	// ErrNotFound is returned by a Service when a collection or item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by a Service when a create or insert hits
	// an existing record.
	ErrAlreadyExists = errors.New("already exists")
)

// Service is the catalog backend. Implementations report missing records
// with ErrNotFound and conflicting inserts with ErrAlreadyExists; any other
// error is treated as the catalog being unavailable.
type Service interface {
	GetCollection(ctx context.Context, id string) (*models.Collection, error)
	CreateCollection(ctx context.Context, c models.Collection) error
	GetItem(ctx context.Context, collectionID, itemID string) (*models.Item, error)
	// PutItem inserts the item, or replaces it when upsert is set.
	PutItem(ctx context.Context, item models.Item, upsert bool) error
}

// CatalogUnavailableError wraps a failed catalog service call.
type CatalogUnavailableError struct {
	Op  string
	ID  string
	Err error
}

func (e *CatalogUnavailableError) Error() string {
	return fmt.Sprintf("catalog %s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *CatalogUnavailableError) Unwrap() error { return e.Err }

// DuplicateItemError is returned when an item already exists and upsert is off.
type DuplicateItemError struct {
	CollectionID string
	ItemID       string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("item %s already exists in collection %s and upsert is disabled", e.ItemID, e.CollectionID)
}

// InvalidItemError is returned when an item payload fails schema validation.
type InvalidItemError struct {
	ItemID string
	Err    error
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("item %s is not a valid catalog item: %v", e.ItemID, e.Err)
}

func (e *InvalidItemError) Unwrap() error { return e.Err }
