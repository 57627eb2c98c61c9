package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/granuleflow/internal/models"
)

// FirestoreService stores collections as documents of one Firestore
// collection and items in a sub-collection of each.
type FirestoreService struct {
	client      *firestore.Client
	collections string
	items       string
}

func NewFirestoreService(client *firestore.Client, collections, items string) *FirestoreService {
	return &FirestoreService{client: client, collections: collections, items: items}
}

// Firestore rejects nested arrays, so extents and geometries are stored as
// JSON text.
type collectionDoc struct {
	ID            string `firestore:"id"`
	Title         string `firestore:"title"`
	Description   string `firestore:"description"`
	SchemaVersion string `firestore:"schemaVersion"`
	License       string `firestore:"license"`
	ExtentJSON    string `firestore:"extentJson"`
}

type itemDoc struct {
	ID            string    `firestore:"id"`
	CollectionID  string    `firestore:"collectionId"`
	COGURI        string    `firestore:"cogUri"`
	ZarrURI       string    `firestore:"zarrUri,omitempty"`
	Variable      string    `firestore:"variable,omitempty"`
	Source        string    `firestore:"source,omitempty"`
	BBox          []float64 `firestore:"bbox,omitempty"`
	GeometryJSON  string    `firestore:"geometryJson,omitempty"`
	Datetime      string    `firestore:"datetime,omitempty"`
	StartDatetime string    `firestore:"startDatetime,omitempty"`
	EndDatetime   string    `firestore:"endDatetime,omitempty"`
}

func (s *FirestoreService) collectionRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collections).Doc(id)
}

func (s *FirestoreService) itemRef(collectionID, itemID string) *firestore.DocumentRef {
	return s.collectionRef(collectionID).Collection(s.items).Doc(itemID)
}

func (s *FirestoreService) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	snap, err := s.collectionRef(id).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err)
	}
	var doc collectionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode collection %s: %w", id, err)
	}
	c := &models.Collection{
		ID:            doc.ID,
		Title:         doc.Title,
		Description:   doc.Description,
		SchemaVersion: doc.SchemaVersion,
		License:       doc.License,
	}
	if doc.ExtentJSON != "" {
		if err := json.Unmarshal([]byte(doc.ExtentJSON), &c.Extent); err != nil {
			return nil, fmt.Errorf("failed to decode extent of collection %s: %w", id, err)
		}
	}
	return c, nil
}

func (s *FirestoreService) CreateCollection(ctx context.Context, c models.Collection) error {
	extent, err := json.Marshal(c.Extent)
	if err != nil {
		return fmt.Errorf("failed to marshal extent: %w", err)
	}
	doc := collectionDoc{
		ID:            c.ID,
		Title:         c.Title,
		Description:   c.Description,
		SchemaVersion: c.SchemaVersion,
		License:       c.License,
		ExtentJSON:    string(extent),
	}
	if _, err := s.collectionRef(c.ID).Create(ctx, doc); err != nil {
		return mapFirestoreError(err)
	}
	return nil
}

func (s *FirestoreService) GetItem(ctx context.Context, collectionID, itemID string) (*models.Item, error) {
	snap, err := s.itemRef(collectionID, itemID).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err)
	}
	var doc itemDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", itemID, err)
	}
	item := &models.Item{
		ID:           doc.ID,
		CollectionID: doc.CollectionID,
		COGURI:       doc.COGURI,
		ZarrURI:      doc.ZarrURI,
		Variable:     doc.Variable,
		Source:       doc.Source,
		Footprint: models.Footprint{
			BBox:          doc.BBox,
			Datetime:      doc.Datetime,
			StartDatetime: doc.StartDatetime,
			EndDatetime:   doc.EndDatetime,
		},
	}
	if doc.GeometryJSON != "" {
		if err := json.Unmarshal([]byte(doc.GeometryJSON), &item.Footprint.Geometry); err != nil {
			return nil, fmt.Errorf("failed to decode geometry of item %s: %w", itemID, err)
		}
	}
	return item, nil
}

func (s *FirestoreService) PutItem(ctx context.Context, item models.Item, upsert bool) error {
	doc := itemDoc{
		ID:            item.ID,
		CollectionID:  item.CollectionID,
		COGURI:        item.COGURI,
		ZarrURI:       item.ZarrURI,
		Variable:      item.Variable,
		Source:        item.Source,
		BBox:          item.Footprint.BBox,
		Datetime:      item.Footprint.Datetime,
		StartDatetime: item.Footprint.StartDatetime,
		EndDatetime:   item.Footprint.EndDatetime,
	}
	if item.Footprint.Geometry != nil {
		geometry, err := json.Marshal(item.Footprint.Geometry)
		if err != nil {
			return &InvalidItemError{ItemID: item.ID, Err: err}
		}
		doc.GeometryJSON = string(geometry)
	}

	ref := s.itemRef(item.CollectionID, item.ID)
	var err error
	if upsert {
		_, err = ref.Set(ctx, doc)
	} else {
		_, err = ref.Create(ctx, doc)
	}
	if err != nil {
		return mapFirestoreError(err)
	}
	return nil
}

func mapFirestoreError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	return err
}
