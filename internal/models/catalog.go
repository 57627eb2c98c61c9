package models

// Collection is a catalog grouping for discoverable items.
type Collection struct {
	ID            string         `firestore:"id" json:"id"`
	Title         string         `firestore:"title" json:"title"`
	Description   string         `firestore:"description" json:"description"`
	SchemaVersion string         `firestore:"schemaVersion" json:"stac_version"`
	Extent        map[string]any `firestore:"extent" json:"extent"`
	License       string         `firestore:"license" json:"license"`
}

// Footprint is the spatial/temporal footprint of an artifact. The
// orchestrator does not interpret it; it is copied from the conversion
// stage's sidecar manifest when one exists.
type Footprint struct {
	BBox          []float64      `firestore:"bbox,omitempty" json:"bbox,omitempty"`
	Geometry      map[string]any `firestore:"geometry,omitempty" json:"geometry,omitempty"`
	Datetime      string         `firestore:"datetime,omitempty" json:"datetime,omitempty"`
	StartDatetime string         `firestore:"startDatetime,omitempty" json:"start_datetime,omitempty"`
	EndDatetime   string         `firestore:"endDatetime,omitempty" json:"end_datetime,omitempty"`
}

// Item describes one produced artifact: a COG and its companion Zarr.
type Item struct {
	ID           string    `firestore:"id" json:"id"`
	CollectionID string    `firestore:"collectionId" json:"collection"`
	COGURI       string    `firestore:"cogUri" json:"cogUri"`
	ZarrURI      string    `firestore:"zarrUri,omitempty" json:"zarrUri,omitempty"`
	Variable     string    `firestore:"variable,omitempty" json:"variable,omitempty"`
	Source       string    `firestore:"source,omitempty" json:"source,omitempty"`
	Footprint    Footprint `firestore:"footprint" json:"footprint"`
}
