package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Lllllllleong/granuleflow/internal/apiclient"
	"github.com/Lllllllleong/granuleflow/internal/models"
)

const (
	assetKeyCOG  = "asset"
	assetKeyZarr = "zarr"

	mediaTypeCOG  = "image/tiff; application=geotiff; profile=cloud-optimized"
	mediaTypeZarr = "application/vnd+zarr"
)

// itemSchema is the subset of the STAC item model the catalog API needs
// before it accepts a bulk write.
const itemSchema = `{
  "type": "object",
  "required": ["type", "stac_version", "id", "collection", "properties", "assets", "links"],
  "properties": {
    "type": {"const": "Feature"},
    "stac_version": {"type": "string"},
    "id": {"type": "string", "minLength": 1, "pattern": "^[^/]+$"},
    "collection": {"type": "string", "minLength": 1},
    "bbox": {"type": "array", "minItems": 4, "items": {"type": "number"}},
    "geometry": {"type": ["object", "null"]},
    "properties": {
      "type": "object",
      "anyOf": [
        {"required": ["datetime"], "properties": {"datetime": {"type": "string"}}},
        {"required": ["start_datetime", "end_datetime"]}
      ]
    },
    "assets": {
      "type": "object",
      "required": ["asset"],
      "additionalProperties": {
        "type": "object",
        "required": ["href"],
        "properties": {"href": {"type": "string", "pattern": "^(s3|gs|https?)://"}}
      }
    },
    "links": {"type": "array"}
  }
}`

// STACService talks to a STAC API that supports bulk item writes:
//
//	GET  {host}/stac/collections/{id}
//	POST {host}/stac/collections
//	GET  {host}/stac/collections/{id}/items/{itemId}
//	POST {host}/stac/collections/{id}/bulk_items
type STACService struct {
	api    *apiclient.Client
	schema *jsonschema.Schema
}

func NewSTACService(api *apiclient.Client) (*STACService, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("stac-item.json", strings.NewReader(itemSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("stac-item.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &STACService{api: api, schema: schema}, nil
}

type stacAsset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type stacItem struct {
	Type        string               `json:"type"`
	StacVersion string               `json:"stac_version"`
	ID          string               `json:"id"`
	Collection  string               `json:"collection"`
	BBox        []float64            `json:"bbox,omitempty"`
	Geometry    map[string]any       `json:"geometry"`
	Properties  map[string]any       `json:"properties"`
	Assets      map[string]stacAsset `json:"assets"`
	Links       []any                `json:"links"`
}

type stacCollection struct {
	Type string `json:"type"`
	models.Collection
	Links []any `json:"links"`
}

type bulkItemsRequest struct {
	Items  map[string]stacItem `json:"items"`
	Method string              `json:"method"`
}

func toSTACItem(item models.Item) stacItem {
	props := map[string]any{}
	fp := item.Footprint
	if fp.Datetime != "" {
		props["datetime"] = fp.Datetime
	} else {
		props["datetime"] = nil
	}
	if fp.StartDatetime != "" {
		props["start_datetime"] = fp.StartDatetime
	}
	if fp.EndDatetime != "" {
		props["end_datetime"] = fp.EndDatetime
	}
	if item.Variable != "" {
		props["variable"] = item.Variable
	}
	if item.Source != "" {
		props["source"] = item.Source
	}

	assets := map[string]stacAsset{
		assetKeyCOG: {Href: item.COGURI, Type: mediaTypeCOG, Roles: []string{"data"}},
	}
	if item.ZarrURI != "" {
		assets[assetKeyZarr] = stacAsset{Href: item.ZarrURI, Type: mediaTypeZarr, Roles: []string{"data"}}
	}
	return stacItem{
		Type:        "Feature",
		StacVersion: SchemaVersion,
		ID:          item.ID,
		Collection:  item.CollectionID,
		BBox:        fp.BBox,
		Geometry:    fp.Geometry,
		Properties:  props,
		Assets:      assets,
		Links:       []any{},
	}
}

func fromSTACItem(s stacItem) *models.Item {
	item := &models.Item{
		ID:           s.ID,
		CollectionID: s.Collection,
		COGURI:       s.Assets[assetKeyCOG].Href,
		ZarrURI:      s.Assets[assetKeyZarr].Href,
		Footprint: models.Footprint{
			BBox:     s.BBox,
			Geometry: s.Geometry,
		},
	}
	str := func(key string) string {
		v, _ := s.Properties[key].(string)
		return v
	}
	item.Variable = str("variable")
	item.Source = str("source")
	item.Footprint.Datetime = str("datetime")
	item.Footprint.StartDatetime = str("start_datetime")
	item.Footprint.EndDatetime = str("end_datetime")
	return item
}

// validate checks the payload exactly as it will be sent.
func (s *STACService) validate(item stacItem) error {
	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal item: %w", err)
	}
	if err := s.schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

func collectionPath(id string) string {
	return "/stac/collections/" + url.PathEscape(id)
}

func (s *STACService) GetCollection(ctx context.Context, id string) (*models.Collection, error) {
	path := collectionPath(id)
	resp, err := s.api.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if !resp.IsSuccess() {
		return nil, s.api.NewStatusError(http.MethodGet, path, resp)
	}
	var c models.Collection
	if err := resp.JSON(&c); err != nil {
		return nil, fmt.Errorf("malformed collection %s: %w", id, err)
	}
	return &c, nil
}

func (s *STACService) CreateCollection(ctx context.Context, c models.Collection) error {
	const path = "/stac/collections"
	resp, err := s.api.Do(ctx, http.MethodPost, path, stacCollection{Type: "Collection", Collection: c, Links: []any{}})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		return ErrAlreadyExists
	}
	if !resp.IsSuccess() {
		return s.api.NewStatusError(http.MethodPost, path, resp)
	}
	return nil
}

func (s *STACService) GetItem(ctx context.Context, collectionID, itemID string) (*models.Item, error) {
	path := collectionPath(collectionID) + "/items/" + url.PathEscape(itemID)
	resp, err := s.api.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if !resp.IsSuccess() {
		return nil, s.api.NewStatusError(http.MethodGet, path, resp)
	}
	var item stacItem
	if err := resp.JSON(&item); err != nil {
		return nil, fmt.Errorf("malformed item %s: %w", itemID, err)
	}
	return fromSTACItem(item), nil
}

func (s *STACService) PutItem(ctx context.Context, item models.Item, upsert bool) error {
	payload := toSTACItem(item)
	if err := s.validate(payload); err != nil {
		return &InvalidItemError{ItemID: item.ID, Err: err}
	}

	method := "insert"
	if upsert {
		method = "upsert"
	}
	path := collectionPath(item.CollectionID) + "/bulk_items"
	resp, err := s.api.Do(ctx, http.MethodPost, path, bulkItemsRequest{
		Items:  map[string]stacItem{item.ID: payload},
		Method: method,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		return ErrAlreadyExists
	}
	if !resp.IsSuccess() {
		return s.api.NewStatusError(http.MethodPost, path, resp)
	}
	return nil
}
