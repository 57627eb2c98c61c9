package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/granuleflow/internal/gcp"
)

// GCSStore serves gs:// URIs.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore wraps an existing storage client.
func NewGCSStore(client *storage.Client) *GCSStore {
	return &GCSStore{client: client}
}

func (s *GCSStore) List(ctx context.Context, prefixURI string) ([]string, error) {
	loc, err := Parse(prefixURI)
	if err != nil {
		return nil, err
	}
	it := s.client.Bucket(loc.Bucket).Objects(ctx, &storage.Query{Prefix: loc.Key})

	var uris []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", loc.Bucket, loc.Key, err)
		}
		uris = append(uris, Location{Scheme: SchemeGCS, Bucket: loc.Bucket, Key: attrs.Name}.String())
	}
	return uris, nil
}

func (s *GCSStore) Get(ctx context.Context, uri string) ([]byte, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	reader, err := s.client.Bucket(loc.Bucket).Object(loc.Key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for %s: %w", uri, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

// Put writes the object unless it already exists. Manifests are keyed by run
// id, so an existing object is the same manifest from a retried invocation.
func (s *GCSStore) Put(ctx context.Context, uri string, data []byte) error {
	loc, err := Parse(uri)
	if err != nil {
		return err
	}
	_, err = gcp.SaveToGCSAtomically(ctx, s.client.Bucket(loc.Bucket), loc.Key, data)
	return err
}
