// Package objstore reads and writes the object storage that job outputs,
// conversion configs and concat manifests live in.
package objstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is an object store addressed by full URIs.
type Store interface {
	// List returns the URIs of all objects under prefixURI.
	List(ctx context.Context, prefixURI string) ([]string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
	Put(ctx context.Context, uri string, data []byte) error
}

// Mux dispatches to a Store by URI scheme.
type Mux struct {
	stores map[string]Store
}

// NewMux returns an empty Mux. Register stores with Handle.
func NewMux() *Mux {
	return &Mux{stores: make(map[string]Store)}
}

// Handle registers the store serving scheme.
func (m *Mux) Handle(scheme string, s Store) {
	m.stores[scheme] = s
}

func (m *Mux) route(uri string) (Store, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	s, ok := m.stores[loc.Scheme]
	if !ok {
		return nil, fmt.Errorf("no object store configured for %s:// URIs", loc.Scheme)
	}
	return s, nil
}

func (m *Mux) List(ctx context.Context, prefixURI string) ([]string, error) {
	s, err := m.route(prefixURI)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, prefixURI)
}

func (m *Mux) Get(ctx context.Context, uri string) ([]byte, error) {
	s, err := m.route(uri)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, uri)
}

func (m *Mux) Put(ctx context.Context, uri string, data []byte) error {
	s, err := m.route(uri)
	if err != nil {
		return err
	}
	return s.Put(ctx, uri, data)
}
