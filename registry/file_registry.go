// Package registry holds the executor-lifetime registries: the
// content-addressed file upload registry and the provider content
// cache registry. Both are safe for concurrent use and guarantee
// single-flight semantics per fingerprint.
package registry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// UploadFunc performs the actual provider upload for a fingerprint
// that has no live registry entry.
type UploadFunc func(ctx context.Context) (uri string, err error)

// FileRegistry maps content fingerprints to provider-side remote URIs
// with expiry. Concurrent Materialize calls for the same fingerprint
// collapse into one upload.
type FileRegistry interface {
	Materialize(ctx context.Context, fingerprint string, ttl time.Duration, upload UploadFunc) (string, error)
	Forget(fingerprint string)
}

type fileEntry struct {
	uri       string
	expiresAt time.Time
}

// MemoryFileRegistry is the default in-process FileRegistry.
type MemoryFileRegistry struct {
	mu      sync.RWMutex
	entries map[string]fileEntry
	flight  singleflight.Group

	now func() time.Time // injectable for expiry tests
}

// NewMemoryFileRegistry builds an empty in-process registry.
func NewMemoryFileRegistry() *MemoryFileRegistry {
	return &MemoryFileRegistry{
		entries: make(map[string]fileEntry),
		now:     time.Now,
	}
}

// Materialize returns the live remote URI for fingerprint, performing
// the upload if no unexpired entry exists. Failed uploads are never
// stored, so a later retry gets a fresh attempt.
func (r *MemoryFileRegistry) Materialize(ctx context.Context, fingerprint string, ttl time.Duration, upload UploadFunc) (string, error) {
	if uri, ok := r.lookup(fingerprint); ok {
		return uri, nil
	}

	result, err, _ := r.flight.Do(fingerprint, func() (interface{}, error) {
		// Re-check under the flight: a peer may have just stored it.
		if uri, ok := r.lookup(fingerprint); ok {
			return uri, nil
		}
		uri, err := upload(ctx)
		if err != nil {
			return "", err
		}
		r.store(fingerprint, uri, ttl)
		return uri, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Forget drops a fingerprint's entry, forcing the next Materialize to
// re-upload. Used when a provider rejects a previously stored URI.
func (r *MemoryFileRegistry) Forget(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, fingerprint)
}

func (r *MemoryFileRegistry) lookup(fingerprint string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[fingerprint]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.uri, true
}

func (r *MemoryFileRegistry) store(fingerprint, uri string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := fileEntry{uri: uri}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.entries[fingerprint] = entry
}
