package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seanbrar/pollux-sub002/core"
)

// CreateCacheFunc performs the provider-side cache creation for a
// fingerprint that has no live entry.
type CreateCacheFunc func(ctx context.Context) (cacheName string, err error)

type cacheEntry struct {
	name      string
	expiresAt time.Time
	hits      int
}

// CacheRegistry maps cache fingerprints (model + normalized shared
// parts + system instruction) to provider cache handles with TTL and a
// hit counter. Creation is single-flight per fingerprint.
type CacheRegistry struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	flight  singleflight.Group

	now func() time.Time
}

// NewCacheRegistry builds an empty in-process cache registry.
func NewCacheRegistry() *CacheRegistry {
	return &CacheRegistry{
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// CacheFingerprint derives the deterministic key for a reusable shared
// context: model name, every shared part in order, and the system
// instruction if any.
func CacheFingerprint(modelName string, parts []core.APIPart, systemInstruction string) string {
	h := sha256.New()
	h.Write([]byte(modelName))
	h.Write([]byte{0})
	for _, p := range parts {
		h.Write([]byte(string(p.Kind)))
		h.Write([]byte{0})
		h.Write([]byte(p.Text))
		h.Write([]byte{0})
		h.Write([]byte(p.URI))
		h.Write([]byte{0})
		h.Write([]byte(p.MIME))
		h.Write([]byte{0})
	}
	h.Write([]byte(systemInstruction))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// GetOrCreate returns the live cache handle for fingerprint, invoking
// create when no unexpired entry exists. Failed creations are not
// stored. Hits on an existing entry bump its counter.
func (r *CacheRegistry) GetOrCreate(ctx context.Context, fingerprint string, ttl time.Duration, create CreateCacheFunc) (string, error) {
	if name, ok := r.hit(fingerprint); ok {
		return name, nil
	}

	result, err, _ := r.flight.Do(fingerprint, func() (interface{}, error) {
		if name, ok := r.hit(fingerprint); ok {
			return name, nil
		}
		name, err := create(ctx)
		if err != nil {
			return "", err
		}
		r.store(fingerprint, name, ttl)
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Hits returns the hit counter for a fingerprint, zero if absent.
func (r *CacheRegistry) Hits(fingerprint string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.entries[fingerprint]; ok {
		return entry.hits
	}
	return 0
}

// Stats summarizes the registry for diagnostics: entry count and the
// fingerprints ordered by hit count descending.
func (r *CacheRegistry) Stats() (entries int, hottest []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type kv struct {
		fp   string
		hits int
	}
	all := make([]kv, 0, len(r.entries))
	for fp, entry := range r.entries {
		all = append(all, kv{fp, entry.hits})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].hits > all[j].hits })
	for _, e := range all {
		hottest = append(hottest, e.fp)
	}
	return len(all), hottest
}

func (r *CacheRegistry) hit(fingerprint string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[fingerprint]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		delete(r.entries, fingerprint)
		return "", false
	}
	entry.hits++
	return entry.name, true
}

func (r *CacheRegistry) store(fingerprint, name string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := &cacheEntry{name: name}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.entries[fingerprint] = entry
}
