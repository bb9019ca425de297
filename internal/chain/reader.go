// Package chain reads snapshot manifests and walks the backward-linked
// snapshot history of a table.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/elastic/go-freelru"

	"github.com/aalhour/fusesnap/internal/checksum"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/objstore"
)

// ErrCorruptChain is returned when manifests disagree with each other or
// with the table pointer.
var ErrCorruptChain = errors.New("chain: corrupt snapshot chain")

// CacheStats reports manifest cache effectiveness.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Len    int
}

// Reader loads and decodes snapshot manifests, caching decoded manifests by
// location. Manifests are immutable, so a cached entry is never stale; it can
// only outlive the object, which Evict handles.
type Reader struct {
	store  objstore.Store
	cache  *freelru.SyncedLRU[string, *manifest.Snapshot]
	logger logging.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewReader creates a Reader. cacheSize zero disables caching.
func NewReader(store objstore.Store, cacheSize int, logger logging.Logger) (*Reader, error) {
	r := &Reader{store: store, logger: logging.OrDefault(logger)}
	if cacheSize > 0 {
		cache, err := freelru.NewSynced[string, *manifest.Snapshot](uint32(cacheSize), checksum.StringHash32)
		if err != nil {
			return nil, fmt.Errorf("chain: manifest cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Store returns the underlying object store.
func (r *Reader) Store() objstore.Store {
	return r.store
}

// Load returns the snapshot stored at location. The returned snapshot is
// shared and must not be modified.
func (r *Reader) Load(ctx context.Context, location string) (*manifest.Snapshot, error) {
	if r.cache != nil {
		if s, ok := r.cache.Get(location); ok {
			r.hits.Add(1)
			return s, nil
		}
	}
	r.misses.Add(1)

	data, err := r.store.Get(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("chain: load %s: %w", location, err)
	}
	s, err := manifest.Decode(data)
	if err != nil {
		r.logger.Errorf("%sdecode manifest %s: %v", logging.NSResolve, location, err)
		return nil, fmt.Errorf("chain: decode %s: %w", location, err)
	}
	if id, _, perr := manifest.ParseSnapshotLocation(location); perr == nil && id != s.ID {
		return nil, fmt.Errorf("%w: %s holds snapshot %s", ErrCorruptChain, location, s.ID)
	}

	if r.cache != nil {
		r.cache.Add(location, s)
	}
	return s, nil
}

// Evict drops location from the cache.
func (r *Reader) Evict(location string) {
	if r.cache != nil {
		r.cache.Remove(location)
	}
}

// Stats returns cache counters.
func (r *Reader) Stats() CacheStats {
	st := CacheStats{Hits: r.hits.Load(), Misses: r.misses.Load()}
	if r.cache != nil {
		st.Len = r.cache.Len()
	}
	return st
}
