package service

import (
	"strconv"
	"sync"

	"askdb/internal/driver"
	"askdb/internal/metrics"

	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"
)

const maxCreateAttempts = 3

// PoolRegistry caches one driver.Pool per connection id. Concurrent callers
// for the same id share a single creation; an Invalidate that lands while a
// creation is in flight discards the result instead of caching stale
// credentials.
type PoolRegistry struct {
	mu    sync.Mutex
	pools map[string]driver.Pool
	gens  map[string]uint64
	group singleflight.Group
}

func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{
		pools: make(map[string]driver.Pool),
		gens:  make(map[string]uint64),
	}
}

// Get returns the cached pool for id, if any.
func (r *PoolRegistry) Get(id string) (driver.Pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[id]
	return p, ok
}

// GetOrCreate returns the cached pool or builds one with create. created
// reports whether this call's create produced the returned pool.
func (r *PoolRegistry) GetOrCreate(id string, create func() (driver.Pool, error)) (pool driver.Pool, created bool, err error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		r.mu.Lock()
		if p, ok := r.pools[id]; ok {
			r.mu.Unlock()
			return p, false, nil
		}
		gen := r.gens[id]
		r.mu.Unlock()

		stale := false
		v, err, shared := r.group.Do(id+"#"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
			p, err := create()
			if err != nil {
				return nil, err
			}

			r.mu.Lock()
			defer r.mu.Unlock()
			if r.gens[id] != gen {
				stale = true
				_ = p.Close()
				return nil, nil
			}
			r.pools[id] = p
			metrics.PoolsOpen.Set(float64(len(r.pools)))
			return p, nil
		})
		if err != nil {
			return nil, false, err
		}
		if stale || v == nil {
			continue
		}
		return v.(driver.Pool), !shared, nil
	}
	return nil, false, errors.Errorf("pool for %s invalidated during creation", id)
}

// Invalidate drops and closes the pool for id. The next GetOrCreate builds
// a fresh one.
func (r *PoolRegistry) Invalidate(id string) error {
	r.mu.Lock()
	r.gens[id]++
	p, ok := r.pools[id]
	delete(r.pools, id)
	metrics.PoolsOpen.Set(float64(len(r.pools)))
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Close()
}

// CloseAll closes every cached pool, ignoring individual close errors, and
// returns how many were closed.
func (r *PoolRegistry) CloseAll() int {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]driver.Pool)
	for id := range pools {
		r.gens[id]++
	}
	metrics.PoolsOpen.Set(0)
	r.mu.Unlock()

	for _, p := range pools {
		_ = p.Close()
	}
	return len(pools)
}

func (r *PoolRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}
