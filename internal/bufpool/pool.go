// Package bufpool provides object pooling for the interpreter's
// per-round bookkeeping to reduce allocations on the hot path.
//
// Every round groups extracted queries by data source and deduplicates
// identities within each group (interpreter Step 2); for programs with
// many rounds this allocates a fresh map/slice pair per source per
// round. Pooling those scratch containers keeps GC pressure flat
// regardless of round count.
package bufpool

import (
	"sync"
)

// Config configures pooling behavior.
type Config struct {
	// Enabled controls whether pooling is active. Disabled is useful
	// under race-detector runs or when debugging allocation profiles.
	Enabled bool

	// MaxKeep bounds how large a returned container may be and still be
	// kept in the pool; oversized containers are simply dropped so one
	// huge round doesn't inflate steady-state memory.
	MaxKeep int
}

var globalConfig = Config{
	Enabled: true,
	MaxKeep: 4096,
}

// Configure sets global pooling configuration. Call once during
// interpreter setup, before any round runs.
func Configure(cfg Config) {
	globalConfig = cfg
}

// IsEnabled reports whether pooling is currently active.
func IsEnabled() bool {
	return globalConfig.Enabled
}

var stringSetPool = sync.Pool{
	New: func() any {
		return make(map[string]struct{}, 16)
	},
}

// GetStringSet returns an empty string set used to deduplicate
// identities within one combination group (Step 2).
func GetStringSet() map[string]struct{} {
	if !globalConfig.Enabled {
		return make(map[string]struct{}, 16)
	}
	m := stringSetPool.Get().(map[string]struct{})
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutStringSet returns a string set to the pool.
func PutStringSet(m map[string]struct{}) {
	if !globalConfig.Enabled || m == nil {
		return
	}
	if len(m) > globalConfig.MaxKeep {
		return
	}
	for k := range m {
		delete(m, k)
	}
	stringSetPool.Put(m)
}

var anySlicePool = sync.Pool{
	New: func() any {
		return make([]any, 0, 16)
	},
}

// GetAnySlice returns an empty []any, used to accumulate the ordered,
// deduplicated identity list for a combined One/Many request.
func GetAnySlice() []any {
	if !globalConfig.Enabled {
		return make([]any, 0, 16)
	}
	return anySlicePool.Get().([]any)[:0]
}

// PutAnySlice returns a []any to the pool.
func PutAnySlice(s []any) {
	if !globalConfig.Enabled || s == nil {
		return
	}
	if cap(s) > globalConfig.MaxKeep {
		return
	}
	for i := range s {
		s[i] = nil
	}
	anySlicePool.Put(s[:0])
}

var groupMapPool = sync.Pool{
	New: func() any {
		return make(map[string][]any, 8)
	},
}

// GetGroupMap returns an empty map used to group extracted queries by
// source name during Step 2 combination.
func GetGroupMap() map[string][]any {
	if !globalConfig.Enabled {
		return make(map[string][]any, 8)
	}
	m := groupMapPool.Get().(map[string][]any)
	for k := range m {
		delete(m, k)
	}
	return m
}

// PutGroupMap returns a group map to the pool. Per-source slices are
// not recycled individually here; callers that obtained slices via
// GetAnySlice should return those separately.
func PutGroupMap(m map[string][]any) {
	if !globalConfig.Enabled || m == nil {
		return
	}
	if len(m) > globalConfig.MaxKeep {
		return
	}
	for k := range m {
		delete(m, k)
	}
	groupMapPool.Put(m)
}
