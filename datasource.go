package fetch

import "context"

// Identity is the content-addressed key a DataSource assigns to one of
// its identifiers. It must be deterministic and pure: the same input id
// always yields the same Identity within a source.
type Identity string

// CacheKey is the global cache key: a source name paired with an
// Identity within that source's namespace. Two source instances that
// share a name MUST be interchangeable for caching purposes.
type CacheKey struct {
	Source   string
	Identity Identity
}

// BatchExecution hints how remaining individual calls to a source may
// execute once the interpreter can no longer batch them further.
type BatchExecution int

const (
	// Sequentially indicates the source does not tolerate overlapping
	// calls (e.g. it is not safe for concurrent use, or enforces its
	// own external rate limit).
	Sequentially BatchExecution = iota
	// InParallel indicates remaining individual calls to this source
	// may safely run concurrently.
	InParallel
)

// Option represents "found" or "not found" without relying on a nil
// pointer or zero value.
type Option[A any] struct {
	value   A
	present bool
}

// Some wraps a found value.
func Some[A any](a A) Option[A] { return Option[A]{value: a, present: true} }

// None represents an absent value.
func None[A any]() Option[A] { return Option[A]{} }

// Get returns the wrapped value and whether it was present.
func (o Option[A]) Get() (A, bool) { return o.value, o.present }

// IsPresent reports whether the option holds a value.
func (o Option[A]) IsPresent() bool { return o.present }

// DataSource is the capability a user implements to expose values of
// type A keyed by identities of type I. Name must be stable within one
// run; it is used for cache namespacing and for grouping independent
// requests into a single batch.
type DataSource[I any, A any] interface {
	// Name is a stable string identifying this source within a run.
	Name() string
	// Identity derives the cache key component for id. Must be pure.
	Identity(id I) Identity
	// FetchOne resolves a single identity. None means "not found".
	FetchOne(ctx context.Context, id I) Query[Option[A]]
	// FetchMany resolves a non-empty list of identities in one call.
	// The returned map contains only keys present in ids; a missing key
	// means "not found" for that identity.
	FetchMany(ctx context.Context, ids []I) Query[map[Identity]A]
	// BatchExecution hints whether leftover individual calls to this
	// source may overlap once the interpreter stops batching them.
	BatchExecution() BatchExecution
}

// DefaultFetchMany assembles a batch result by calling FetchOne for
// each id independently and combining the results via Query.Ap, for
// data sources with no native batch endpoint. A source whose
// BatchExecution is Sequentially instead gets a single Sync query that
// calls FetchOne for each id in order. Grounded on the
// fallback-to-individual-loads behavior common to Go dataloader
// implementations (graph-gophers/dataloader, alextanhongpin-core's
// sync/batch).
func DefaultFetchMany[I any, A any](ctx context.Context, ds DataSource[I, A], ids []I) Query[map[Identity]A] {
	if ds.BatchExecution() == Sequentially {
		return Sync(func() (map[Identity]A, error) {
			out := make(map[Identity]A, len(ids))
			for _, id := range ids {
				opt, err := runSequentially(ctx, ds.FetchOne(ctx, id))
				if err != nil {
					return nil, err
				}
				if v, ok := opt.Get(); ok {
					out[ds.Identity(id)] = v
				}
			}
			return out, nil
		})
	}

	acc := Sync(func() (map[Identity]A, error) {
		return make(map[Identity]A, len(ids)), nil
	})
	for _, id := range ids {
		id := id
		key := ds.Identity(id)
		one := ds.FetchOne(ctx, id)
		acc = ApErr(acc, one, func(m map[Identity]A, opt Option[A]) (map[Identity]A, error) {
			if v, ok := opt.Get(); ok {
				m[key] = v
			}
			return m, nil
		})
	}
	return acc
}

// runSequentially evaluates a Query synchronously on the calling
// goroutine, without any Effect or timeout handling beyond what the
// Query node itself performs. It exists so DefaultFetchMany can honor
// Sequentially sources even when the surrounding interpreter run uses
// a concurrent Effect.
func runSequentially[A any](ctx context.Context, q Query[A]) (A, error) {
	var zero A
	v, err := (runner{concurrent: false}).eval(ctx, q.n)
	if err != nil {
		return zero, err
	}
	return v.(A), nil
}

// erasedSource is the type-erased view of a DataSource the interpreter
// walks without knowing I or A. A round holds a heterogeneous list of
// FetchQuery values built from erasedSource implementations, so sources
// of different identity/value types can be combined in one batch.
type erasedSource interface {
	name() string
	identity(id any) Identity
	fetchOne(ctx context.Context, id any) Query[erasedOption]
	fetchMany(ctx context.Context, ids []any) Query[map[Identity]any]
	batchExecution() BatchExecution
}

// erasedOption is Option[A] with A erased to any.
type erasedOption struct {
	value   any
	present bool
}

type sourceAdapter[I any, A any] struct {
	ds DataSource[I, A]
}

func newSourceAdapter[I any, A any](ds DataSource[I, A]) erasedSource {
	return sourceAdapter[I, A]{ds: ds}
}

func (s sourceAdapter[I, A]) name() string { return s.ds.Name() }

func (s sourceAdapter[I, A]) identity(id any) Identity {
	return s.ds.Identity(id.(I))
}

func (s sourceAdapter[I, A]) fetchOne(ctx context.Context, id any) Query[erasedOption] {
	q := s.ds.FetchOne(ctx, id.(I))
	return MapQuery(q, func(o Option[A]) erasedOption {
		v, ok := o.Get()
		return erasedOption{value: v, present: ok}
	})
}

func (s sourceAdapter[I, A]) fetchMany(ctx context.Context, ids []any) Query[map[Identity]any] {
	typed := make([]I, len(ids))
	for i, id := range ids {
		typed[i] = id.(I)
	}
	q := s.ds.FetchMany(ctx, typed)
	return MapQuery(q, func(m map[Identity]A) map[Identity]any {
		out := make(map[Identity]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	})
}

func (s sourceAdapter[I, A]) batchExecution() BatchExecution {
	return s.ds.BatchExecution()
}
