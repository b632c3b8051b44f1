package fetch

import "errors"

// Fetch[A] is an immutable description of a dependent computation over
// data sources. It composes monadically (Map/FlatMap, sequencing) and
// applicatively (Product/Map2/Sequence/Traverse/Join, independent
// pairing); the interpreter (interpreter.go) relies on the distinction
// between the two to discover parallel work. A Fetch value may be run
// multiple times, against a fresh or shared cache, with the same result.
type Fetch[A any] struct {
	n node
}

// node is the type-erased internal tree the interpreter walks. Public
// Fetch[A] values are thin generic wrappers around one of these; type
// information is recovered via assertion at the edges (Pure/Map/FlatMap
// construction and the top-level Run call).
type node interface {
	isNode()
}

// pureNode is a resolved leaf value, whether it started that way
// (Pure) or was rewritten there by simplification once its identities
// landed in the cache.
type pureNode struct{ value any }

func (pureNode) isNode() {}

type errorNode struct{ err error }

func (errorNode) isNode() {}

type oneNode struct {
	id     any
	source erasedSource
}

func (oneNode) isNode() {}

// manyNode resolves to a map[Identity]any; order is reimposed by the
// mapNode that Many() wraps it in.
type manyNode struct {
	ids    []any
	source erasedSource
}

func (manyNode) isNode() {}

// productNode is the applicative pairing that preserves independence:
// extraction descends into both sides.
type productNode struct {
	left, right node
}

func (productNode) isNode() {}

type mapNode struct {
	inner node
	f     func(any) (any, error)
}

func (mapNode) isNode() {}

type flatMapNode struct {
	inner node
	f     func(any) (node, error)
}

func (flatMapNode) isNode() {}

// concurrentNode is the internal node Join's pre-planning introduces,
// representing one already-discovered round of independent batched
// source calls. Users never construct it directly. Once the
// interpreter's cache reflects every identity in queries, it invokes
// cont to obtain the next node to continue normalizing.
type concurrentNode struct {
	queries []FetchQuery
	cont    func(cache Cache) (node, error)
}

func (concurrentNode) isNode() {}

// pairAny is the erased pairing productNode resolves to; Product/Map2
// decode it back into a typed Pair.
type pairAny struct{ l, r any }

// Pair is the result of Product: the independently-resolved values of
// both sides.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Pure builds a Fetch that trivially yields a.
func Pure[A any](a A) Fetch[A] {
	return Fetch[A]{n: pureNode{value: a}}
}

// Fail builds a Fetch that immediately fails with err.
func Fail[A any](err error) Fetch[A] {
	return Fetch[A]{n: errorNode{err: err}}
}

// One requests one value of type A from source, keyed by id.
func One[I any, A any](id I, source DataSource[I, A]) Fetch[A] {
	return Fetch[A]{n: oneNode{id: id, source: newSourceAdapter(source)}}
}

// Many requests a non-empty list of values, one per identity,
// preserving input order. An empty ids slice is a programmer error and
// fails immediately rather than issuing a vacuous round.
func Many[I any, A any](ids []I, source DataSource[I, A]) Fetch[[]A] {
	if len(ids) == 0 {
		return Fail[[]A](errors.New("fetch: Many requires a non-empty identity list"))
	}
	adapter := newSourceAdapter(source)
	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}
	base := Fetch[map[Identity]any]{n: manyNode{ids: anyIDs, source: adapter}}
	return Map(base, func(m map[Identity]any) []A {
		out := make([]A, len(ids))
		for i, id := range ids {
			out[i] = m[adapter.identity(id)].(A)
		}
		return out
	})
}

// Map transforms the result of fa once it is available. It does not
// introduce a round boundary.
func Map[A, B any](fa Fetch[A], f func(A) B) Fetch[B] {
	return Fetch[B]{n: mapNode{
		inner: fa.n,
		f: func(v any) (any, error) {
			return f(v.(A)), nil
		},
	}}
}

// FlatMap sequences fa with a continuation that depends on fa's result.
// This introduces a data dependency and therefore a round boundary.
func FlatMap[A, B any](fa Fetch[A], f func(A) Fetch[B]) Fetch[B] {
	return Fetch[B]{n: flatMapNode{
		inner: fa.n,
		f: func(v any) (node, error) {
			return f(v.(A)).n, nil
		},
	}}
}

// Product pairs fa and fb independently: both sides' requests are
// discoverable in the same round. Use Join instead when you want both
// sides' requests pre-planned into one Concurrent round when the Fetch
// is built.
func Product[A, B any](fa Fetch[A], fb Fetch[B]) Fetch[Pair[A, B]] {
	return Fetch[Pair[A, B]]{n: mapNode{
		inner: productNode{left: fa.n, right: fb.n},
		f: func(v any) (any, error) {
			p := v.(pairAny)
			return Pair[A, B]{First: p.l.(A), Second: p.r.(B)}, nil
		},
	}}
}

// Map2 combines two independent Fetches with f, preserving the
// parallelism Product guarantees.
func Map2[A, B, C any](fa Fetch[A], fb Fetch[B], f func(A, B) C) Fetch[C] {
	return Map(Product(fa, fb), func(p Pair[A, B]) C {
		return f(p.First, p.Second)
	})
}

// Sequence runs a slice of independent Fetches of the same type,
// preserving order, and discovers all of their requests in one round
// where possible.
func Sequence[A any](fs []Fetch[A]) Fetch[[]A] {
	return Traverse(fs, func(f Fetch[A]) Fetch[A] { return f })
}

// Traverse maps f over items and runs the results independently,
// preserving order and parallelism.
func Traverse[T, A any](items []T, f func(T) Fetch[A]) Fetch[[]A] {
	if len(items) == 0 {
		return Pure[[]A](nil)
	}
	acc := Map(f(items[0]), func(a A) []A { return []A{a} })
	for _, item := range items[1:] {
		item := item
		acc = Map2(acc, f(item), func(xs []A, x A) []A {
			return append(xs, x)
		})
	}
	return acc
}

// Join is an optimized Product: it eagerly computes the combined,
// deduplicated query set of both sides, runs that as one Concurrent
// round, and recurses on the simplified pair until both sides become
// purely sequential. It is a semantic no-op versus Product — it only
// changes when the first round of I/O happens.
func Join[A, B any](fa Fetch[A], fb Fetch[B]) Fetch[Pair[A, B]] {
	return Fetch[Pair[A, B]]{n: mapNode{
		inner: joinNode(fa.n, fb.n),
		f: func(v any) (any, error) {
			p := v.(pairAny)
			return Pair[A, B]{First: p.l.(A), Second: p.r.(B)}, nil
		},
	}}
}

func joinNode(left, right node) node {
	left = normalize(left)
	right = normalize(right)

	if lerr, ok := asFailed(left); ok {
		return errorNode{err: lerr}
	}
	if rerr, ok := asFailed(right); ok {
		return errorNode{err: rerr}
	}
	if lv, ok := asResolved(left); ok {
		if rv, ok2 := asResolved(right); ok2 {
			return pureNode{value: pairAny{l: lv, r: rv}}
		}
	}

	queries := append(extractIndependent(left), extractIndependent(right)...)
	if len(queries) == 0 {
		// Both sides are stuck behind a FlatMap boundary this round
		// can't see past (e.g. depend on a value from a prior round).
		// Defer to the plain interpreter loop on the product form
		// instead of spinning: there is nothing left to pre-plan.
		return productNode{left: left, right: right}
	}

	return concurrentNode{
		queries: queries,
		cont: func(cache Cache) (node, error) {
			// Re-extracting from the POST-simplification tree is what
			// prevents double-scheduling: any One/Many already satisfied
			// by this round's cache update was rewritten to a pureNode by
			// simplifyCache below, so a second extraction pass
			// structurally cannot see it again.
			nl := simplifyCache(left, cache)
			nr := simplifyCache(right, cache)
			return joinNode(nl, nr), nil
		},
	}
}

func asResolved(n node) (any, bool) {
	if p, ok := n.(pureNode); ok {
		return p.value, true
	}
	return nil, false
}

func asFailed(n node) (error, bool) {
	if e, ok := n.(errorNode); ok {
		return e.err, true
	}
	return nil, false
}
