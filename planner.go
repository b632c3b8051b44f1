package fetch

import "fmt"

// FetchQuery is one independent request discovered by extraction: a
// single identity (from a One) or a list of identities (from a Many or
// an already-planned Concurrent), all against one erased source. It is
// the unit Step 2 groups and deduplicates by source name.
type FetchQuery struct {
	source erasedSource
	ids    []any
	// isOne marks a query that originated from a single One request, as
	// opposed to a Many or an already-combined Concurrent round. The
	// interpreter uses this to decide whether a missing identity raises
	// NotFound (one) or contributes to a MissingIdentities (many).
	isOne bool
}

// SourceName reports the originating source's name, for logging.
func (q FetchQuery) SourceName() string { return q.source.name() }

// normalize performs the monadic interpreter's pure reduction (Step 8's
// "advance", minus any suspension): it beta-reduces Map/FlatMap/Product
// nodes as far as possible without performing I/O, stopping at the
// first Pure/Error result or at an unresolved One/Many/Concurrent node.
// It never touches the cache and never suspends.
func normalize(n node) node {
	switch v := n.(type) {
	case pureNode, errorNode, oneNode, manyNode, concurrentNode:
		return v
	case productNode:
		l := normalize(v.left)
		r := normalize(v.right)
		if lerr, ok := asFailed(l); ok {
			return errorNode{err: lerr}
		}
		if rerr, ok := asFailed(r); ok {
			return errorNode{err: rerr}
		}
		if lv, ok := asResolved(l); ok {
			if rv, ok2 := asResolved(r); ok2 {
				return pureNode{value: pairAny{l: lv, r: rv}}
			}
		}
		return productNode{left: l, right: r}
	case mapNode:
		inner := normalize(v.inner)
		if err, ok := asFailed(inner); ok {
			return errorNode{err: err}
		}
		if val, ok := asResolved(inner); ok {
			out, err := v.f(val)
			if err != nil {
				return errorNode{err: err}
			}
			return pureNode{value: out}
		}
		return mapNode{inner: inner, f: v.f}
	case flatMapNode:
		inner := normalize(v.inner)
		if err, ok := asFailed(inner); ok {
			return errorNode{err: err}
		}
		if val, ok := asResolved(inner); ok {
			next, err := v.f(val)
			if err != nil {
				return errorNode{err: err}
			}
			return normalize(next)
		}
		return flatMapNode{inner: inner, f: v.f}
	default:
		panic(fmt.Sprintf("fetch: unknown node type %T", n))
	}
}

// extractIndependent walks the head of an already-normalized program,
// collecting every One/Many/Concurrent node that could run now (Step
// 1). Pure and Error nodes contribute nothing; One/Many/Concurrent
// contribute themselves and the walk does not cross them; Product
// recurses into both sides since both are independent; Map/FlatMap
// recurse only into their (blocking) inner node.
func extractIndependent(n node) []FetchQuery {
	switch v := n.(type) {
	case pureNode, errorNode:
		return nil
	case oneNode:
		return []FetchQuery{{source: v.source, ids: []any{v.id}, isOne: true}}
	case manyNode:
		ids := make([]any, len(v.ids))
		copy(ids, v.ids)
		return []FetchQuery{{source: v.source, ids: ids}}
	case concurrentNode:
		out := make([]FetchQuery, len(v.queries))
		copy(out, v.queries)
		return out
	case productNode:
		return append(extractIndependent(v.left), extractIndependent(v.right)...)
	case mapNode:
		return extractIndependent(v.inner)
	case flatMapNode:
		return extractIndependent(v.inner)
	default:
		return nil
	}
}

// simplifyCache rewrites every node in the tree whose identities are
// now all present in cache into a resolved leaf (Step 7). It recurses
// everywhere, including into FlatMap's inner (but never calls a
// FlatMap's continuation — that is normalize's job on the next pass).
func simplifyCache(n node, cache Cache) node {
	switch v := n.(type) {
	case pureNode, errorNode:
		return v
	case oneNode:
		key := CacheKey{Source: v.source.name(), Identity: v.source.identity(v.id)}
		if val, ok := cache.Get(key); ok {
			return pureNode{value: val}
		}
		return v
	case manyNode:
		out := make(map[Identity]any, len(v.ids))
		for _, id := range v.ids {
			identity := v.source.identity(id)
			key := CacheKey{Source: v.source.name(), Identity: identity}
			val, ok := cache.Get(key)
			if !ok {
				return v
			}
			out[identity] = val
		}
		return pureNode{value: out}
	case concurrentNode:
		for _, q := range v.queries {
			for _, id := range q.ids {
				key := CacheKey{Source: q.source.name(), Identity: q.source.identity(id)}
				if !cache.Contains(key) {
					return v
				}
			}
		}
		// All of this round's identities are now cached: invoke the
		// planned continuation (join's recursive re-extraction) and
		// keep simplifying in case it resolves immediately.
		next, err := v.cont(cache)
		if err != nil {
			return errorNode{err: err}
		}
		return simplifyCache(next, cache)
	case productNode:
		return productNode{left: simplifyCache(v.left, cache), right: simplifyCache(v.right, cache)}
	case mapNode:
		return mapNode{inner: simplifyCache(v.inner, cache), f: v.f}
	case flatMapNode:
		return flatMapNode{inner: simplifyCache(v.inner, cache), f: v.f}
	default:
		return v
	}
}
