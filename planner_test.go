package fetch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeReducesMapOverPure(t *testing.T) {
	n := mapNode{inner: pureNode{value: 3}, f: func(v any) (any, error) {
		return v.(int) * 2, nil
	}}
	out := normalize(n)
	p, ok := out.(pureNode)
	require.True(t, ok)
	assert.Equal(t, 6, p.value)
}

func TestNormalizePropagatesErrorThroughMap(t *testing.T) {
	wantErr := errors.New("bad")
	n := mapNode{inner: errorNode{err: wantErr}, f: func(v any) (any, error) {
		t.Fatal("f must not run on an error node")
		return nil, nil
	}}
	out := normalize(n)
	e, ok := out.(errorNode)
	require.True(t, ok)
	assert.Equal(t, wantErr, e.err)
}

func TestNormalizeProductResolvesBothSides(t *testing.T) {
	n := productNode{left: pureNode{value: 1}, right: pureNode{value: "a"}}
	out := normalize(n)
	p, ok := out.(pureNode)
	require.True(t, ok)
	pair := p.value.(pairAny)
	assert.Equal(t, 1, pair.l)
	assert.Equal(t, "a", pair.r)
}

func TestExtractIndependentCollectsBothProductSides(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	adapter := newSourceAdapter[string, string](users)
	left := oneNode{id: "1", source: adapter}
	right := oneNode{id: "2", source: adapter}
	n := productNode{left: left, right: right}

	qs := extractIndependent(n)
	require.Len(t, qs, 2)
	assert.True(t, qs[0].isOne)
	assert.True(t, qs[1].isOne)
}

func TestExtractIndependentStopsAtFlatMap(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	adapter := newSourceAdapter[string, string](users)
	inner := oneNode{id: "1", source: adapter}
	n := flatMapNode{inner: inner, f: func(v any) (node, error) {
		t.Fatal("continuation must not run during extraction")
		return nil, nil
	}}

	qs := extractIndependent(n)
	require.Len(t, qs, 1)
	assert.Equal(t, "1", qs[0].ids[0])
}

func TestSimplifyCacheRewritesOneNodeWhenCached(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	adapter := newSourceAdapter[string, string](users)
	n := oneNode{id: "1", source: adapter}

	cache := NewCache().InsertAll(map[CacheKey]any{
		{Source: "users", Identity: "1"}: "alice",
	})

	out := simplifyCache(n, cache)
	p, ok := out.(pureNode)
	require.True(t, ok)
	assert.Equal(t, "alice", p.value)
}

func TestSimplifyCacheLeavesManyNodeUnresolvedUntilAllCached(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	adapter := newSourceAdapter[string, string](users)
	n := manyNode{ids: []any{"1", "2"}, source: adapter}

	partial := NewCache().InsertAll(map[CacheKey]any{
		{Source: "users", Identity: "1"}: "alice",
	})
	out := simplifyCache(n, partial)
	_, resolved := out.(pureNode)
	assert.False(t, resolved)

	full := partial.InsertAll(map[CacheKey]any{
		{Source: "users", Identity: "2"}: "bob",
	})
	out = simplifyCache(n, full)
	p, ok := out.(pureNode)
	require.True(t, ok)
	m := p.value.(map[Identity]any)
	assert.Equal(t, "alice", m["1"])
	assert.Equal(t, "bob", m["2"])
}

func TestSimplifyCacheInvokesConcurrentContinuation(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	adapter := newSourceAdapter[string, string](users)
	fq := FetchQuery{source: adapter, ids: []any{"1"}}

	invoked := false
	n := concurrentNode{
		queries: []FetchQuery{fq},
		cont: func(cache Cache) (node, error) {
			invoked = true
			return pureNode{value: "continued"}, nil
		},
	}

	cache := NewCache().InsertAll(map[CacheKey]any{
		{Source: "users", Identity: "1"}: "alice",
	})

	out := simplifyCache(n, cache)
	assert.True(t, invoked)
	p, ok := out.(pureNode)
	require.True(t, ok)
	assert.Equal(t, "continued", p.value)
}

func TestCombineQueriesDeduplicatesWithinSource(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	adapter := newSourceAdapter[string, string](users)
	queries := []FetchQuery{
		{source: adapter, ids: []any{"1", "2"}, isOne: false},
		{source: adapter, ids: []any{"2", "3"}, isOne: false},
	}

	req := combineQueries(queries)
	require.Contains(t, req.ids, "users")
	assert.ElementsMatch(t, []any{"1", "2", "3"}, req.ids["users"])
}
