package fetch

import (
	"context"
	"time"

	"github.com/lambdista/fetch/internal/bufpool"
	"github.com/lambdista/fetch/internal/tracelog"
)

// Options configures a single interpreter run.
type Options struct {
	// Effect picks the execution strategy for Ap/RunQuery. Defaults to
	// NewGoroutineEffect() when unset.
	Effect Effect
	// Cache seeds the run with a pre-populated Cache. Defaults to a
	// fresh NewCache().
	Cache Cache
	// Logger receives structured per-round diagnostics. Defaults to
	// tracelog.Nop().
	Logger *tracelog.Logger
	// Telemetry receives per-round span and counter events. Defaults to
	// NoopTelemetry().
	Telemetry Telemetry
	// MaxRounds bounds the number of interpreter rounds before giving up
	// with an UnhandledException, guarding against a source bug that
	// never converges (e.g. a FlatMap continuation that keeps producing
	// fresh identities). Zero means unlimited.
	MaxRounds int
}

func (o Options) withDefaults() Options {
	if o.Effect == nil {
		o.Effect = NewGoroutineEffect()
	}
	if o.Cache == nil {
		o.Cache = NewCache()
	}
	if o.Logger == nil {
		o.Logger = tracelog.Nop()
	}
	if o.Telemetry == nil {
		o.Telemetry = NoopTelemetry()
	}
	return o
}

// Run interprets fa to completion using default options (a concurrent
// Effect, a fresh Cache, no logging or telemetry) and returns its
// result, discarding the Env.
func Run[A any](ctx context.Context, fa Fetch[A]) (A, error) {
	v, _, err := RunFetch(ctx, fa, Options{})
	return v, err
}

// RunEnv interprets fa with the given Options and returns only the Env
// recording every round executed, discarding the resolved value.
func RunEnv[A any](ctx context.Context, fa Fetch[A], opts Options) (*Env, error) {
	_, env, err := RunFetch(ctx, fa, opts)
	return env, err
}

// RunFetch interprets fa with the given Options and returns both the
// resolved value and the Env recording every round executed, whether
// or not the run succeeded.
func RunFetch[A any](ctx context.Context, fa Fetch[A], opts Options) (A, *Env, error) {
	opts = opts.withDefaults()
	env := NewEnv()
	interp := &interpreter{
		effect:    opts.Effect,
		cache:     opts.Cache,
		log:       opts.Logger,
		telemetry: opts.Telemetry,
		env:       env,
		maxRounds: opts.MaxRounds,
	}

	result, err := interp.run(ctx, fa.n)
	var zero A
	if err != nil {
		return zero, env, err
	}
	v, ok := result.(A)
	if !ok {
		return zero, env, wrapUnhandled(env, &typeMismatchError{want: zero})
	}
	return v, env, nil
}

type typeMismatchError struct{ want any }

func (e *typeMismatchError) Error() string {
	return "fetch: resolved value does not match the requested type"
}

// interpreter holds the state threaded through the round loop (C5).
type interpreter struct {
	effect    Effect
	cache     Cache
	log       *tracelog.Logger
	telemetry Telemetry
	env       *Env

	maxRounds int
	round     int
}

func (in *interpreter) run(ctx context.Context, n node) (any, error) {
	for {
		n = normalize(n)

		if err, ok := asFailed(n); ok {
			return nil, wrapUnhandled(in.env, err)
		}
		if v, ok := asResolved(n); ok {
			return v, nil
		}

		queries := extractIndependent(n)
		if len(queries) == 0 {
			// n is blocked behind a FlatMap whose inner value isn't
			// resolved or failed, yet extraction found nothing to run:
			// this only happens if normalize and extractIndependent
			// disagree about node shapes, which would be a bug in this
			// package rather than a user program error.
			return nil, wrapUnhandled(in.env, errStuckProgram)
		}

		if in.maxRounds > 0 && in.round >= in.maxRounds {
			return nil, wrapUnhandled(in.env, errTooManyRounds)
		}

		if err := in.executeRound(ctx, queries); err != nil {
			return nil, err
		}
		n = simplifyCache(n, in.cache)
	}
}

var errTooManyRounds = &maxRoundsExceededError{}

type maxRoundsExceededError struct{}

func (*maxRoundsExceededError) Error() string {
	return "fetch: exceeded the configured maximum number of interpreter rounds"
}

var errStuckProgram = &stuckProgramError{}

type stuckProgramError struct{}

func (*stuckProgramError) Error() string {
	return "fetch: program made no progress (no independent requests found on an unresolved node)"
}

// combinedRequest is the per-source, deduplicated identity set produced
// by Step 2 from one round's extracted queries.
type combinedRequest struct {
	sources map[string]erasedSource
	ids     map[string][]any
}

// combineQueries groups queries by source and deduplicates identities
// within each source group (Step 2), using internal/bufpool's scratch
// containers to keep steady-state allocations flat across rounds.
func combineQueries(queries []FetchQuery) *combinedRequest {
	sources := make(map[string]erasedSource, len(queries))
	grouped := bufpool.GetGroupMap()
	seen := make(map[string]map[string]struct{}, len(queries))

	for _, q := range queries {
		name := q.source.name()
		if _, ok := sources[name]; !ok {
			sources[name] = q.source
		}

		set, ok := seen[name]
		if !ok {
			set = bufpool.GetStringSet()
			seen[name] = set
		}

		list, ok := grouped[name]
		if !ok {
			list = bufpool.GetAnySlice()
		}
		for _, id := range q.ids {
			key := string(q.source.identity(id))
			if _, dup := set[key]; dup {
				continue
			}
			set[key] = struct{}{}
			list = append(list, id)
		}
		grouped[name] = list
	}

	for _, set := range seen {
		bufpool.PutStringSet(set)
	}

	// Copy out of the pooled map/slices into plain containers the rest
	// of the round can retain past this function's scope; the pooled
	// originals are returned to the pool once copied.
	ids := make(map[string][]any, len(grouped))
	for name, list := range grouped {
		cp := make([]any, len(list))
		copy(cp, list)
		ids[name] = cp
		bufpool.PutAnySlice(list)
	}
	bufpool.PutGroupMap(grouped)

	return &combinedRequest{sources: sources, ids: ids}
}

// filterCached splits each source's combined identities into those
// already present in cache and those that must actually be fetched
// (Step 3).
func filterCached(req *combinedRequest, cache Cache) (toFetch map[string][]any, cachedHits map[string][]Identity) {
	toFetch = make(map[string][]any, len(req.ids))
	cachedHits = make(map[string][]Identity, len(req.ids))

	for name, ids := range req.ids {
		source := req.sources[name]
		var pending []any
		var hits []Identity
		for _, id := range ids {
			identity := source.identity(id)
			if cache.Contains(CacheKey{Source: name, Identity: identity}) {
				hits = append(hits, identity)
				continue
			}
			pending = append(pending, id)
		}
		if len(pending) > 0 {
			toFetch[name] = pending
		}
		if len(hits) > 0 {
			cachedHits[name] = hits
		}
	}
	return toFetch, cachedHits
}

type sourceResult struct {
	name string
	m    map[Identity]any
	err  error
}

// executeRound performs Steps 2-6 for one batch of independent queries:
// combine and dedupe, filter against the cache, run the remaining
// fetches concurrently via the configured Effect, detect missing
// identities, and fold the results into the cache. The caller
// (interpreter.run) is responsible for re-simplifying the program tree
// against the updated cache afterward.
func (in *interpreter) executeRound(ctx context.Context, queries []FetchQuery) error {
	start := time.Now()
	in.round++

	req := combineQueries(queries)
	toFetch, cachedHits := filterCached(req, in.cache)

	requested := make(map[string][]Identity, len(req.ids))
	for name, ids := range req.ids {
		source := req.sources[name]
		list := make([]Identity, len(ids))
		for i, id := range ids {
			list[i] = source.identity(id)
		}
		requested[name] = list
	}

	results, err := in.runSources(ctx, req, toFetch)
	if err != nil {
		wrapped := wrapUnhandled(in.env, err)
		in.finishRound(start, requested, cachedHits, nil, nil, wrapped)
		return wrapped
	}

	pairs := make(map[CacheKey]any)
	fetched := make(map[string][]Identity, len(results))
	for _, r := range results {
		ids := make([]Identity, 0, len(r.m))
		for identity, value := range r.m {
			pairs[CacheKey{Source: r.name, Identity: identity}] = value
			ids = append(ids, identity)
		}
		if len(ids) > 0 {
			fetched[r.name] = ids
		}
	}
	in.cache = in.cache.InsertAll(pairs)

	missErr := in.detectMissing(queries)
	var missing map[string][]Identity
	if mi, ok := missErr.(*MissingIdentities); ok {
		missing = mi.Missing
	}
	in.finishRound(start, requested, cachedHits, fetched, missing, missErr)
	if missErr != nil {
		// Snapshot only now: the round just logged above is already
		// part of in.env, so it is included in what the caller sees.
		switch e := missErr.(type) {
		case *NotFound:
			e.Env = in.env.Snapshot()
		case *MissingIdentities:
			e.Env = in.env.Snapshot()
		}
		return missErr
	}
	return nil
}

// runSources issues one call per source with pending identities,
// scheduling them concurrently through a single Query[[]sourceResult]
// folded via Ap so the Effect decides how much overlap actually
// happens (GoroutineEffect: concurrently; SequentialEffect: in order).
// A group that deduplicated down to a single identity goes through
// FetchOne rather than FetchMany (Step 2's "a group of size 1 becomes a
// One"); a larger group whose source hints Sequentially is still
// issued as a batch call, but as a sequence of FetchOne calls evaluated
// synchronously rather than the source's FetchMany.
func (in *interpreter) runSources(ctx context.Context, req *combinedRequest, toFetch map[string][]any) ([]sourceResult, error) {
	if len(toFetch) == 0 {
		return nil, nil
	}

	acc := Sync(func() ([]sourceResult, error) { return nil, nil })
	for name, ids := range toFetch {
		name, ids := name, ids
		source := req.sources[name]
		q := fetchSourceGroup(ctx, source, ids)
		acc = Ap(acc, q, func(xs []sourceResult, r sourceResult) []sourceResult {
			return append(xs, r)
		})
	}

	m := in.effect.RunQuery(acc.n)
	v, err := m(ctx)
	if err != nil {
		return nil, err
	}
	return v.([]sourceResult), nil
}

// fetchSourceGroup builds the Query that resolves one source's pending
// identities, picking FetchOne or FetchMany per the group's size and
// the source's BatchExecution hint.
func fetchSourceGroup(ctx context.Context, source erasedSource, ids []any) Query[sourceResult] {
	name := source.name()
	if len(ids) == 1 {
		return fetchOneResult(ctx, source, ids[0])
	}
	if source.batchExecution() == Sequentially {
		return Sync(func() (sourceResult, error) {
			m := make(map[Identity]any, len(ids))
			for _, id := range ids {
				opt, err := runSequentially[erasedOption](ctx, source.fetchOne(ctx, id))
				if err != nil {
					return sourceResult{}, err
				}
				if opt.present {
					m[source.identity(id)] = opt.value
				}
			}
			return sourceResult{name: name, m: m}, nil
		})
	}
	return MapQuery(source.fetchMany(ctx, ids), func(m map[Identity]any) sourceResult {
		return sourceResult{name: name, m: m}
	})
}

// fetchOneResult wraps a single FetchOne call as a sourceResult so a
// deduplicated group of size 1 folds into runSources' Ap chain the same
// way a FetchMany result does.
func fetchOneResult(ctx context.Context, source erasedSource, id any) Query[sourceResult] {
	identity := source.identity(id)
	name := source.name()
	return MapQuery(source.fetchOne(ctx, id), func(o erasedOption) sourceResult {
		m := make(map[Identity]any, 1)
		if o.present {
			m[identity] = o.value
		}
		return sourceResult{name: name, m: m}
	})
}

// detectMissing raises NotFound for a One whose identity is still
// absent from the cache after this round's fetch, or MissingIdentities
// for a Many with one or more still-absent identities (Step 5). The
// returned error's Env is left nil; executeRound fills it in once the
// failing round itself has been appended to the log, so the snapshot
// attached to the error reflects the state at the moment of failure,
// round included — matching how UnhandledException's Env (a live
// pointer into the same Env) behaves.
func (in *interpreter) detectMissing(queries []FetchQuery) error {
	missing := make(map[string][]Identity)
	for _, q := range queries {
		var missingForQuery []Identity
		for _, id := range q.ids {
			identity := q.source.identity(id)
			key := CacheKey{Source: q.source.name(), Identity: identity}
			if !in.cache.Contains(key) {
				missingForQuery = append(missingForQuery, identity)
			}
		}
		if len(missingForQuery) == 0 {
			continue
		}
		if q.isOne {
			return &NotFound{Source: q.source.name(), Request: missingForQuery[0]}
		}
		missing[q.source.name()] = append(missing[q.source.name()], missingForQuery...)
	}
	if len(missing) > 0 {
		return &MissingIdentities{Missing: missing}
	}
	return nil
}

func (in *interpreter) finishRound(start time.Time, requested, cachedHits, fetched, missing map[string][]Identity, err error) {
	r := Round{
		Index:      in.round,
		Requested:  requested,
		CachedHits: cachedHits,
		Fetched:    fetched,
		Missing:    missing,
		Err:        err,
		Duration:   time.Since(start),
	}
	in.env.append(r)
	in.telemetry.RecordRound(r)

	fields := []tracelog.Field{
		tracelog.F("round", r.Index),
		tracelog.F("duration_ms", r.Duration.Milliseconds()),
		tracelog.F("sources", len(r.Requested)),
	}
	if err != nil {
		in.log.Warn("fetch round failed", append(fields, tracelog.F("error", err.Error()))...)
		return
	}
	in.log.Debug("fetch round completed", fields...)
}
