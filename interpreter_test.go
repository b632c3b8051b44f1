package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lambdista/fetch/config"
)

func TestRunEnvDiscardsValue(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	users.Put("1", "alice")

	env, err := RunEnv(context.Background(), One[string, string]("1", users), Options{})
	require.NoError(t, err)
	assert.Len(t, env.Rounds(), 1)
}

func TestRunFetchUsesSequentialEffectWhenConfigured(t *testing.T) {
	users, posts := newUsersAndPosts()
	program := Product(One[string, string]("1", users), One[string, string]("1", posts))

	_, env, err := RunFetch(context.Background(), program, Options{Effect: NewSequentialEffect()})
	require.NoError(t, err)
	assert.Len(t, env.Rounds(), 1)
}

func TestRunFetchReusesSeededCache(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	users.Put("1", "alice")

	seeded := NewCache().InsertAll(map[CacheKey]any{
		{Source: "users", Identity: "1"}: "cached-alice",
	})

	v, env, err := RunFetch(context.Background(), One[string, string]("1", users), Options{Cache: seeded})
	require.NoError(t, err)
	assert.Equal(t, "cached-alice", v)
	assert.Len(t, env.Rounds(), 1, "a fully pre-cached request is logged as one cache-only round")
	assert.Empty(t, users.Calls())
}

func TestRunFetchRecordsCachedHitsAcrossRounds(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	users.Put("1", "alice")

	program := FlatMap(One[string, string]("1", users), func(name string) Fetch[string] {
		return One[string, string]("1", users)
	})

	_, env, err := RunFetch(context.Background(), program, Options{})
	require.NoError(t, err)

	rounds := env.Rounds()
	require.Len(t, rounds, 2)
	assert.Equal(t, []Identity{"1"}, rounds[0].Fetched["users"])
	assert.Equal(t, []Identity{"1"}, rounds[1].CachedHits["users"])
	assert.Empty(t, rounds[1].Fetched)
}

func TestRunRespectsMaxRounds(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	users.Put("1", "a")
	users.Put("2", "b")
	users.Put("3", "c")

	var program Fetch[string] = One[string, string]("1", users)
	for _, id := range []string{"2", "3"} {
		id := id
		program = FlatMap(program, func(string) Fetch[string] {
			return One[string, string](id, users)
		})
	}

	_, err := Run(context.Background(), program)
	require.NoError(t, err, "sanity check: the unbounded run must succeed")

	_, err = RunEnv(context.Background(), program, Options{MaxRounds: 1})
	require.Error(t, err)
	var unhandled *UnhandledException
	require.ErrorAs(t, err, &unhandled)
}

func TestRunPropagatesSourceError(t *testing.T) {
	users := NewInMemorySource[string, string]("users", 0)
	src := failingSource{users}

	_, err := Run(context.Background(), Many[string, string]([]string{"1", "2"}, src))
	require.Error(t, err)
	var unhandled *UnhandledException
	require.ErrorAs(t, err, &unhandled)
}

type failingSource struct {
	*InMemorySource[string, string]
}

func (s failingSource) FetchMany(ctx context.Context, ids []string) Query[map[Identity]string] {
	return Sync(func() (map[Identity]string, error) {
		return nil, errSourceUnavailable
	})
}

var errSourceUnavailable = assertError("source unavailable")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestRunEnvTelemetryIsInvokedPerRound(t *testing.T) {
	users, posts := newUsersAndPosts()
	program := Product(One[string, string]("1", users), One[string, string]("1", posts))

	rec := &recordingTelemetry{}
	_, err := RunEnv(context.Background(), program, Options{Telemetry: rec})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count)
}

type recordingTelemetry struct{ count int }

func (r *recordingTelemetry) RecordRound(Round) { r.count++ }

func TestOptionsFromConfigAppliesMaxRounds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Interpreter.MaxRounds = 1
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, opts.MaxRounds)
}

func TestOptionsFromConfigPicksSequentialEffectWhenConcurrentRoundsDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Features.ConcurrentRounds = false
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	_, ok := opts.Effect.(SequentialEffect)
	assert.True(t, ok)
}
