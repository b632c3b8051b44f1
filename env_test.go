package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvAppendAndRounds(t *testing.T) {
	env := NewEnv()
	env.append(Round{Index: 1, Fetched: map[string][]Identity{"users": {"1"}}, Duration: time.Millisecond})
	env.append(Round{Index: 2, Fetched: map[string][]Identity{"posts": {"1", "2"}}, Duration: time.Millisecond})

	rounds := env.Rounds()
	assert.Len(t, rounds, 2)
	assert.Equal(t, 1, rounds[0].Index)
	assert.Equal(t, 2, rounds[1].Index)
}

func TestEnvRoundsReturnsACopy(t *testing.T) {
	env := NewEnv()
	env.append(Round{Index: 1})

	rounds := env.Rounds()
	rounds[0].Index = 99

	assert.Equal(t, 1, env.Rounds()[0].Index, "mutating the returned slice must not affect the Env")
}

func TestEnvTotalFetched(t *testing.T) {
	env := NewEnv()
	env.append(Round{Fetched: map[string][]Identity{"users": {"1", "2"}}})
	env.append(Round{Fetched: map[string][]Identity{"posts": {"1"}}})

	assert.Equal(t, 3, env.TotalFetched())
}

func TestEnvSnapshotIsIndependent(t *testing.T) {
	env := NewEnv()
	env.append(Round{Index: 1})
	snap := env.Snapshot()

	env.append(Round{Index: 2})
	assert.Len(t, snap.Rounds(), 1)
	assert.Len(t, env.Rounds(), 2)
}

func TestNilEnvIsSafe(t *testing.T) {
	var env *Env
	assert.Nil(t, env.Rounds())
	assert.Equal(t, 0, env.Snapshot().TotalFetched())
}
