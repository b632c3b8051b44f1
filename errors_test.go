package fetch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsFetchExceptionMatchesEachKind(t *testing.T) {
	cases := []error{
		&NotFound{Source: "users", Request: "1"},
		&MissingIdentities{Missing: map[string][]Identity{"users": {"1"}}},
		&UnhandledException{Cause: errors.New("boom")},
	}
	for _, err := range cases {
		fe, ok := AsFetchException(err)
		require.True(t, ok)
		assert.Equal(t, err, fe)
	}
}

func TestAsFetchExceptionRejectsPlainError(t *testing.T) {
	_, ok := AsFetchException(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrapUnhandledLeavesFetchExceptionsAlone(t *testing.T) {
	nf := &NotFound{Source: "users", Request: "1"}
	wrapped := wrapUnhandled(NewEnv(), nf)
	assert.Same(t, error(nf), wrapped)
}

func TestWrapUnhandledWrapsPlainError(t *testing.T) {
	cause := errors.New("boom")
	wrapped := wrapUnhandled(NewEnv(), cause)

	var unhandled *UnhandledException
	require.ErrorAs(t, wrapped, &unhandled)
	assert.Equal(t, cause, unhandled.Cause)
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestWrapUnhandledPassesNilThrough(t *testing.T) {
	assert.NoError(t, wrapUnhandled(NewEnv(), nil))
}
