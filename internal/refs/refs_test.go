package refs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalTableRegisterAcquireRelease(t *testing.T) {
	lt := NewLocalTable()
	token := lt.Register("object-a")

	obj, ok := lt.Lookup(token)
	require.True(t, ok)
	require.Equal(t, "object-a", obj)

	require.NoError(t, lt.Acquire(token))
	require.Error(t, lt.Acquire(token), "expected error on duplicate Acquire")

	state, err := lt.Release(token)
	require.NoError(t, err)
	require.False(t, state.HasStrong)

	_, ok = lt.Lookup(token)
	require.False(t, ok, "expected entry removed once both strong and weak counts are gone")
}

func TestLocalTableReleaseWithoutAcquireIsFatal(t *testing.T) {
	lt := NewLocalTable()
	token := lt.Register("x")
	_, err := lt.Release(token)
	require.Error(t, err, "expected error releasing a token never acquired")
}

func TestLocalTableReleaseUnregisteredIsFatal(t *testing.T) {
	lt := NewLocalTable()
	_, err := lt.Release(999)
	require.Error(t, err, "expected error releasing an unregistered token")
}

func TestLocalTableWeakKeepsEntryAliveAfterStrongRelease(t *testing.T) {
	lt := NewLocalTable()
	token := lt.Register("x")
	require.NoError(t, lt.Acquire(token))
	require.NoError(t, lt.AcquireWeak(token))

	_, err := lt.Release(token)
	require.NoError(t, err)

	_, ok := lt.Lookup(token)
	require.True(t, ok, "expected entry to survive strong release while weak is still held")

	_, err = lt.ReleaseWeak(token)
	require.NoError(t, err)

	_, ok = lt.Lookup(token)
	require.False(t, ok, "expected entry removed once weak is also released")
}

func TestLocalTableTokensNeverReused(t *testing.T) {
	lt := NewLocalTable()
	a := lt.Register("a")
	lt.Acquire(a)
	lt.Release(a)
	b := lt.Register("b")
	require.NotEqual(t, a, b, "token reused")
}

func TestRemoteTableAcquireReleaseParity(t *testing.T) {
	rt := NewRemoteTable()
	require.True(t, rt.Acquire(5), "expected first Acquire to report isFirst")
	require.False(t, rt.Acquire(5), "expected second Acquire to not report isFirst")
	require.False(t, rt.Release(5), "expected first Release (of two) to not report isLast")
	require.True(t, rt.Release(5), "expected second Release to report isLast")
}

func TestRemoteTableHandleZeroNeverReleases(t *testing.T) {
	rt := NewRemoteTable()
	rt.Acquire(0)
	require.False(t, rt.Release(0), "handle 0 (the context manager) must never report isLast")
}

func TestRemoteTableForget(t *testing.T) {
	rt := NewRemoteTable()
	rt.Acquire(9)
	rt.Forget(9)
	// After Forget, bookkeeping restarts cleanly: the next Acquire is
	// first again rather than continuing a stale count.
	require.True(t, rt.Acquire(9), "expected Acquire after Forget to report isFirst again")
}
