package binder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalReferenceDispatchesInProcess(t *testing.T) {
	rt, _ := NewTestRuntime(DefaultRuntimeConfig())
	mock := NewMockBinderObject()
	mock.Reply = NewBuilder().WriteU32(9).Build(1, 0)

	ref := rt.Register(mock)
	reply, err := ref.DoTransaction(1, NewBuilder().WriteU32(1).Build(1, 0))
	require.NoError(t, err)

	v, err := reply.Reader().ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(9), v)
	require.Equal(t, 1, mock.Calls())

	code, _ := mock.Last()
	require.Equal(t, uint32(1), code)
}

func TestLocalReferenceAfterUnregisteredIsUnreachable(t *testing.T) {
	rt, _ := NewTestRuntime(DefaultRuntimeConfig())
	mock := NewMockBinderObject()
	ref := rt.Register(mock)

	// Simulate the kernel having already dropped the last strong count
	// (Acquire then Release) before anyone calls through the reference
	// again.
	rt.local.Acquire(ref.token)
	rt.local.Release(ref.token)

	_, err := ref.DoTransaction(1, NewBuilder().Build(1, 0))
	require.True(t, IsCode(err, ErrCodeUnreachableTarget))
}

func TestReferenceReleaseIsIdempotent(t *testing.T) {
	rt, _ := NewTestRuntime(DefaultRuntimeConfig())
	ref := remoteReference(rt, 5)
	rt.remote.Acquire(5)

	require.NoError(t, ref.Release(), "first Release")
	require.NoError(t, ref.Release(), "second Release should be a no-op")
}

func TestLocalIsImplementedUsesCapabilityChecker(t *testing.T) {
	rt, _ := NewTestRuntime(DefaultRuntimeConfig())
	mock := NewMockBinderObject()
	mock.Implemented = map[uint32]bool{1: true, 2: false}
	ref := rt.Register(mock)

	ok, err := ref.IsImplemented(1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ref.IsImplemented(2)
	require.NoError(t, err)
	require.False(t, ok)
}
