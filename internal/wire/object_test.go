package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectRefRoundTripLocal(t *testing.T) {
	ref := &ObjectRef{Kind: KindStrongBinder, Flags: RefFlagAcceptFDs, LocalPtr: 0x1234, Cookie: 99}
	data := ref.MarshalBinary()
	require.Len(t, data, flatBinderObjectSize)

	out, err := UnmarshalObjectRef(data)
	require.NoError(t, err)
	require.True(t, out.IsLocal())
	require.Equal(t, ref.LocalPtr, out.LocalPtr)
	require.Equal(t, ref.Cookie, out.Cookie)
	require.Equal(t, ref.Flags, out.Flags)
}

func TestObjectRefRoundTripHandle(t *testing.T) {
	ref := &ObjectRef{Kind: KindStrongHandle, Handle: 42, Cookie: 7}
	data := ref.MarshalBinary()
	out, err := UnmarshalObjectRef(data)
	require.NoError(t, err)
	require.False(t, out.IsLocal())
	require.Equal(t, uint32(42), out.Handle)
}

func TestObjectRefInvalidKind(t *testing.T) {
	data := make([]byte, flatBinderObjectSize)
	_, err := UnmarshalObjectRef(data)
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestRefFlagsPriority(t *testing.T) {
	f := RefFlags(0).WithPriority(5)
	require.Equal(t, uint8(5), f.Priority())
	f |= RefFlagAcceptFDs
	require.Equal(t, uint8(5), f.Priority())
}
