package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionDataRoundTripHandle(t *testing.T) {
	td := &TransactionData{
		TargetIsHandle: true,
		TargetHandle:   3,
		Code:           0x1001,
		Flags:          1,
		DataSize:       16,
		OffsetsSize:    8,
		DataBuffer:     0x1000,
		OffsetsBuffer:  0x2000,
	}
	data := td.MarshalBinary()
	require.Len(t, data, transactionDataSize)

	// Sent outgoing data always round-trips through the handle union
	// only from this side; the kernel never hands it back verbatim, so
	// only check the fields that share layout regardless of the union
	// arm's interpretation.
	out, err := UnmarshalTransactionData(data)
	require.NoError(t, err)
	require.Equal(t, td.Code, out.Code)
	require.Equal(t, td.Flags, out.Flags)
	require.Equal(t, td.DataSize, out.DataSize)
}

func TestTransactionDataUnmarshalTargetIsPointer(t *testing.T) {
	// Simulate a kernel-delivered BR_TRANSACTION: bytes[0:8] is always
	// the recipient's local object pointer, never a handle.
	td := &TransactionData{TargetPtr: 0xcafef00d, Cookie: 0xbeef}
	data := td.MarshalBinary()
	out, err := UnmarshalTransactionData(data)
	require.NoError(t, err)
	require.False(t, out.TargetIsHandle)
	require.Equal(t, uint64(0xcafef00d), out.TargetPtr)
}

func TestTransactionDataShortBuffer(t *testing.T) {
	_, err := UnmarshalTransactionData(make([]byte, 10))
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestPtrCookieRoundTrip(t *testing.T) {
	pc := &PtrCookie{Ptr: 0x1111, Cookie: 0x2222}
	out, err := UnmarshalPtrCookie(pc.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, *pc, *out)
}
