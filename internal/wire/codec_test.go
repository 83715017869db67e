package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteU8(7)
	w.WriteBool(true)
	w.WriteU32(0xdeadbeef)
	w.WriteI32(-42)
	w.WriteU64(1 << 40)
	w.WriteI64(-1)
	w.WriteString("hello binder")

	r := NewReader(w.Bytes())
	v8, err := r.ReadU8()
	require.NoError(t, err)
	require.Equal(t, uint8(7), v8)

	vb, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, vb)

	v32, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), v32)

	i32, err := r.ReadI32()
	require.NoError(t, err)
	require.Equal(t, int32(-42), i32)

	v64, err := r.ReadU64()
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), v64)

	i64, err := r.ReadI64()
	require.NoError(t, err)
	require.Equal(t, int64(-1), i64)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello binder", s)

	require.Zero(t, r.Remaining())
}

func TestWriterReaderFloatRoundTrip(t *testing.T) {
	// Testable Scenario S6: write_f64(0.872); write_f32(0.3); write_u32(9)
	w := NewWriter()
	w.WriteF64(0.872)
	w.WriteF32(0.3)
	w.WriteU32(9)

	r := NewReader(w.Bytes())
	f64, err := r.ReadF64()
	require.NoError(t, err)
	require.Equal(t, 0.872, f64)

	f32, err := r.ReadF32()
	require.NoError(t, err)
	require.Equal(t, float32(0.3), f32)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(9), u32)
	require.Zero(t, r.Remaining())
}

func TestWriterReaderCStringRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteCString("context_manager")
	w.WriteU32(1)

	r := NewReader(w.Bytes())
	s, err := r.ReadCString()
	require.NoError(t, err)
	require.Equal(t, "context_manager", s)

	v, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(1), v)
}

func TestReaderCStringMissingTerminator(t *testing.T) {
	r := NewReader([]byte("no terminator here"))
	_, err := r.ReadCString()
	require.ErrorIs(t, err, ErrMissingTerminator)
}

func TestReaderCStringEmptyString(t *testing.T) {
	w := NewWriter()
	w.WriteCString("")
	r := NewReader(w.Bytes())
	s, err := r.ReadCString()
	require.NoError(t, err)
	require.Equal(t, "", s)
	require.Zero(t, r.Remaining())
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadU64()
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestReadObjectRefAtMisaligned(t *testing.T) {
	r := NewReader(make([]byte, 64))
	_, err := r.ReadObjectRefAt(3)
	require.ErrorIs(t, err, ErrMisaligned)
}

func TestReadObjectRefAtShort(t *testing.T) {
	r := NewReader(make([]byte, 8))
	_, err := r.ReadObjectRefAt(0)
	require.ErrorIs(t, err, ErrShortBuffer)
}
