package binder

import (
	"testing"

	"github.com/ehrlich-b/go-binder/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestBuilderRoundTrip(t *testing.T) {
	p := NewBuilder().
		WriteU32(7).
		WriteString("hello").
		WriteBool(true).
		Build(0x1001, FlagOneWay)

	require.Equal(t, uint32(0x1001), p.Code)
	require.Equal(t, FlagOneWay, p.Flags)

	r := p.Reader()
	v, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(7), v)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	b, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b)
}

func TestBuilderFloatAndCString(t *testing.T) {
	p := NewBuilder().
		WriteF64(0.872).
		WriteF32(0.3).
		WriteCString("binder").
		WriteU32(9).
		Build(1, 0)

	r := p.Reader()
	f64, err := r.ReadF64()
	require.NoError(t, err)
	require.Equal(t, 0.872, f64)

	f32, err := r.ReadF32()
	require.NoError(t, err)
	require.Equal(t, float32(0.3), f32)

	s, err := r.ReadCString()
	require.NoError(t, err)
	require.Equal(t, "binder", s)

	v, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(9), v)
}

func TestBuilderRecordsObjectOffsets(t *testing.T) {
	ref := &wire.ObjectRef{Kind: wire.KindStrongHandle, Handle: 4}
	p := NewBuilder().
		WriteU32(1).
		WriteObjectRef(ref).
		WriteU32(2).
		Build(1, 0)

	require.Len(t, p.Offsets, 1)
	got, err := p.ObjectRefAt(0)
	require.NoError(t, err)
	require.Equal(t, uint32(4), got.Handle)
}

func TestBuilderIsReusableAfterBuild(t *testing.T) {
	b := NewBuilder().WriteU32(1)
	first := b.Build(1, 0)
	second := b.WriteU32(2).Build(1, 0)

	require.Len(t, first.Data, 4)
	require.Len(t, second.Data, 4)

	r := second.Reader()
	v, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(2), v, "second packet leaked first packet's data")
}

func TestPacketObjectRefAtOutOfRange(t *testing.T) {
	p := &Packet{}
	_, err := p.ObjectRefAt(0)
	require.Error(t, err, "expected error indexing an empty offsets table")
}
