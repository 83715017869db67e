package binder

import "github.com/ehrlich-b/go-binder/internal/wire"

// TransactionFlags are the BC_TRANSACTION/BC_REPLY flags this runtime
// understands, a direct mirror of the bits the kernel itself defines.
type TransactionFlags uint32

const (
	// FlagOneWay marks a transaction that expects no reply; on
	// success the kernel emits BR_TRANSACTION_COMPLETE and nothing else.
	FlagOneWay            TransactionFlags = 0x01
	FlagRootObject        TransactionFlags = 0x04
	FlagStatusCode        TransactionFlags = 0x08
	FlagAcceptFDs         TransactionFlags = 0x10
	FlagClearBuffer       TransactionFlags = 0x20
	FlagUpdateTransaction TransactionFlags = 0x40
)

// Packet is a typed, already-marshaled request or reply payload, plus
// the offsets table recording where each embedded object reference
// sits within Data so the kernel can walk and retarget them.
type Packet struct {
	Code    uint32
	Flags   TransactionFlags
	Data    []byte
	Offsets []uint64
}

// Reader returns a cursor over this packet's payload for typed
// decoding, starting at the beginning.
func (p *Packet) Reader() *wire.Reader { return wire.NewReader(p.Data) }

// ObjectRefAt decodes the object reference recorded at the i'th
// offsets-table entry.
func (p *Packet) ObjectRefAt(i int) (*wire.ObjectRef, error) {
	if i < 0 || i >= len(p.Offsets) {
		return nil, wire.ErrShortBuffer
	}
	return p.Reader().ReadObjectRefAt(p.Offsets[i])
}

// Builder incrementally assembles a Packet's dead-simple-encoded
// payload, recording the byte offset of every embedded object
// reference as it's written. There's one format (see SPEC_FULL.md
// §4.3), so there's one builder.
type Builder struct {
	w       *wire.Writer
	offsets []uint64
}

func NewBuilder() *Builder {
	return &Builder{w: wire.NewWriter()}
}

func (b *Builder) WriteU8(v uint8) *Builder     { b.w.WriteU8(v); return b }
func (b *Builder) WriteBool(v bool) *Builder    { b.w.WriteBool(v); return b }
func (b *Builder) WriteU32(v uint32) *Builder   { b.w.WriteU32(v); return b }
func (b *Builder) WriteI32(v int32) *Builder    { b.w.WriteI32(v); return b }
func (b *Builder) WriteU64(v uint64) *Builder   { b.w.WriteU64(v); return b }
func (b *Builder) WriteI64(v int64) *Builder    { b.w.WriteI64(v); return b }
func (b *Builder) WriteF32(v float32) *Builder  { b.w.WriteF32(v); return b }
func (b *Builder) WriteF64(v float64) *Builder  { b.w.WriteF64(v); return b }
func (b *Builder) WriteBytes(v []byte) *Builder { b.w.WriteBytes(v); return b }
func (b *Builder) WriteString(v string) *Builder {
	b.w.WriteString(v)
	return b
}
func (b *Builder) WriteCString(v string) *Builder {
	b.w.WriteCString(v)
	return b
}

// WriteObjectRef embeds a wire-level object reference and records its
// offset for the kernel's object-walk. Building one of these directly
// is the province of Builder.WriteReference; most application code
// reaches this through that instead.
func (b *Builder) WriteObjectRef(ref *wire.ObjectRef) *Builder {
	offset := b.w.WriteObjectRef(ref)
	b.offsets = append(b.offsets, offset)
	return b
}

// WriteReference embeds ref as a strong object reference, local or
// handle depending on which side of the kernel boundary it points at.
// The kernel retargets a local reference into a handle for whichever
// process receives this packet. For a local reference the refs token
// itself is sent as LocalPtr; the kernel never dereferences it and
// hands the same value back as TargetPtr on a later incoming
// transaction.
func (b *Builder) WriteReference(ref *Reference) *Builder {
	if ref.isLocal {
		return b.WriteObjectRef(&wire.ObjectRef{Kind: wire.KindStrongBinder, LocalPtr: ref.token})
	}
	return b.WriteObjectRef(&wire.ObjectRef{Kind: wire.KindStrongHandle, Handle: ref.handle})
}

// Build finalizes the packet with the given transaction code and
// flags. The Builder is left usable for a fresh packet afterward.
func (b *Builder) Build(code uint32, flags TransactionFlags) *Packet {
	p := &Packet{
		Code:    code,
		Flags:   flags,
		Data:    append([]byte(nil), b.w.Bytes()...),
		Offsets: append([]uint64(nil), b.offsets...),
	}
	b.w = wire.NewWriter()
	b.offsets = nil
	return p
}
