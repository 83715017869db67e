package wire

import (
	"encoding/binary"
	"errors"
)

var (
	ErrShortBuffer       = errors.New("wire: buffer too short")
	ErrInvalidKind       = errors.New("wire: unrecognized object kind")
	ErrMisaligned        = errors.New("wire: object offset not 4-byte aligned")
	ErrMissingTerminator = errors.New("wire: c-string missing NUL terminator")
)

// objectTypeLarge is the high byte every flat_binder_object kind tag
// shares (BINDER_TYPE_LARGE in the kernel header); the low three bytes
// spell out which kind it is.
const objectTypeLarge = 0x85

func packKind(c1, c2, c3 byte) uint32 {
	return uint32(c1)<<24 | uint32(c2)<<16 | uint32(c3)<<8 | objectTypeLarge
}

// Kind tags for the four wire reference shapes this runtime sends or
// receives embedded in a packet. Weak variants are accepted on the
// wire (the kernel can hand either back) but this runtime's object
// model only ever originates strong references; see internal/refs.
var (
	KindStrongBinder = packKind('s', 'b', '*')
	KindWeakBinder   = packKind('w', 'b', '*')
	KindStrongHandle = packKind('s', 'h', '*')
	KindWeakHandle   = packKind('w', 'h', '*')
)

// RefFlags carries the per-reference bits the kernel round-trips
// alongside a flat_binder_object: whether the receiving process may
// accept file descriptors from this reference, whether a security
// context should be attached, and an 8-bit scheduling priority in the
// low byte (0 is highest priority).
type RefFlags uint32

const (
	RefFlagAcceptFDs           RefFlags = 0x100
	RefFlagSendSecurityContext RefFlags = 0x1000
	refPriorityMask            RefFlags = 0xff
)

func (f RefFlags) Priority() uint8       { return uint8(f & refPriorityMask) }
func (f RefFlags) WithPriority(p uint8) RefFlags {
	return (f &^ refPriorityMask) | RefFlags(p)
}

// ObjectRef is the 24-byte on-wire flat_binder_object: a kind header, a
// flags word, a 8-byte union holding either a local object's token or a
// remote handle number, and an 8-byte cookie. Which union arm is valid
// is determined entirely by Kind.
type ObjectRef struct {
	Kind      uint32
	Flags     RefFlags
	Handle    uint32 // valid when Kind is *Handle
	LocalPtr  uint64 // valid when Kind is *Binder
	Cookie    uint64
}

func (o *ObjectRef) IsLocal() bool {
	return o.Kind == KindStrongBinder || o.Kind == KindWeakBinder
}

func (o *ObjectRef) MarshalBinary() []byte {
	buf := make([]byte, flatBinderObjectSize)
	binary.LittleEndian.PutUint32(buf[0:4], o.Kind)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(o.Flags))
	if o.IsLocal() {
		binary.LittleEndian.PutUint64(buf[8:16], o.LocalPtr)
	} else {
		binary.LittleEndian.PutUint32(buf[8:12], o.Handle)
	}
	binary.LittleEndian.PutUint64(buf[16:24], o.Cookie)
	return buf
}

func UnmarshalObjectRef(data []byte) (*ObjectRef, error) {
	if len(data) < flatBinderObjectSize {
		return nil, ErrShortBuffer
	}
	o := &ObjectRef{
		Kind:   binary.LittleEndian.Uint32(data[0:4]),
		Flags:  RefFlags(binary.LittleEndian.Uint32(data[4:8])),
		Cookie: binary.LittleEndian.Uint64(data[16:24]),
	}
	switch o.Kind {
	case KindStrongBinder, KindWeakBinder:
		o.LocalPtr = binary.LittleEndian.Uint64(data[8:16])
	case KindStrongHandle, KindWeakHandle:
		o.Handle = binary.LittleEndian.Uint32(data[8:12])
	default:
		return nil, ErrInvalidKind
	}
	return o, nil
}
