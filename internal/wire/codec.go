package wire

import (
	"encoding/binary"
	"math"
)

// Writer appends dead-simple-encoded values to a growable buffer:
// fixed-width scalars at their natural size, length-prefixed for
// strings and byte slices, all little-endian. There's exactly one
// format because the spec names exactly one.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) WriteU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteU8(1)
	} else {
		w.WriteU8(0)
	}
}

func (w *Writer) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }

func (w *Writer) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }
func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

func (w *Writer) WriteBytes(v []byte) {
	w.WriteU64(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *Writer) WriteString(v string) { w.WriteBytes([]byte(v)) }

// WriteCString appends v followed by a single NUL terminator, with no
// length prefix — the distinct C-string wire form alongside the
// length-prefixed WriteString. The caller must not pass a string
// containing an embedded NUL byte; that would truncate on read.
func (w *Writer) WriteCString(v string) {
	w.buf = append(w.buf, v...)
	w.buf = append(w.buf, 0)
}

// WriteObjectRef pads the buffer with zero bytes to a 4-byte boundary,
// appends a flat_binder_object and returns the byte offset it was
// written at, so the caller can record it in the packet's offsets
// table.
func (w *Writer) WriteObjectRef(ref *ObjectRef) uint64 {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
	offset := uint64(len(w.buf))
	w.buf = append(w.buf, ref.MarshalBinary()...)
	return offset
}

// Reader is the mirror-image cursor over a received dead-simple buffer.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) Pos() int       { return r.pos }
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Take returns the next n bytes and advances the cursor past them, for
// callers decoding a fixed-size payload that isn't one of the named
// Read* scalar types.
func (r *Reader) Take(n int) ([]byte, error) { return r.take(n) }

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadCString scans forward from the cursor for a NUL terminator and
// returns everything before it, advancing the cursor past the NUL.
// Unlike ReadString there is no length prefix to trust, so a missing
// terminator before the end of the buffer is reported as an error
// rather than silently consuming the rest of the buffer as the string.
func (r *Reader) ReadCString() (string, error) {
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.pos:i])
			r.pos = i + 1
			return s, nil
		}
	}
	return "", ErrMissingTerminator
}

// LittleEndianUint64 decodes a little-endian uint64 out of an
// already-sliced 8-byte span, for callers (e.g. the offsets table)
// that hold raw bytes rather than a Reader.
func LittleEndianUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// ReadObjectRefAt parses a flat_binder_object at a fixed offset from
// the start of the buffer, independent of the cursor position — object
// references are located via the packet's offsets table, not inline
// sequential reads, since a reader skips over them during normal field
// decoding.
func (r *Reader) ReadObjectRefAt(offset uint64) (*ObjectRef, error) {
	if offset+flatBinderObjectSize > uint64(len(r.buf)) {
		return nil, ErrShortBuffer
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return UnmarshalObjectRef(r.buf[offset : offset+flatBinderObjectSize])
}
