package wire

import "encoding/binary"

// transactionDataSize is sizeof(struct binder_transaction_data) on a
// 64-bit kernel: an 8-byte target union, 8-byte cookie, two 4-byte
// fields, a signed pid, an unsigned euid, two binder_size_t lengths and
// an 8+8 data union.
const transactionDataSize = 64

// TransactionData is the fixed-size header the kernel reads for
// BC_TRANSACTION/BC_REPLY and writes back for BR_TRANSACTION/BR_REPLY.
// TargetHandle is only meaningful when TargetIsHandle is true; sending
// to a local object (context-manager-owned transactions never do this
// from the client side) would instead populate TargetPtr.
type TransactionData struct {
	TargetIsHandle bool
	TargetHandle   uint32
	TargetPtr      uint64
	Cookie         uint64
	Code           uint32
	Flags          uint32
	SenderPID      int32
	SenderEUID     uint32
	DataSize       uint64
	OffsetsSize    uint64
	DataBuffer     uint64
	OffsetsBuffer  uint64
}

// MarshalBinary lays the struct out exactly as binder_transaction_data.
func (t *TransactionData) MarshalBinary() []byte {
	buf := make([]byte, transactionDataSize)
	if t.TargetIsHandle {
		binary.LittleEndian.PutUint32(buf[0:4], t.TargetHandle)
	} else {
		binary.LittleEndian.PutUint64(buf[0:8], t.TargetPtr)
	}
	binary.LittleEndian.PutUint64(buf[8:16], t.Cookie)
	binary.LittleEndian.PutUint32(buf[16:20], t.Code)
	binary.LittleEndian.PutUint32(buf[20:24], t.Flags)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(t.SenderPID))
	binary.LittleEndian.PutUint32(buf[28:32], t.SenderEUID)
	binary.LittleEndian.PutUint64(buf[32:40], t.DataSize)
	binary.LittleEndian.PutUint64(buf[40:48], t.OffsetsSize)
	binary.LittleEndian.PutUint64(buf[48:56], t.DataBuffer)
	binary.LittleEndian.PutUint64(buf[56:64], t.OffsetsBuffer)
	return buf
}

// UnmarshalTransactionData parses a kernel-returned binder_transaction_data.
// On BR_TRANSACTION/BR_REPLY the kernel always fills the full 8-byte
// target union with the recipient's local object pointer (never a
// handle — a process only ever hears about its own local objects this
// way), so TargetIsHandle is false and TargetPtr carries that value.
func UnmarshalTransactionData(data []byte) (*TransactionData, error) {
	if len(data) < transactionDataSize {
		return nil, ErrShortBuffer
	}
	t := &TransactionData{
		TargetIsHandle: false,
		TargetPtr:      binary.LittleEndian.Uint64(data[0:8]),
		Cookie:         binary.LittleEndian.Uint64(data[8:16]),
		Code:           binary.LittleEndian.Uint32(data[16:20]),
		Flags:          binary.LittleEndian.Uint32(data[20:24]),
		SenderPID:      int32(binary.LittleEndian.Uint32(data[24:28])),
		SenderEUID:     binary.LittleEndian.Uint32(data[28:32]),
		DataSize:       binary.LittleEndian.Uint64(data[32:40]),
		OffsetsSize:    binary.LittleEndian.Uint64(data[40:48]),
		DataBuffer:     binary.LittleEndian.Uint64(data[48:56]),
		OffsetsBuffer:  binary.LittleEndian.Uint64(data[56:64]),
	}
	return t, nil
}

// PtrCookie is the binder_ptr_cookie pair the kernel sends with
// BR_ACQUIRE/BR_RELEASE/BR_INCREFS/BR_DECREFS, and that the client
// echoes back with BC_ACQUIRE_DONE/BC_INCREFS_DONE. Ptr is the opaque
// local-object token the client itself handed the kernel earlier (see
// internal/refs), never a real dereferenceable pointer on this side.
type PtrCookie struct {
	Ptr    uint64
	Cookie uint64
}

func (p *PtrCookie) MarshalBinary() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], p.Ptr)
	binary.LittleEndian.PutUint64(buf[8:16], p.Cookie)
	return buf
}

func UnmarshalPtrCookie(data []byte) (*PtrCookie, error) {
	if len(data) < 16 {
		return nil, ErrShortBuffer
	}
	return &PtrCookie{
		Ptr:    binary.LittleEndian.Uint64(data[0:8]),
		Cookie: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}
