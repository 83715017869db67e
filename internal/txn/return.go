package txn

import (
	"fmt"

	"github.com/ehrlich-b/go-binder/internal/constants"
	"github.com/ehrlich-b/go-binder/internal/wire"
)

// Kind discriminates the parsed ReturnValue variants below.
type Kind int

const (
	KindOK Kind = iota
	KindNoop
	KindSpawnLooper
	KindTransactionComplete
	KindDeadReply
	KindFailedReply
	KindTransaction
	KindReply
	KindAcquire
	KindRelease
	KindAcquireWeak
	KindReleaseWeak
	KindDeadBinder
	KindError
)

// ReturnValue is one parsed BR_* entry. Only the fields relevant to
// Kind are populated.
type ReturnValue struct {
	Kind        Kind
	Transaction *wire.TransactionData // KindTransaction / KindReply
	PtrCookie   *wire.PtrCookie       // KindAcquire/Release/AcquireWeak/ReleaseWeak
	DeadHandle  uint64                // KindDeadBinder
	Errno       int32                 // KindError
}

// ReturnBuffer is the parsed form of one BINDER_WRITE_READ read-buffer
// fill: a raw byte slice the kernel wrote into, and the ReturnValues
// already decoded from it.
type ReturnBuffer struct {
	raw    []byte
	parsed []ReturnValue
}

func NewReturnBuffer(size int) *ReturnBuffer {
	if size <= 0 {
		size = constants.DefaultReturnBufferSize
	}
	return &ReturnBuffer{raw: make([]byte, size)}
}

func (r *ReturnBuffer) reset() { r.parsed = r.parsed[:0] }

func (r *ReturnBuffer) Values() []ReturnValue { return r.parsed }

// parse walks filled bytes of r.raw, decoding one ReturnValue per
// BR_* tag. An unrecognized tag or truncated payload is a malformed
// kernel reply and is surfaced as an error rather than silently
// skipped, since desyncing the read cursor would corrupt every
// following entry in the same batch.
func (r *ReturnBuffer) parse(filled int) error {
	reader := wire.NewReader(r.raw[:filled])
	for reader.Remaining() > 0 {
		tagRaw, err := reader.ReadU32()
		if err != nil {
			return err
		}
		tag := wire.ReturnCode(tagRaw)

		switch tag {
		case wire.BRNoop:
			r.parsed = append(r.parsed, ReturnValue{Kind: KindNoop})
		case wire.BROK:
			r.parsed = append(r.parsed, ReturnValue{Kind: KindOK})
		case wire.BRSpawnLooper:
			r.parsed = append(r.parsed, ReturnValue{Kind: KindSpawnLooper})
		case wire.BRTransactionComplete:
			r.parsed = append(r.parsed, ReturnValue{Kind: KindTransactionComplete})
		case wire.BRDeadReply:
			r.parsed = append(r.parsed, ReturnValue{Kind: KindDeadReply})
		case wire.BRFailedReply:
			r.parsed = append(r.parsed, ReturnValue{Kind: KindFailedReply})
		case wire.BRFinished:
			// Not emitted by the client-facing protocol this runtime
			// speaks; treated as a no-op bookkeeping entry.
			r.parsed = append(r.parsed, ReturnValue{Kind: KindNoop})
		case wire.BRError:
			v, err := reader.ReadI32()
			if err != nil {
				return err
			}
			r.parsed = append(r.parsed, ReturnValue{Kind: KindError, Errno: v})
		case wire.BRTransaction, wire.BRReply:
			body, err := reader.Take(transactionPayloadSize())
			if err != nil {
				return err
			}
			td, err := wire.UnmarshalTransactionData(body)
			if err != nil {
				return err
			}
			kind := KindTransaction
			if tag == wire.BRReply {
				kind = KindReply
			}
			r.parsed = append(r.parsed, ReturnValue{Kind: kind, Transaction: td})
		case wire.BRAcquire, wire.BRRelease, wire.BRIncrefs, wire.BRDecrefs:
			body, err := reader.Take(16)
			if err != nil {
				return err
			}
			pc, err := wire.UnmarshalPtrCookie(body)
			if err != nil {
				return err
			}
			kind := map[wire.ReturnCode]Kind{
				wire.BRAcquire: KindAcquire,
				wire.BRRelease: KindRelease,
				wire.BRIncrefs: KindAcquireWeak,
				wire.BRDecrefs: KindReleaseWeak,
			}[tag]
			r.parsed = append(r.parsed, ReturnValue{Kind: kind, PtrCookie: pc})
		case wire.BRDeadBinder:
			v, err := reader.ReadU64()
			if err != nil {
				return err
			}
			r.parsed = append(r.parsed, ReturnValue{Kind: KindDeadBinder, DeadHandle: v})
		default:
			return fmt.Errorf("txn: unrecognized return tag %#x", uint32(tag))
		}
	}
	return nil
}

// transactionPayloadSize returns how many bytes follow a BR_TRANSACTION
// /BR_REPLY tag: sizeof(struct binder_transaction_data), factored out so
// the 64 only needs to be named once.
func transactionPayloadSize() int { return 64 }
