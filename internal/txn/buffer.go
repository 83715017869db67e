// Package txn implements the command/return buffer pair and the
// shared exec loop both the transaction engine and the looper drive:
// building up a batch of BC_* commands, submitting them with one
// BINDER_WRITE_READ, and parsing the resulting BR_* stream into typed
// ReturnValues. This generalizes the teacher's per-tag batch-then-flush
// shape in queue.Runner.processRequests from a fixed ring of I/O slots
// to an open-ended command/return stream.
package txn

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/ehrlich-b/go-binder/internal/constants"
	"github.com/ehrlich-b/go-binder/internal/kioctl"
	"github.com/ehrlich-b/go-binder/internal/wire"
)

// CommandBuffer accumulates BC_* commands before a single
// BINDER_WRITE_READ submits all of them together. consumed tracks how
// many leading bytes of buf the kernel has already accepted across a
// sequence of partial-write attempts, so a WouldBlockOnWrite doesn't
// need the caller to remember a byte offset itself — the next Exec
// call just resumes from where the last one left off.
type CommandBuffer struct {
	buf      []byte
	consumed int
}

func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{buf: make([]byte, 0, constants.DefaultCommandBufferSize)}
}

func (c *CommandBuffer) Len() int { return len(c.buf) }

func (c *CommandBuffer) reset() { c.buf = c.buf[:0]; c.consumed = 0 }

// pending returns the command bytes the kernel hasn't accepted yet —
// every byte on a fresh buffer, or only the remainder after a prior
// attempt reported WouldBlockOnWrite.
func (c *CommandBuffer) pending() []byte { return c.buf[c.consumed:] }

func (c *CommandBuffer) putOpcode(op wire.Command) {
	var b [4]byte
	le32(b[:], uint32(op))
	c.buf = append(c.buf, b[:]...)
}

func (c *CommandBuffer) EnterLooper() *CommandBuffer {
	c.putOpcode(wire.BCEnterLooper)
	return c
}

func (c *CommandBuffer) ExitLooper() *CommandBuffer {
	c.putOpcode(wire.BCExitLooper)
	return c
}

func (c *CommandBuffer) RegisterLooper() *CommandBuffer {
	c.putOpcode(wire.BCRegisterLooper)
	return c
}

// Transaction enqueues BC_TRANSACTION (oneWay reply == false skipped by
// the caller never sending one) or BC_REPLY, carrying a pre-marshaled
// binder_transaction_data payload.
func (c *CommandBuffer) Transaction(data *wire.TransactionData, isReply bool) *CommandBuffer {
	if isReply {
		c.putOpcode(wire.BCReply)
	} else {
		c.putOpcode(wire.BCTransaction)
	}
	c.buf = append(c.buf, data.MarshalBinary()...)
	return c
}

// FreeBuffer enqueues BC_FREE_BUFFER, releasing a kernel-owned buffer
// received from a BR_TRANSACTION/BR_REPLY back to the kernel.
func (c *CommandBuffer) FreeBuffer(bufferPtr uint64) *CommandBuffer {
	c.putOpcode(wire.BCFreeBuffer)
	var b [8]byte
	le64(b[:], bufferPtr)
	c.buf = append(c.buf, b[:]...)
	return c
}

func (c *CommandBuffer) putHandle(op wire.Command, handle uint32) *CommandBuffer {
	c.putOpcode(op)
	var b [4]byte
	le32(b[:], handle)
	c.buf = append(c.buf, b[:]...)
	return c
}

// acquireHandle/ReleaseHandle/increfsHandle/decrefsHandle enqueue the
// four remote-refcount commands, each carrying a plain __u32 handle
// rather than a ptr/cookie pair — the kernel already knows which
// process's table the handle indexes into. ReleaseHandle is exported
// for the root package's BC_RELEASE path.
func (c *CommandBuffer) acquireHandle(handle uint32) *CommandBuffer {
	return c.putHandle(wire.BCAcquire, handle)
}

func (c *CommandBuffer) ReleaseHandle(handle uint32) *CommandBuffer {
	return c.putHandle(wire.BCRelease, handle)
}

func (c *CommandBuffer) increfsHandle(handle uint32) *CommandBuffer {
	return c.putHandle(wire.BCIncrefs, handle)
}

func (c *CommandBuffer) decrefsHandle(handle uint32) *CommandBuffer {
	return c.putHandle(wire.BCDecrefs, handle)
}

// IncrefsDone/AcquireDone echo a BR_INCREFS/BR_ACQUIRE ptr/cookie pair
// back to the kernel, confirming the local object took the reference.
func (c *CommandBuffer) AcquireDone(pc *wire.PtrCookie) *CommandBuffer {
	c.putOpcode(wire.BCAcquireDone)
	c.buf = append(c.buf, pc.MarshalBinary()...)
	return c
}

func (c *CommandBuffer) IncrefsDone(pc *wire.PtrCookie) *CommandBuffer {
	c.putOpcode(wire.BCIncrefsDone)
	c.buf = append(c.buf, pc.MarshalBinary()...)
	return c
}

func le32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func le64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// ErrWouldBlockOnRead means the write half of a WriteRead fully landed
// (every pending command byte was accepted) but the kernel had nothing
// to fill the read half with yet. The command buffer is fully
// consumed either way, so Exec resets it; the caller just needs to
// wait and try the read again later.
var ErrWouldBlockOnRead = errors.New("txn: would block on read")

// WouldBlockOnWrite means only part of the write half was accepted
// before the kernel reported EAGAIN. Resume is the total number of
// command bytes consumed so far, also recorded on the CommandBuffer
// itself (via pending/markConsumed) so a later Exec call against the
// same buffer resumes from there automatically instead of resending —
// or silently losing — the remainder.
type WouldBlockOnWrite struct {
	Resume int
}

func (e *WouldBlockOnWrite) Error() string {
	return fmt.Sprintf("txn: would block on write, resume at byte %d", e.Resume)
}

// Exec submits whatever of cmd's commands haven't yet been accepted by
// the kernel over dev with a single logical BINDER_WRITE_READ, retrying
// only on EINTR (the exact case the original's binder_read_write loop
// special-cases), and parses whatever the kernel placed in ret. cmd is
// reset only once every one of its bytes has been consumed — a
// WouldBlockOnWrite leaves the unconsumed remainder in place so the
// next Exec call against the same buffer resumes rather than resends
// or drops it. See ExecAlwaysBlock for the poll-and-retry variant used
// by callers that want to block until a reply is available.
func Exec(dev kioctl.Device, cmd *CommandBuffer, ret *ReturnBuffer) error {
	err := execOnce(dev, cmd, ret)
	if cmd.consumed >= len(cmd.buf) {
		cmd.reset()
	}
	return err
}

// execOnce is Exec's body without the conditional reset, so
// ExecAlwaysBlock can drive several attempts against the same
// CommandBuffer without it disappearing out from under a resend.
func execOnce(dev kioctl.Device, cmd *CommandBuffer, ret *ReturnBuffer) error {
	write := cmd.pending()
	var read []byte
	if ret != nil {
		ret.reset()
		read = ret.raw
	}

	totalFilled := 0
	for {
		consumed, filled, err := dev.WriteRead(write, read)
		totalFilled += filled
		if isEINTR(err) {
			cmd.markConsumed(consumed)
			write = write[consumed:]
			if len(read) > 0 {
				read = read[filled:]
			}
			continue
		}
		if isEAGAIN(err) {
			cmd.markConsumed(consumed)
			if consumed == len(write) {
				return ErrWouldBlockOnRead
			}
			return &WouldBlockOnWrite{Resume: cmd.consumed}
		}
		if err != nil {
			return err
		}
		cmd.markConsumed(consumed)
		if ret != nil {
			return ret.parse(totalFilled)
		}
		return nil
	}
}

// markConsumed advances the count of command bytes the kernel has
// accepted so far across however many WriteRead attempts it took.
func (c *CommandBuffer) markConsumed(n int) { c.consumed += n }

// ExecAlwaysBlock behaves like Exec but additionally retries on EAGAIN:
// a WouldBlockOnWrite is resent immediately (the kernel is evidently
// still accepting writes, it just hasn't filled the read side), while
// ErrWouldBlockOnRead waits for the device to report readability in
// between (via dev's Poller interface, when available) rather than
// busy-spinning. This is what turns a non-blocking fd into the
// synchronous "block until the kernel has something for us" semantics
// a request/reply call and the looper both need.
func ExecAlwaysBlock(dev kioctl.Device, cmd *CommandBuffer, ret *ReturnBuffer) error {
	poller, _ := dev.(kioctl.Poller)
	for {
		err := execOnce(dev, cmd, ret)
		if err == nil {
			cmd.reset()
			return nil
		}
		if _, ok := err.(*WouldBlockOnWrite); ok {
			continue
		}
		if err != ErrWouldBlockOnRead {
			if cmd.consumed >= len(cmd.buf) {
				cmd.reset()
			}
			return err
		}
		cmd.reset()
		if poller != nil {
			if _, perr := poller.PollReadable(pollTimeoutMs); perr != nil {
				return perr
			}
		}
	}
}

// pollTimeoutMs bounds each poll wait so a looper driven by
// ExecAlwaysBlock stays responsive to its context being canceled
// between attempts rather than blocking indefinitely.
const pollTimeoutMs = 100

func isEINTR(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

func isEAGAIN(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
