package txn

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-binder/internal/kioctl"
	"github.com/ehrlich-b/go-binder/internal/logging"
	"github.com/ehrlich-b/go-binder/internal/refs"
	"github.com/ehrlich-b/go-binder/internal/wire"
)

// IncomingTransaction is a BR_TRANSACTION surfaced to the caller for
// local dispatch, paired with the kernel-owned buffer that must
// eventually be freed with BC_FREE_BUFFER.
type IncomingTransaction struct {
	Data *wire.TransactionData
}

// Engine runs the shared exec loop: submit a CommandBuffer, parse the
// resulting ReturnBuffer, and split each ReturnValue into bookkeeping
// the engine handles itself (refcount state for BR_ACQUIRE/BR_RELEASE/
// BR_INCREFS/BR_DECREFS, queuing inbound transactions, turning BR_ERROR
// into an error) versus values the caller needs to see (Ok, Reply,
// TransactionComplete, DeadReply, FailedReply). The engine does not
// send BC_ACQUIRE_DONE/BC_INCREFS_DONE back to the kernel.
type Engine struct {
	dev    kioctl.Device
	local  *refs.LocalTable
	remote *refs.RemoteTable
	logger *logging.Logger

	pendingMu sync.Mutex
	pending   []IncomingTransaction
}

func NewEngine(dev kioctl.Device, local *refs.LocalTable, remote *refs.RemoteTable, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{dev: dev, local: local, remote: remote, logger: logger}
}

// Run submits cmd and parses whatever the kernel returns into ret,
// handling every bookkeeping ReturnValue itself and passing the rest
// to surface. Incoming transactions are also appended to Pending for
// the caller to drain and dispatch. A bookkeeping error does not stop
// the walk over the batch; the first one is returned once every value
// has been handled.
func (e *Engine) Run(cmd *CommandBuffer, ret *ReturnBuffer, surface func(ReturnValue) error) error {
	return e.run(Exec, cmd, ret, surface)
}

// RunBlocking behaves like Run but retries across EAGAIN (see
// ExecAlwaysBlock), for callers that want to wait until the kernel has
// something rather than surface "nothing yet" as an error.
func (e *Engine) RunBlocking(cmd *CommandBuffer, ret *ReturnBuffer, surface func(ReturnValue) error) error {
	return e.run(ExecAlwaysBlock, cmd, ret, surface)
}

func (e *Engine) run(execFn func(kioctl.Device, *CommandBuffer, *ReturnBuffer) error, cmd *CommandBuffer, ret *ReturnBuffer, surface func(ReturnValue) error) error {
	if err := execFn(e.dev, cmd, ret); err != nil {
		return err
	}
	var firstErr error
	for _, v := range ret.Values() {
		handled, err := e.bookkeep(v)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if handled {
			continue
		}
		if err := surface(v); err != nil {
			return err
		}
	}
	return firstErr
}

// Pending drains and returns every BR_TRANSACTION queued since the
// last call, for the caller to dispatch to local objects. Multiple
// goroutines (the looper, and callers blocked in sendTransaction) may
// run this engine concurrently, so both the append in bookkeep and the
// drain here are synchronized.
func (e *Engine) Pending() []IncomingTransaction {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	p := e.pending
	e.pending = nil
	return p
}

// bookkeep applies a ReturnValue that the engine itself owns,
// reporting whether it consumed the value (true) or whether the
// caller still needs to see it (false).
func (e *Engine) bookkeep(v ReturnValue) (bool, error) {
	switch v.Kind {
	case KindNoop, KindSpawnLooper:
		return true, nil
	case KindTransaction:
		e.pendingMu.Lock()
		e.pending = append(e.pending, IncomingTransaction{Data: v.Transaction})
		e.pendingMu.Unlock()
		return true, nil
	case KindAcquire:
		if err := e.local.Acquire(v.PtrCookie.Ptr); err != nil {
			return true, err
		}
		return true, nil
	case KindRelease:
		if _, err := e.local.Release(v.PtrCookie.Ptr); err != nil {
			return true, err
		}
		return true, nil
	case KindAcquireWeak:
		if err := e.local.AcquireWeak(v.PtrCookie.Ptr); err != nil {
			return true, err
		}
		return true, nil
	case KindReleaseWeak:
		if _, err := e.local.ReleaseWeak(v.PtrCookie.Ptr); err != nil {
			return true, err
		}
		return true, nil
	case KindDeadBinder:
		// The remote process is already gone; forget the handle
		// rather than emit a now-meaningless BC_RELEASE. See
		// DESIGN.md's Open Question resolution for BR_DEAD_BINDER.
		e.remote.Forget(uint32(v.DeadHandle))
		e.logger.Debug("binder: remote handle died", "handle", v.DeadHandle)
		return true, nil
	case KindError:
		return true, fmt.Errorf("txn: kernel returned BR_ERROR %d", v.Errno)
	default:
		return false, nil
	}
}
