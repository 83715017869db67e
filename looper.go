package binder

import (
	"runtime"

	"github.com/ehrlich-b/go-binder/internal/logging"
	"github.com/ehrlich-b/go-binder/internal/txn"
)

// looper is the one background goroutine a Runtime spawns to service
// the binder driver on this process's behalf: entering BC_ENTER_LOOPER,
// blocking in BINDER_WRITE_READ for whatever the kernel delivers next
// (incoming transactions, refcount bookkeeping), dispatching each
// BR_TRANSACTION to its local target, and leaving via BC_EXIT_LOOPER
// once the Runtime's context is canceled.
type looper struct {
	rt     *Runtime
	logger *logging.Logger
	done   chan struct{}
}

func newLooper(rt *Runtime) *looper {
	return &looper{rt: rt, logger: rt.cfg.Logger.WithFields("component", "looper"), done: make(chan struct{})}
}

func (l *looper) start() error {
	go l.run()
	return nil
}

// wait blocks until the looper goroutine has sent BC_EXIT_LOOPER and
// returned, for Close to sequence the device teardown after it.
func (l *looper) wait() {
	<-l.done
}

func (l *looper) run() {
	defer close(l.done)

	// A binder thread registers with the driver per kernel thread, not
	// per goroutine; pin this goroutine to one OS thread so the
	// driver's notion of "the looper thread" stays consistent for the
	// whole BC_ENTER_LOOPER/BC_EXIT_LOOPER bracket.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := txn.NewCommandBuffer()
	ret := txn.NewReturnBuffer(0)
	cmd.EnterLooper()
	noop := func(txn.ReturnValue) error { return nil }

	for {
		select {
		case <-l.rt.ctx.Done():
			cmd.ExitLooper()
			if err := l.rt.engine.Run(cmd, ret, noop); err != nil {
				l.logger.Warn("binder: exit looper failed", "err", err)
			}
			return
		default:
		}

		if err := l.rt.engine.RunBlocking(cmd, ret, noop); err != nil {
			l.logger.Warn("binder: looper exec failed", "err", err)
		}
		l.rt.dispatchPending()
	}
}
