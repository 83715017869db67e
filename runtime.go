// Package binder implements a user-space client runtime for the Linux
// Binder IPC driver: a typed, reference-counted object graph over
// /dev/binder, with packet marshaling, a looper goroutine, and a
// transaction engine that turns outgoing calls into synchronous
// request/reply pairs.
package binder

import (
	"context"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/ehrlich-b/go-binder/internal/constants"
	"github.com/ehrlich-b/go-binder/internal/kioctl"
	"github.com/ehrlich-b/go-binder/internal/logging"
	"github.com/ehrlich-b/go-binder/internal/refs"
	"github.com/ehrlich-b/go-binder/internal/txn"
	"github.com/ehrlich-b/go-binder/internal/wire"
)

// RuntimeConfig configures a Runtime's construction. The zero value is
// not valid; use DefaultRuntimeConfig and override what needs it.
type RuntimeConfig struct {
	// DevicePath is the binder character device to open. Empty means
	// "/dev/binder".
	DevicePath string
	// MmapSize is how much of the kernel's transaction buffer region
	// to map read-only.
	MmapSize int
	// Logger receives debug traces around ioctl submission, looper
	// transitions and refcount bookkeeping. Nil is treated as silence.
	Logger *logging.Logger
	// Context bounds the Runtime's lifetime; canceling it signals the
	// looper to emit BC_EXIT_LOOPER and stop. Nil defaults to
	// context.Background() (the caller must use Close to shut down).
	Context context.Context
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		MmapSize: constants.DefaultMmapSize,
	}
}

// Runtime owns the binder file descriptor, the mmap'd kernel buffer
// region, the local/remote reference tables, and the one looper
// goroutine that services incoming transactions and refcount
// bookkeeping for this process.
type Runtime struct {
	cfg    RuntimeConfig
	dev    kioctl.Device
	mmap   []byte
	local  *refs.LocalTable
	remote *refs.RemoteTable
	engine *txn.Engine
	logger *logging.Logger
	metrics *Metrics
	looper *looper

	ctx    context.Context
	cancel context.CancelFunc

	isManager bool
	ctxObj    BinderObject // set only when isManager

	bufPool sync.Pool // per-goroutine *callBuffers
}

type callBuffers struct {
	cmd *txn.CommandBuffer
	ret *txn.ReturnBuffer
}

func newRuntime(dev kioctl.Device, cfg RuntimeConfig) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger(&logging.Config{Output: io.Discard})
	}
	if cfg.MmapSize <= 0 {
		cfg.MmapSize = constants.DefaultMmapSize
	}
	base := cfg.Context
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)

	rt := &Runtime{
		cfg:     cfg,
		dev:     dev,
		local:   refs.NewLocalTable(),
		remote:  refs.NewRemoteTable(),
		logger:  cfg.Logger.WithFields("component", "runtime"),
		metrics: NewMetrics(),
		ctx:     ctx,
		cancel:  cancel,
	}
	rt.engine = txn.NewEngine(dev, rt.local, rt.remote, cfg.Logger.WithFields("component", "engine"))
	rt.bufPool.New = func() any {
		return &callBuffers{
			cmd: txn.NewCommandBuffer(),
			ret: txn.NewReturnBuffer(0),
		}
	}
	return rt
}

// NewClientRuntime opens /dev/binder as an ordinary client: it does
// not register as the context manager, and ContextManager returns a
// Reference to the well-known handle-0 object other processes expose.
func NewClientRuntime(cfg RuntimeConfig) (*Runtime, error) {
	rt, err := open(cfg, false, nil)
	if err != nil {
		return nil, err
	}
	return rt, rt.startLooper()
}

// NewManagerRuntime opens /dev/binder and registers ctxObj as the
// well-known context manager (handle 0) via BINDER_SET_CONTEXT_MGR_EXT.
// ctxObj is dispatched to directly for any incoming transaction
// targeting handle 0 from other processes.
func NewManagerRuntime(ctxObj BinderObject, cfg RuntimeConfig) (*Runtime, error) {
	rt, err := open(cfg, true, ctxObj)
	if err != nil {
		return nil, err
	}
	return rt, rt.startLooper()
}

func open(cfg RuntimeConfig, manager bool, ctxObj BinderObject) (*Runtime, error) {
	dev, err := kioctl.Open(cfg.DevicePath)
	if err != nil {
		return nil, WrapError("open", err)
	}
	rt := newRuntime(dev, cfg)

	version, err := dev.Version()
	if err != nil {
		dev.Close()
		return nil, WrapError("version", err)
	}
	if version != wire.ProtocolVersion {
		dev.Close()
		return nil, NewError("version", ErrCodeLocalError, fmt.Sprintf("kernel binder protocol %d, runtime speaks %d", version, wire.ProtocolVersion))
	}

	if manager {
		if err := dev.BecomeContextManager(); err != nil {
			dev.Close()
			return nil, WrapError("become_context_manager", err)
		}
		rt.isManager = true
		rt.ctxObj = ctxObj
	}

	if region, err := kioctl.Mmap(dev, cfg.MmapSize); err == nil {
		rt.mmap = region
	} else {
		rt.logger.Debug("binder: mmap unavailable, continuing without it", "err", err)
	}

	return rt, nil
}

func (rt *Runtime) startLooper() error {
	rt.looper = newLooper(rt)
	return rt.looper.start()
}

// ContextManager returns a Reference to the well-known handle-0
// object. Valid for both manager and client runtimes; a manager
// holding its own role still uses this to call other services
// registered through the same context manager by convention.
func (rt *Runtime) ContextManager() *Reference {
	ref := remoteReference(rt, constants.ContextManagerHandle)
	rt.remote.Acquire(constants.ContextManagerHandle)
	return ref
}

// ContextManagerObject returns the local object registered via
// NewManagerRuntime, or nil if this Runtime is not the context
// manager.
func (rt *Runtime) ContextManagerObject() BinderObject {
	return rt.ctxObj
}

// NewBuilder returns a fresh Builder for assembling a Packet to send
// through this Runtime. Builders aren't tied to a Runtime beyond this
// convenience constructor.
func (rt *Runtime) NewBuilder() *Builder { return NewBuilder() }

// Register exposes obj as a local object other processes can acquire a
// Reference to by receiving it embedded in a transaction. The returned
// Reference is this process's own strong reference; it does not need
// to be Released before obj stops being reachable by other processes,
// only when this process is done holding it directly.
func (rt *Runtime) Register(obj BinderObject) *Reference {
	token := rt.local.Register(obj)
	return localReference(rt, token)
}

// Metrics returns the counters this Runtime has accumulated.
func (rt *Runtime) Metrics() *Metrics { return rt.metrics }

// ReferenceFromObjectRef wraps a wire-level object reference decoded
// out of an incoming Packet (see Packet.ObjectRefAt) as a Reference
// this Runtime can call through or Release. A handle reference is
// registered in the remote table so the eventual Release emits exactly
// one BC_RELEASE; the kernel has already incremented its own count
// before delivering the reference, so no BC_ACQUIRE is sent here.
func (rt *Runtime) ReferenceFromObjectRef(ref *wire.ObjectRef) *Reference {
	if ref.IsLocal() {
		return localReference(rt, ref.LocalPtr)
	}
	rt.remote.Acquire(ref.Handle)
	return remoteReference(rt, ref.Handle)
}

// sendTransaction implements the synchronous request/reply half of the
// transaction engine: submit BC_TRANSACTION, then keep servicing the
// return stream (including incoming BR_TRANSACTION queued for the
// looper to pick up, and refcount bookkeeping) until this call's own
// terminal return — BR_REPLY, BR_DEAD_REPLY or BR_FAILED_REPLY —
// arrives.
func (rt *Runtime) sendTransaction(handle uint32, code uint32, p *Packet) (*Packet, error) {
	bufs := rt.bufPool.Get().(*callBuffers)
	defer rt.bufPool.Put(bufs)

	td, pin := rt.marshalOutgoing(handle, code, p)
	defer pin()

	bufs.cmd.Transaction(td, false)
	rt.metrics.recordSend(p.Flags&FlagOneWay != 0, len(p.Data))

	var reply *Packet
	var terminalErr error
	surface := func(v txn.ReturnValue) error {
		switch v.Kind {
		case txn.KindTransactionComplete, txn.KindOK:
			return nil
		case txn.KindReply:
			reply = rt.unmarshalIncoming(v.Transaction)
			rt.metrics.recordReply(len(reply.Data))
			rt.freeBuffer(v.Transaction.DataBuffer)
		case txn.KindDeadReply:
			rt.metrics.DeadReplies.Add(1)
			terminalErr = NewError("DoTransaction", ErrCodeUnreachableTarget, "target process is gone")
		case txn.KindFailedReply:
			rt.metrics.FailedReplies.Add(1)
			terminalErr = NewError("DoTransaction", ErrCodeFailedReply, "kernel reported transaction failure")
		}
		return nil
	}

	for reply == nil && terminalErr == nil {
		if err := rt.engine.RunBlocking(bufs.cmd, bufs.ret, surface); err != nil {
			rt.metrics.Errors.Add(1)
			return nil, WrapError("DoTransaction", err)
		}
		rt.dispatchPending()
		if p.Flags&FlagOneWay != 0 && terminalErr == nil {
			// A one-way send has no reply to wait for; unless the
			// kernel reported a dead or failed target, it is done.
			return nil, nil
		}
	}
	if terminalErr != nil {
		return nil, terminalErr
	}
	return reply, nil
}

// emitReply sends a BC_REPLY for an incoming transaction the looper
// dispatched, used by dispatchPending.
func (rt *Runtime) emitReply(td *wire.TransactionData) error {
	bufs := rt.bufPool.Get().(*callBuffers)
	defer rt.bufPool.Put(bufs)
	bufs.cmd.Transaction(td, true)
	return rt.engine.RunBlocking(bufs.cmd, bufs.ret, func(txn.ReturnValue) error { return nil })
}

// emitRelease sends a bare BC_RELEASE for handle, used when a
// Reference's last clone drops.
func (rt *Runtime) emitRelease(handle uint32) error {
	bufs := rt.bufPool.Get().(*callBuffers)
	defer rt.bufPool.Put(bufs)
	// BC_RELEASE carries a plain __u32 handle, not a ptr/cookie pair;
	// reuse FreeBuffer's raw-uint64 path isn't right here, so encode
	// it directly.
	bufs.cmd.ReleaseHandle(handle)
	// BC_RELEASE produces no return of its own, so this submits without
	// waiting for the read side, the same way freeBuffer does.
	for {
		err := rt.engine.Run(bufs.cmd, bufs.ret, func(txn.ReturnValue) error { return nil })
		if err == nil || err == txn.ErrWouldBlockOnRead {
			return nil
		}
		if _, ok := err.(*txn.WouldBlockOnWrite); ok {
			continue
		}
		return err
	}
}

// freeBuffer emits BC_FREE_BUFFER for a kernel-owned buffer this
// process just finished copying out of (a BR_TRANSACTION or BR_REPLY's
// DataBuffer), releasing it back to the kernel's per-process buffer
// pool. Called exactly once per inbound Transaction/Reply, right after
// unmarshalIncoming has copied everything out of it — every other
// caller must not touch bufferPtr-backed memory again afterward. A
// zero pointer means the transaction carried no data buffer at all
// (e.g. an empty one-way ping) and there is nothing to free.
func (rt *Runtime) freeBuffer(bufferPtr uint64) {
	if bufferPtr == 0 {
		return
	}
	bufs := rt.bufPool.Get().(*callBuffers)
	defer rt.bufPool.Put(bufs)
	bufs.cmd.FreeBuffer(bufferPtr)
	for {
		err := rt.engine.Run(bufs.cmd, bufs.ret, func(txn.ReturnValue) error { return nil })
		if err == nil || err == txn.ErrWouldBlockOnRead {
			return
		}
		if _, ok := err.(*txn.WouldBlockOnWrite); ok {
			continue
		}
		rt.logger.Warn("binder: failed to free kernel buffer", "ptr", bufferPtr, "err", err)
		return
	}
}

// dispatchPending drains whatever BR_TRANSACTION entries the most
// recent engine run queued and runs each against its local target,
// replying inline. This keeps incoming-call dispatch on whichever
// goroutine happened to observe it (the looper, or a caller blocked in
// sendTransaction who incidentally drained one off the same read),
// matching real binder's behavior of using whichever thread is
// currently blocked in the ioctl to service inbound work.
func (rt *Runtime) dispatchPending() {
	for _, in := range rt.engine.Pending() {
		rt.dispatchOne(in)
	}
}

func (rt *Runtime) dispatchOne(in txn.IncomingTransaction) {
	td := in.Data
	rt.metrics.recordIncoming(int(td.DataSize))

	// req copies everything out of the kernel-owned buffer before
	// freeBuffer releases it, so the free happens exactly once per
	// inbound transaction regardless of whether a local target is
	// found below.
	req := rt.unmarshalIncoming(td)
	rt.freeBuffer(td.DataBuffer)

	obj, ok := rt.local.Lookup(td.TargetPtr)
	if !ok && rt.isManager && td.TargetPtr == 0 {
		obj = rt.ctxObj
		ok = rt.ctxObj != nil
	}
	if !ok {
		rt.logger.Warn("binder: transaction for unknown local object", "token", td.TargetPtr)
		return
	}
	binderObj, ok := obj.(BinderObject)
	if !ok {
		rt.logger.Warn("binder: registered value is not a BinderObject", "token", td.TargetPtr)
		return
	}

	reply, err := binderObj.DoTransaction(td.Code, req)
	if td.Flags&uint32(FlagOneWay) != 0 {
		if reply != nil {
			panic(fmt.Sprintf("binder: local object returned a non-nil reply for a one-way transaction (code %#x) — one-way handlers must return a nil *Packet", td.Code))
		}
		return // no reply expected or sent for one-way calls
	}
	if err != nil {
		rt.logger.Warn("binder: local dispatch failed", "code", td.Code, "err", err)
		reply = NewBuilder().Build(td.Code, FlagStatusCode)
	}
	// BC_REPLY's target union is ignored by the kernel — a reply is
	// routed to whichever thread is blocked waiting on this call stack,
	// not by handle or pointer — so it's left zeroed.
	replyTD, pin := rt.marshalOutgoing(0, td.Code, reply)
	defer pin()
	replyTD.Cookie = td.Cookie
	if err := rt.emitReply(replyTD); err != nil {
		rt.logger.Warn("binder: failed to send reply", "err", err)
	}
}

// marshalOutgoing builds a binder_transaction_data pointing at p's own
// backing array. The returned pin function must be kept alive (e.g.
// via defer) until after the transaction has been submitted, since it
// is what keeps Go's collector from moving or freeing the buffer while
// the kernel still holds its address.
func (rt *Runtime) marshalOutgoing(handle uint32, code uint32, p *Packet) (*wire.TransactionData, func()) {
	td := &wire.TransactionData{
		TargetIsHandle: true,
		TargetHandle:   handle,
		Code:           code,
		Flags:          uint32(p.Flags),
		DataSize:       uint64(len(p.Data)),
		OffsetsSize:    uint64(len(p.Offsets) * 8),
	}
	var dataPtr, offsetsPtr unsafe.Pointer
	if len(p.Data) > 0 {
		dataPtr = unsafe.Pointer(&p.Data[0])
		td.DataBuffer = uint64(uintptr(dataPtr))
	}
	if len(p.Offsets) > 0 {
		offsetsPtr = unsafe.Pointer(&p.Offsets[0])
		td.OffsetsBuffer = uint64(uintptr(offsetsPtr))
	}
	// The closure keeps p's slices reachable; Go's GC doesn't move
	// heap allocations today, but pinning the intent here documents
	// the real requirement rather than relying on that accident.
	return td, func() { runtimeKeepAlive(p) }
}

// unmarshalIncoming reconstructs a Packet from a kernel-delivered
// binder_transaction_data: DataBuffer/OffsetsBuffer point into a
// kernel-owned buffer (the mmap'd buffer region, or a copy the kernel
// made into this process in the case of a reply) that freeBuffer will
// release back to the kernel once the caller is done with it here, so
// the bytes are copied out into process-owned slices rather than kept
// as views over memory that's about to be freed.
func (rt *Runtime) unmarshalIncoming(td *wire.TransactionData) *Packet {
	p := &Packet{Code: td.Code, Flags: TransactionFlags(td.Flags)}
	if td.DataSize > 0 && td.DataBuffer != 0 {
		p.Data = append([]byte(nil), unsafeBytesAt(td.DataBuffer, int(td.DataSize))...)
	}
	if td.OffsetsSize > 0 && td.OffsetsBuffer != 0 {
		n := int(td.OffsetsSize / 8)
		raw := unsafeBytesAt(td.OffsetsBuffer, n*8)
		p.Offsets = make([]uint64, n)
		for i := 0; i < n; i++ {
			p.Offsets[i] = wire.LittleEndianUint64(raw[i*8 : i*8+8])
		}
	}
	return p
}

func unsafeBytesAt(addr uint64, n int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}

// runtimeKeepAlive exists only to give marshalOutgoing's pin closure a
// name distinct from runtime.KeepAlive at the call site; it's the same
// thing.
func runtimeKeepAlive(p *Packet) {
	if p == nil {
		return
	}
	_ = p.Data
	_ = p.Offsets
}

// Close cancels the Runtime's context (signaling the looper to emit
// BC_EXIT_LOOPER and stop), waits for it to finish, and releases the
// device and mmap region. Close blocks until the looper exits, per
// SPEC_FULL.md §4.1.
func (rt *Runtime) Close() error {
	rt.cancel()
	if rt.looper != nil {
		rt.looper.wait()
	}
	if rt.mmap != nil {
		_ = kioctl.Munmap(rt.mmap)
	}
	return rt.dev.Close()
}
