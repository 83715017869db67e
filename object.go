package binder

import "sync"

// BinderObject is implemented by any application type exposed to other
// processes through this runtime. DoTransaction is the one polymorphic
// call surface shared by local implementations and remote proxies
// (SPEC_FULL.md §4.7): callers never need to know which side of the
// kernel boundary the target actually lives on. DoTransaction may be
// called from more than one goroutine at once (the looper, and any
// caller blocked in a remote call that drains an incoming transaction
// off the same read), so implementations must be safe for concurrent
// use.
type BinderObject interface {
	DoTransaction(code uint32, p *Packet) (*Packet, error)
}

// CapabilityChecker is an optional interface a BinderObject may
// implement to answer the handshake Reference.IsImplemented performs,
// without requiring every object to opt in.
type CapabilityChecker interface {
	IsImplemented(code uint32) bool
}

// Reference is a single capability-bearing handle into the object
// graph: either a local object registered with this Runtime, or a
// remote handle the kernel is tracking on this process's behalf. Go
// has no destructors, so unlike the original's Drop-based
// OwnedRemoteRef, callers must call Release explicitly (typically via
// defer) when they're done with a Reference obtained from the wire.
type Reference struct {
	rt      *Runtime
	token   uint64
	handle  uint32
	isLocal bool

	mu       sync.Mutex
	released bool
}

func localReference(rt *Runtime, token uint64) *Reference {
	return &Reference{rt: rt, token: token, isLocal: true}
}

func remoteReference(rt *Runtime, handle uint32) *Reference {
	return &Reference{rt: rt, handle: handle, isLocal: false}
}

// DoTransaction dispatches p to whatever this reference points at. A
// local target is called in-process with no kernel round trip; a
// remote target goes through Runtime's send/reply machinery.
func (r *Reference) DoTransaction(code uint32, p *Packet) (*Packet, error) {
	if r.isLocal {
		obj, ok := r.rt.local.Lookup(r.token)
		if !ok {
			return nil, NewError("DoTransaction", ErrCodeUnreachableTarget, "local object no longer registered")
		}
		binderObj, ok := obj.(BinderObject)
		if !ok {
			return nil, NewError("DoTransaction", ErrCodeLocalError, "registered value does not implement BinderObject")
		}
		return binderObj.DoTransaction(code, p)
	}
	return r.rt.sendTransaction(r.handle, code, p)
}

// Release drops this process's claim on the reference. For a remote
// handle, the last Release emits BC_RELEASE so the kernel's own
// refcount matches. For a local object it only marks this Reference
// released: the registration is removed by the local table when the
// kernel's BR_RELEASE/BR_DECREFS leave neither a strong nor a weak
// count, and an object the kernel never acquired stays registered.
// Calling Release more than once is a no-op.
func (r *Reference) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	if r.isLocal {
		return nil
	}
	if isLast := r.rt.remote.Release(r.handle); isLast {
		return r.rt.emitRelease(r.handle)
	}
	return nil
}

// IsImplemented reports whether a remote reference's target answers
// yes to the BinderObject handshake for code, per SPEC_FULL.md §4.7.
// A local reference is answered directly through CapabilityChecker
// without a round trip.
func (r *Reference) IsImplemented(code uint32) (bool, error) {
	if r.isLocal {
		obj, ok := r.rt.local.Lookup(r.token)
		if !ok {
			return false, NewError("IsImplemented", ErrCodeUnreachableTarget, "local object no longer registered")
		}
		if checker, ok := obj.(CapabilityChecker); ok {
			return checker.IsImplemented(code), nil
		}
		return true, nil
	}
	reply, err := r.DoTransaction(code, NewBuilder().Build(code, TransactionFlags(0)))
	if err != nil {
		if IsCode(err, ErrCodeUnreachableTarget) {
			return false, nil
		}
		return false, err
	}
	return reply.Reader().ReadBool()
}
