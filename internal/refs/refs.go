// Package refs tracks the two reference-counted tables a binder client
// must keep in lockstep with the kernel's own bookkeeping: local
// objects this process has exposed to others, and remote handles this
// process holds a reference to. Both are generalizations of the same
// shape the teacher uses for its per-slot I/O state machine, widened
// from a fixed array indexed by queue tag to a map indexed by an
// open-ended set of tokens/handles.
package refs

import (
	"fmt"
	"sync"
)

// LocalState mirrors the state machine a local object's kernel-side
// refcount can be in. The kernel never sends BR_ACQUIRE twice in a row
// for the same token without an intervening BR_RELEASE; a violation of
// that is a kernel/runtime desync and is treated as fatal rather than
// silently ignored.
type LocalState struct {
	HasStrong bool
	HasWeak   bool
}

// LocalEntry is one registered local object: the concrete value behind
// the BinderObject interface, plus its kernel-facing refcount state.
// Object is stored as `any` because internal/refs can't import the
// root package's BinderObject interface without an import cycle; the
// root package asserts the type back on lookup.
type LocalEntry struct {
	Object any
	State  LocalState
}

// LocalTable assigns each registered local object an opaque token and
// tracks its refcount state. The token takes the place of the raw
// pointer the original implementation round-trips through the kernel:
// Go values have no stable address under a moving collector, so the
// kernel is instead handed an arbitrary, never-reused uint64 index and
// never asked to dereference it.
type LocalTable struct {
	mu      sync.Mutex
	next    uint64
	entries map[uint64]*LocalEntry
}

func NewLocalTable() *LocalTable {
	return &LocalTable{entries: make(map[uint64]*LocalEntry)}
}

// Register allocates a fresh token for obj and marks it as not yet
// acquired by the kernel (registration alone doesn't imply a strong
// reference; the first BC_TRANSACTION/BR_ACQUIRE round trip does).
func (t *LocalTable) Register(obj any) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	token := t.next
	t.entries[token] = &LocalEntry{Object: obj}
	return token
}

// Lookup returns the object registered under token, if any.
func (t *LocalTable) Lookup(token uint64) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[token]
	if !ok {
		return nil, false
	}
	return e.Object, true
}

// Acquire applies a BR_ACQUIRE return value to token's state.
// Re-acquiring an already-strong token is a protocol violation.
func (t *LocalTable) Acquire(token uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[token]
	if !ok {
		return fmt.Errorf("refs: BR_ACQUIRE for unregistered token %d", token)
	}
	if e.State.HasStrong {
		return fmt.Errorf("refs: duplicate BR_ACQUIRE for token %d", token)
	}
	e.State.HasStrong = true
	return nil
}

// Release applies a BR_RELEASE return value, dropping the strong
// reference. Once both HasStrong and HasWeak are false the entry is
// removed from the table.
func (t *LocalTable) Release(token uint64) (LocalState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[token]
	if !ok {
		return LocalState{}, fmt.Errorf("refs: BR_RELEASE for unregistered token %d", token)
	}
	if !e.State.HasStrong {
		return LocalState{}, fmt.Errorf("refs: BR_RELEASE without a matching acquire for token %d", token)
	}
	e.State.HasStrong = false
	if !e.State.HasStrong && !e.State.HasWeak {
		delete(t.entries, token)
	}
	return e.State, nil
}

// AcquireWeak/ReleaseWeak mirror Acquire/Release for the weak count.
func (t *LocalTable) AcquireWeak(token uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[token]
	if !ok {
		return fmt.Errorf("refs: BR_ACQUIRE_WEAK for unregistered token %d", token)
	}
	if e.State.HasWeak {
		return fmt.Errorf("refs: duplicate BR_ACQUIRE_WEAK for token %d", token)
	}
	e.State.HasWeak = true
	return nil
}

func (t *LocalTable) ReleaseWeak(token uint64) (LocalState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[token]
	if !ok {
		return LocalState{}, fmt.Errorf("refs: BR_RELEASE_WEAK for unregistered token %d", token)
	}
	if !e.State.HasWeak {
		return LocalState{}, fmt.Errorf("refs: BR_RELEASE_WEAK without a matching acquire for token %d", token)
	}
	e.State.HasWeak = false
	if !e.State.HasStrong && !e.State.HasWeak {
		delete(t.entries, token)
	}
	return e.State, nil
}

// Len reports how many local objects are currently registered, used by
// tests asserting that every acquired reference is eventually released.
func (t *LocalTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RemoteTable counts outstanding references this process holds to
// remote handles, so BC_RELEASE is only emitted to the kernel once the
// last local clone of a Reference drops. Handle 0, the context
// manager, is exempt: it is immortal for the lifetime of the runtime
// and never emits BC_RELEASE.
type RemoteTable struct {
	mu     sync.Mutex
	counts map[uint32]int
}

func NewRemoteTable() *RemoteTable {
	return &RemoteTable{counts: make(map[uint32]int)}
}

// Acquire records a new reference to handle, returning true the first
// time (the caller must then emit BC_ACQUIRE so the kernel's own
// refcount matches).
func (t *RemoteTable) Acquire(handle uint32) (isFirst bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[handle]++
	return t.counts[handle] == 1
}

// Release drops one reference to handle, returning true when the
// count reaches zero (the caller must then emit BC_RELEASE, unless
// handle is the context-manager handle).
func (t *RemoteTable) Release(handle uint32) (isLast bool) {
	if handle == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[handle]--
	if t.counts[handle] <= 0 {
		delete(t.counts, handle)
		return true
	}
	return false
}

// Forget drops all bookkeeping for handle without emitting a release,
// used when BR_DEAD_BINDER reports the remote process is already gone
// and BC_RELEASE would be meaningless.
func (t *RemoteTable) Forget(handle uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, handle)
}
