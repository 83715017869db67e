package kioctl

import (
	"sync"
	"syscall"
	"time"
)

// Poller is implemented by devices that can report readability without
// blocking forever, so the looper can poll with a bounded timeout and
// stay responsive to shutdown. The real device polls the actual fd;
// the fake device polls an in-memory queue.
type Poller interface {
	// PollReadable blocks up to timeoutMs waiting for a pending
	// return to become available, returning true if one is.
	PollReadable(timeoutMs int) (bool, error)
}

// FakeDevice simulates just enough of /dev/binder's write/read
// contract to drive the transaction engine and looper in tests without
// a real kernel: every WriteRead captures the command bytes it was
// given and drains from a queue of canned return-stream chunks a test
// enqueued with QueueReturn. It plays the same role queue.NewStubRunner
// plays for the teacher's kernel-free test mode.
type FakeDevice struct {
	mu       sync.Mutex
	notify   chan struct{}
	pending  [][]byte
	written  [][]byte
	closed   bool
	protocol int32
}

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{protocol: 8, notify: make(chan struct{})}
}

func (d *FakeDevice) Fd() int { return -1 }

func (d *FakeDevice) Version() (int32, error) { return d.protocol, nil }

func (d *FakeDevice) BecomeContextManager() error { return nil }

// QueueReturn appends a pre-encoded return-stream chunk that the next
// WriteRead call(s) will deliver, and wakes anything blocked in
// PollReadable.
func (d *FakeDevice) QueueReturn(data []byte) {
	d.mu.Lock()
	d.pending = append(d.pending, data)
	old := d.notify
	d.notify = make(chan struct{})
	d.mu.Unlock()
	close(old)
}

// WrittenCommands returns every command-stream buffer handed to
// WriteRead so far, for assertions.
func (d *FakeDevice) WrittenCommands() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.written))
	copy(out, d.written)
	return out
}

func (d *FakeDevice) WriteRead(write []byte, read []byte) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(write) > 0 {
		cp := make([]byte, len(write))
		copy(cp, write)
		d.written = append(d.written, cp)
	}

	filled := 0
	for len(d.pending) > 0 {
		chunk := d.pending[0]
		if filled+len(chunk) > len(read) {
			break
		}
		copy(read[filled:], chunk)
		filled += len(chunk)
		d.pending = d.pending[1:]
	}
	// Mirror a real non-blocking fd: the write side always completes
	// immediately, but the read side reports EAGAIN rather than a
	// zero-filled success when nothing was queued, so ExecAlwaysBlock's
	// poll-and-retry loop actually waits instead of spinning.
	if filled == 0 && len(read) > 0 {
		return len(write), 0, syscall.EAGAIN
	}
	return len(write), filled, nil
}

func (d *FakeDevice) PollReadable(timeoutMs int) (bool, error) {
	d.mu.Lock()
	if len(d.pending) > 0 {
		d.mu.Unlock()
		return true, nil
	}
	wait := d.notify
	d.mu.Unlock()

	select {
	case <-wait:
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0, nil
}

func (d *FakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
