package binder

import (
	"sync"

	"github.com/ehrlich-b/go-binder/internal/kioctl"
)

// NewTestRuntime builds a Runtime backed by an in-memory FakeDevice
// instead of a real /dev/binder, for application tests that want to
// exercise the public API without a kernel. The returned FakeDevice
// lets a test queue BR_* return values (QueueReturn) and inspect the
// BC_* commands the Runtime wrote (WrittenCommands). The looper is not
// started; call StartLooper once the test has finished wiring up
// expectations, or drive the engine directly for finer control.
func NewTestRuntime(cfg RuntimeConfig) (*Runtime, *kioctl.FakeDevice) {
	dev := kioctl.NewFakeDevice()
	rt := newRuntime(dev, cfg)
	return rt, dev
}

// StartLooper starts rt's background looper goroutine. Exported only
// for tests built with NewTestRuntime, which intentionally skip it at
// construction time so a test can queue expectations first.
func (rt *Runtime) StartLooper() error { return rt.startLooper() }

// MockBinderObject is a BinderObject and CapabilityChecker that
// records every call it receives and returns a canned reply, for
// tests that register a local object and want to assert what the
// looper or a direct local Reference sent it.
type MockBinderObject struct {
	mu sync.Mutex

	// Reply is returned verbatim from DoTransaction unless ReplyFunc is
	// set, in which case ReplyFunc takes precedence.
	Reply     *Packet
	Err       error
	ReplyFunc func(code uint32, p *Packet) (*Packet, error)

	// Implemented, when non-nil, backs IsImplemented; a nil map
	// answers true for every code, matching a real object that hasn't
	// opted into CapabilityChecker at all.
	Implemented map[uint32]bool

	calls      int
	lastCode   uint32
	lastPacket *Packet
}

func NewMockBinderObject() *MockBinderObject {
	return &MockBinderObject{Reply: &Packet{}}
}

func (m *MockBinderObject) DoTransaction(code uint32, p *Packet) (*Packet, error) {
	m.mu.Lock()
	m.calls++
	m.lastCode = code
	m.lastPacket = p
	fn := m.ReplyFunc
	reply, err := m.Reply, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(code, p)
	}
	return reply, err
}

func (m *MockBinderObject) IsImplemented(code uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Implemented == nil {
		return true
	}
	return m.Implemented[code]
}

// Calls returns how many times DoTransaction has been invoked.
func (m *MockBinderObject) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Last returns the code and packet of the most recent DoTransaction
// call, or (0, nil) if none happened yet.
func (m *MockBinderObject) Last() (uint32, *Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCode, m.lastPacket
}

// Reset clears call tracking without touching the configured reply.
func (m *MockBinderObject) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = 0
	m.lastCode = 0
	m.lastPacket = nil
}

var (
	_ BinderObject       = (*MockBinderObject)(nil)
	_ CapabilityChecker  = (*MockBinderObject)(nil)
)
