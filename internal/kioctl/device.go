// Package kioctl wraps the narrow kernel surface a binder client
// touches: opening /dev/binder, the three ioctls it issues, and the
// read-only mmap region the kernel fills transaction buffers into.
// Everything above this package talks to a Device, never to syscalls
// directly, mirroring the teacher's split between its Ring abstraction
// and the raw syscalls hiding behind it.
package kioctl

import "errors"

var (
	// ErrUnsupportedPlatform is returned by the real constructor on
	// any GOOS other than linux, where /dev/binder doesn't exist.
	ErrUnsupportedPlatform = errors.New("kioctl: binder is only available on linux")
)

// Device is the full surface the rest of this runtime needs from a
// binder file descriptor. Implementations: device_linux.go (real
// ioctls via golang.org/x/sys/unix), device_stub.go (every non-linux
// GOOS), and fake.go (in-memory, used by tests on any platform).
type Device interface {
	// Version returns the kernel's reported binder protocol version.
	Version() (int32, error)

	// BecomeContextManager issues BINDER_SET_CONTEXT_MGR_EXT,
	// registering this process as the well-known handle-0 object.
	BecomeContextManager() error

	// WriteRead issues one BINDER_WRITE_READ ioctl: it submits write
	// as the command stream and fills as much of read as the kernel
	// has pending, returning how many bytes of each were consumed.
	// Callers retry on EINTR themselves (see internal/txn) so that
	// partial writes already consumed by the kernel aren't resent.
	WriteRead(write []byte, read []byte) (consumed int, filled int, err error)

	// Fd returns the underlying file descriptor, for poll(2).
	Fd() int

	// Close releases the device and any mapping made through it.
	Close() error
}
