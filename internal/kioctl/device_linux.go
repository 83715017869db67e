//go:build linux

package kioctl

import (
	"encoding/binary"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-binder/internal/wire"
)

// realDevice is the production Device: a real /dev/binder file
// descriptor, driven entirely through raw ioctl(2) calls the way the
// teacher's queue.Runner pokes its ring memory directly rather than
// going through a higher-level wrapper that doesn't exist for this
// kernel ABI.
type realDevice struct {
	mu   sync.Mutex
	file *os.File
	fd   int
}

// Open opens /dev/binder for this process.
func Open(path string) (Device, error) {
	if path == "" {
		path = "/dev/binder"
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	// The raw fd is kept rather than read back through (*os.File).Fd,
	// which would switch the descriptor to blocking mode.
	return &realDevice{file: os.NewFile(uintptr(fd), path), fd: fd}, nil
}

func (d *realDevice) Fd() int { return d.fd }

func (d *realDevice) Version() (int32, error) {
	var version int32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), wire.IoctlVersion, uintptr(unsafe.Pointer(&version)))
	if errno != 0 {
		return 0, errno
	}
	return version, nil
}

func (d *realDevice) BecomeContextManager() error {
	// struct flat_binder_object, all zero except the large-object
	// type tag required by BINDER_SET_CONTEXT_MGR_EXT.
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], wire.KindStrongBinder)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), wire.IoctlSetContextMgrExt, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// binderWriteRead mirrors struct binder_write_read field for field.
type binderWriteRead struct {
	writeSize     uint64
	writeConsumed uint64
	writeBuffer   uint64
	readSize      uint64
	readConsumed  uint64
	readBuffer    uint64
}

func (d *realDevice) WriteRead(write []byte, read []byte) (int, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bwr := binderWriteRead{
		writeSize: uint64(len(write)),
		readSize:  uint64(len(read)),
	}
	if len(write) > 0 {
		bwr.writeBuffer = uint64(uintptr(unsafe.Pointer(&write[0])))
	}
	if len(read) > 0 {
		bwr.readBuffer = uint64(uintptr(unsafe.Pointer(&read[0])))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), wire.IoctlWriteRead, uintptr(unsafe.Pointer(&bwr)))
	if errno != 0 {
		return int(bwr.writeConsumed), int(bwr.readConsumed), errno
	}
	return int(bwr.writeConsumed), int(bwr.readConsumed), nil
}

// PollReadable waits up to timeoutMs for the device to report
// readability, satisfying the Poller interface ExecAlwaysBlock uses to
// avoid busy-spinning across EAGAIN.
func (d *realDevice) PollReadable(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}

func (d *realDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}

// Mmap maps the kernel-owned transaction buffer region read-only, as
// BINDER_WRITE_READ's reply buffers point into it. This runtime never
// writes through the mapping, matching the Non-goal against treating
// it as a shared read/write arena.
func Mmap(d Device, size int) ([]byte, error) {
	rd, ok := d.(*realDevice)
	if !ok {
		return nil, ErrUnsupportedPlatform
	}
	return unix.Mmap(rd.fd, 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
}

// Munmap releases a region obtained from Mmap.
func Munmap(region []byte) error {
	return unix.Munmap(region)
}
