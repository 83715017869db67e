// Package wire encodes the on-the-wire shapes the binder driver expects:
// ioctl numbers, command/return opcodes, the transaction-data struct and
// the flat object-reference layout. Nothing here decides policy; it only
// knows how to lay bytes out the way the kernel reads them.
package wire

// ioc mirrors the Linux kernel's asm-generic/ioctl.h _IOC macro. The
// binder driver doesn't expose its ioctl numbers through a vetted Go
// package, so they're computed the same way the kernel header does.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	binderMagic = 'b'
)

const (
	binderWriteReadSize  = 48 // struct binder_write_read, 6 binder_size_t/binder_uintptr_t fields
	binderVersionSize    = 4  // struct binder_version, one int32
	flatBinderObjectSize = 24 // struct flat_binder_object
)

// Ioctl request numbers for /dev/binder, computed once at init.
var (
	IoctlWriteRead        = ioc(iocWrite|iocRead, binderMagic, 1, binderWriteReadSize)
	IoctlVersion           = ioc(iocWrite|iocRead, binderMagic, 9, binderVersionSize)
	IoctlSetContextMgrExt  = ioc(iocWrite, binderMagic, 13, flatBinderObjectSize)
)

// ProtocolVersion is the binder wire protocol version this client speaks.
// It's compiled in rather than probed because the object layout and
// command set below are frozen to this version.
const ProtocolVersion int32 = 8
