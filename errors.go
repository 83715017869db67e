package binder

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrCode classifies a binder-level failure the way SPEC_FULL.md §7
// taxonomizes them: what the caller should assume happened to the
// transaction, independent of the underlying errno.
type ErrCode string

const (
	// ErrCodeUnreachableTarget means the kernel reported the target
	// process or object no longer exists (BR_DEAD_REPLY, or an ioctl
	// failing with ESRCH/ENOENT), or a local Reference's object is no
	// longer registered.
	ErrCodeUnreachableTarget ErrCode = "unreachable_target"
	// ErrCodeFailedReply means the target was reachable but declined
	// or failed to produce a reply (BR_FAILED_REPLY).
	ErrCodeFailedReply ErrCode = "failed_reply"
	// ErrCodeMalformedReply means the reply bytes didn't parse as a
	// valid return stream or transaction payload.
	ErrCodeMalformedReply ErrCode = "malformed_reply"
	// ErrCodeRemoteError means the remote object itself returned an
	// application-level error status (FlagStatusCode set on reply).
	ErrCodeRemoteError ErrCode = "remote_error"
	// ErrCodeLocalError covers everything that went wrong on this
	// side of the kernel boundary: a bad ioctl, a protocol desync
	// between this runtime's bookkeeping and the kernel's.
	ErrCodeLocalError ErrCode = "local_error"
)

// Error is the single structured error type this package returns.
// Callers that only care about the taxonomy can switch on Code;
// callers that want the raw syscall failure can unwrap through Inner.
type Error struct {
	Op    string
	Code  ErrCode
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("binder: %s: %s: %v", e.Op, e.Msg, e.Inner)
	}
	return fmt.Sprintf("binder: %s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewError(op string, code ErrCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError classifies err into the taxonomy above, mapping a raw
// syscall.Errno through mapErrnoToCode and leaving anything already a
// *Error untouched.
func WrapError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	var errno syscall.Errno
	code := ErrCodeLocalError
	if errors.As(err, &errno) {
		code = mapErrnoToCode(errno)
	}
	return &Error{Op: op, Code: code, Errno: errno, Msg: err.Error(), Inner: err}
}

func mapErrnoToCode(errno syscall.Errno) ErrCode {
	switch errno {
	case syscall.ESRCH, syscall.ENOENT:
		return ErrCodeUnreachableTarget
	case syscall.EINVAL:
		return ErrCodeMalformedReply
	default:
		return ErrCodeLocalError
	}
}

// IsCode reports whether err (or anything it wraps) is a *Error with
// the given code.
func IsCode(err error, code ErrCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
