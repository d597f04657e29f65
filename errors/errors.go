// Package errors defines the canonical error kinds surfaced by the chfs
// core, each backed by a syscall.Errno so the mount adapter can translate
// them into the codes the kernel VFS layer expects.
package errors

import (
	"fmt"
	"syscall"
)

// Kind identifies one of the canonical error conditions the core returns.
// It is backed by the syscall.Errno a mount adapter would report for it.
type Kind syscall.Errno

const (
	// KindDone is the sentinel the core's internal helpers use to mean
	// "no error"; it is never returned from an exported function.
	KindDone Kind = 0
	// KindNotExist means an inode id or directory entry is absent.
	KindNotExist = Kind(syscall.ENOENT)
	// KindAlreadyExist means a directory entry with this name already exists.
	KindAlreadyExist = Kind(syscall.EEXIST)
	// KindNotEmpty means a directory removal was attempted while entries remain.
	KindNotEmpty = Kind(syscall.ENOTEMPTY)
	// KindOutOfResource means no free block, no free inode slot, or a file
	// would exceed the maximum supported size.
	KindOutOfResource = Kind(syscall.ENOSPC)
	// KindInvalidArg means a malformed block id, a bitmap inconsistency, or
	// a double-free.
	KindInvalidArg = Kind(syscall.EINVAL)
)

func (k Kind) Errno() syscall.Errno {
	return syscall.Errno(k)
}

func (k Kind) String() string {
	return syscall.Errno(k).Error()
}

// Error wraps a Kind with an optional descriptive message and an optional
// wrapped cause, mirroring disko's DriverError/customDriverError split.
type Error struct {
	Kind    Kind
	message string
	cause   error
}

// New creates an Error with a default message derived from the kind.
func New(kind Kind) *Error {
	return &Error{Kind: kind, message: kind.String()}
}

// NewWithMessage creates an Error from a kind with a custom message.
func NewWithMessage(kind Kind, message string) *Error {
	return &Error{Kind: kind, message: fmt.Sprintf("%s: %s", kind.String(), message)}
}

func (e *Error) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.Kind.String()
}

// WithMessage returns a copy of e with an additional message appended.
func (e *Error) WithMessage(message string) *Error {
	return &Error{
		Kind:    e.Kind,
		message: fmt.Sprintf("%s: %s", e.Error(), message),
		cause:   e,
	}
}

// Wrap returns a copy of e that also carries err as its cause, so that
// errors.Is(result, err) and errors.Is(result, e) both hold.
func (e *Error) Wrap(err error) *Error {
	return &Error{
		Kind:    e.Kind,
		message: fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		cause:   err,
	}
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Kind, so that
// stdlib errors.Is(err, errors.ErrNotExist) works without pointer identity.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrNotExist      = New(KindNotExist)
	ErrAlreadyExist  = New(KindAlreadyExist)
	ErrNotEmpty      = New(KindNotEmpty)
	ErrOutOfResource = New(KindOutOfResource)
	ErrInvalidArg    = New(KindInvalidArg)
)
