package errors

import "syscall"

// ToFuseErrno implements the mount-level error mapping table: the core's
// Kind values already line up with the errno the kernel VFS layer expects,
// so this just unwraps *Error; any other error is mapped to EIO.
func ToFuseErrno(err error) error {
	if err == nil {
		return nil
	}
	if chfsErr, ok := err.(*Error); ok {
		return chfsErr.Kind.Errno()
	}
	return syscall.EIO
}
