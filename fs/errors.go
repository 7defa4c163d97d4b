package fs

import (
	"os"
	"syscall"

	. "github.com/warpfork/go-errcat"
)

type ErrorCategory string

const (
	ErrUnknown          ErrorCategory = "fs-unknown"
	ErrNotExists        ErrorCategory = "fs-not-exists"
	ErrAlreadyExists    ErrorCategory = "fs-already-exists"
	ErrNotDir           ErrorCategory = "fs-not-dir"
	ErrRecursion        ErrorCategory = "fs-recursion"
	ErrPermissionDenied ErrorCategory = "fs-permission-denied"

	// ErrBreakout is raised when an operation would traverse above its
	// base path.  All checks of this kind are best-effort: concurrent
	// modification of the operational area by another process makes a
	// TOCTOU violation impossible to rule out.
	ErrBreakout ErrorCategory = "fs-breakout"
)

/*
	Normalize raw errors from the os and syscall packages into
	categorized errors.  Returns nil if the given error is nil.
*/
func NormalizeIOError(ioe error) error {
	if ioe == nil {
		return nil
	}
	switch {
	case os.IsNotExist(ioe):
		return Recategorize(ErrNotExists, ioe)
	case os.IsExist(ioe):
		return Recategorize(ErrAlreadyExists, ioe)
	case os.IsPermission(ioe):
		return Recategorize(ErrPermissionDenied, ioe)
	case isErrno(ioe, syscall.ENOTDIR):
		return Recategorize(ErrNotDir, ioe)
	case isErrno(ioe, syscall.ELOOP):
		return Recategorize(ErrRecursion, ioe)
	default:
		return Recategorize(ErrUnknown, ioe)
	}
}

func isErrno(err error, errno syscall.Errno) bool {
	switch e2 := err.(type) {
	case *os.PathError:
		return e2.Err == errno
	case *os.LinkError:
		return e2.Err == errno
	case *os.SyscallError:
		return e2.Err == errno
	case syscall.Errno:
		return e2 == errno
	default:
		return false
	}
}

func errNotAbsolute(p string) error {
	return Errorf(ErrBreakout, "fs: invalid path %q: absolute path required", p)
}
