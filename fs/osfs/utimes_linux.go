//go:build linux

// The standard lib exports 'chtimes' but no 'lchtimes', and we need
// nano-precision time repair on symlinks to restore backups faithfully.

package osfs

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func utimesNano(rpath string, atime time.Time, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNano(rpath, ts)
}

func lutimesNano(rpath string, atime time.Time, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	// Depends on kernel 2.6.22 or newer; fallbacks lose nano precision
	// and we have not bothered to implement them.
	return unix.UtimesNanoAt(unix.AT_FDCWD, rpath, ts, unix.AT_SYMLINK_NOFOLLOW)
}

func statAtime(sys *syscall.Stat_t) time.Time {
	return time.Unix(sys.Atim.Sec, sys.Atim.Nsec)
}
