//go:build darwin

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
	tv := []unix.Timeval{
		unix.NsecToTimeval(atime.UnixNano()),
		unix.NsecToTimeval(mtime.UnixNano()),
	}
	// Micro precision only on darwin; close enough for fixture staging.
	return unix.Lutimes(rpath, tv)
}

func statAtime(sys *syscall.Stat_t) time.Time {
	return time.Unix(sys.Atimespec.Sec, sys.Atimespec.Nsec)
}
