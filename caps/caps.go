/*
	Provides helper functions for checking if we have some functional sets
	of capabilities.
*/
package caps

import (
	"os"
	"runtime"

	"github.com/syndtr/gocapability/capability"
)

func Scan() *Fulcrum {
	var err error
	f := &Fulcrum{}
	f.onLinux = runtime.GOOS == "linux"
	f.ourUID = os.Getuid()
	if f.onLinux {
		f.ourCaps, err = capability.NewPid(0) // zero means self
		if err != nil {
			panic(err)
		}
	}
	return f
}

type Fulcrum struct {
	onLinux bool
	ourUID  int
	ourCaps capability.Capabilities // valid on linux; nil elsewhere (causing uid==0 logic).
}

// Whether we have enough caps to confidently place and restore files with
// ownership info.  This requires "have CAP_CHOWN", but also "have
// CAP_FOWNER" (we need that one to set mtimes on files *after having
// chown'd them*); or, off linux, is uid==0.
//
// When this is false, the overlay writer skips chown calls entirely and
// backups restore with the current identity as owner.
func (f Fulcrum) CanManageOwnership() bool {
	if !f.onLinux {
		return f.ourUID == 0
	}
	return f.ourCaps.Get(capability.EFFECTIVE, capability.CAP_CHOWN|capability.CAP_FOWNER)
}

// Whether we have enough caps to confidently mutate paths all over the
// host filesystem (the usual deployment is an admin-level test runner).
// We sum this up as "have CAP_DAC_OVERRIDE"; or, off linux, is uid==0.
func (f Fulcrum) CanRoamFilesystem() bool {
	if !f.onLinux {
		return f.ourUID == 0
	}
	return f.ourCaps.Get(capability.EFFECTIVE, capability.CAP_DAC_OVERRIDE)
}
