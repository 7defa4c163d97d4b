package veneer

import (
	. "github.com/warpfork/go-errcat"
)

type ExitCode int

const (
	ExitSuccess       ExitCode = 0
	ExitFailure       ExitCode = 1 // general purpose
	ExitUsage         ExitCode = 2
	ExitLeftovers     ExitCode = 4 // stale backup artifacts found; refusing to run
	ExitLockOrdering  ExitCode = 5
	ExitTimeout       ExitCode = 6
	ExitIO            ExitCode = 8
	ExitCorrupt       ExitCode = 9
	ExitCancelled     ExitCode = 120
	ExitProgrammerErr ExitCode = 127
)

// ExitCodeForError maps an error category onto the process exit code
// vocabulary used by the CLI.  A nil error maps to ExitSuccess.
func ExitCodeForError(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	switch Category(err) {
	case ErrUsage, ErrDirInvalid:
		return ExitUsage
	case ErrLeftovers:
		return ExitLeftovers
	case ErrLockOrdering, ErrAlreadyEnabled, ErrNotEnabled:
		return ExitLockOrdering
	case ErrTimeout:
		return ExitTimeout
	case ErrIO:
		return ExitIO
	case ErrCorrupt:
		return ExitCorrupt
	case ErrCancelled:
		return ExitCancelled
	case ErrInternal:
		return ExitProgrammerErr
	default:
		return ExitFailure
	}
}
