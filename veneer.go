/*
	Package veneer holds the error vocabulary shared by all parts of the
	veneer system.

	Veneer stages an ephemeral, reversible overlay of files onto a real
	(not virtualized) filesystem, and guarantees restoration of the
	pre-overlay state.  The interesting packages are:

	  - `spec` -- the directory model: normalize and flatten recursive
	    directory specifications into a flat write-plan.
	  - `overlay` -- the engine: back up, apply, restore.
	  - `stack` -- the process-wide lock stack that serializes overlay
	    mutations and enforces LIFO restore ordering.
	  - `archive` -- the tar backup artifact format.

	All errors raised by veneer are categorized with go-errcat; the
	categories are enumerated here so call sites can switch on
	`errcat.Category(err)` without importing the package that raised it.
*/
package veneer

type ErrorCategory string

const (
	// ErrUsage means the caller handed us arguments that can never work.
	// No filesystem state has been touched.
	ErrUsage ErrorCategory = "veneer-usage-error"

	// ErrDirInvalid is raised during spec normalization when a path
	// resolves to the virtual root but its value is not a directory.
	// Raised synchronously, before any I/O.
	ErrDirInvalid ErrorCategory = "veneer-dir-invalid"

	// ErrLockOrdering means a restore was requested for an instance that
	// is not at the top of the lock stack.  By the time this error is
	// returned, a full drain has already been attempted: the system is
	// back to a clean slate, but the call that provoked it has failed.
	ErrLockOrdering ErrorCategory = "veneer-lock-ordering"

	// ErrTimeout means the lock stack's wait or execution timeout
	// elapsed.  Not retried automatically.
	ErrTimeout ErrorCategory = "veneer-lock-timeout"

	// ErrAlreadyEnabled is raised by enabling the same instance twice
	// without an intervening restore.  The instance is force-restored
	// before this error surfaces, so the filesystem is not left mutated.
	ErrAlreadyEnabled ErrorCategory = "veneer-already-enabled"

	// ErrNotEnabled is raised by calling cleanup on an instance that has
	// already been restored.
	ErrNotEnabled ErrorCategory = "veneer-not-enabled"

	// ErrLeftovers means backup artifacts from a previous run were found
	// in the temp directory.  The filesystem is in an unknown state;
	// callers must treat this as fatal and refuse to proceed.
	ErrLeftovers ErrorCategory = "veneer-leftover-backups"

	// ErrCorrupt means a backup artifact could not be parsed.
	ErrCorrupt ErrorCategory = "veneer-backup-corrupt"

	// ErrIO is the catchall for filesystem trouble: probes, reads,
	// writes, archive and extract failures.
	ErrIO ErrorCategory = "veneer-io-error"

	// ErrCancelled is raised when a context cancelled an operation
	// between critical sections.  Once a mutation begins it runs to
	// completion or failure; there is no partial-cancel path.
	ErrCancelled ErrorCategory = "veneer-cancelled"

	// ErrInternal is never expected.  File a bug.
	ErrInternal ErrorCategory = "veneer-internal-error"
)
