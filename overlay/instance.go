package overlay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/archive"
	"go.polydawn.net/veneer/fs"
	"go.polydawn.net/veneer/fs/osfs"
	"go.polydawn.net/veneer/lib/guid"
	"go.polydawn.net/veneer/spec"
	"go.polydawn.net/veneer/stack"
)

/*
	A Disabled instance is an inert configuration: a spec plus options
	that have not touched the filesystem.  Enable arms it.
*/
type Disabled struct {
	mgr  *Manager
	spec spec.Dir
	opts Opts

	mu   sync.Mutex
	live *Enabled // the armed instance, while one exists.
}

// The fully-resolved view of an instance's configuration: global
// defaults already merged in, paths made absolute.
type effectiveOpts struct {
	rootdir fs.AbsolutePath
	basedir fs.AbsolutePath
	keep    []string
	cleanup []string
	tmpDir  string
}

func (d *Disabled) resolve() (effectiveOpts, error) {
	cfg := d.mgr.Config()
	eff := effectiveOpts{tmpDir: cfg.TmpDir}

	rootdir := d.opts.RootDir
	if rootdir == "" {
		rootdir = cfg.Opts.RootDir
	}
	if rootdir == "" {
		rootdir = "/"
	}
	var err error
	if eff.rootdir, err = fs.ParseAbsolutePath(rootdir); err != nil {
		return eff, Errorf(veneer.ErrUsage, "invalid rootdir: %s", err)
	}

	basedir := d.opts.BaseDir
	if basedir == "" {
		basedir = cfg.Opts.BaseDir
	}
	if basedir == "" {
		if basedir, err = os.Getwd(); err != nil {
			return eff, Recategorize(veneer.ErrIO, err)
		}
	}
	if eff.basedir, err = fs.ParseAbsolutePath(basedir); err != nil {
		return eff, Errorf(veneer.ErrUsage, "invalid basedir: %s", err)
	}

	eff.keep = append(append([]string{}, cfg.Opts.Keep...), d.opts.Keep...)
	eff.cleanup = append(append([]string{}, cfg.Opts.Cleanup...), d.opts.Cleanup...)
	return eff, nil
}

/*
	Enable arms the overlay:

	  1. flatten the merged write-plan (global default spec underneath,
	     instance spec on top);
	  2. probe every target path and every current cleanup-glob match for
	     existence: what exists goes to the keep set (archive now, restore
	     later), what doesn't goes to the cleanup set (delete on restore);
	  3. archive the glob-expanded keep set into a backup artifact in the
	     temp dir, tagged with a fresh id;
	  4. acquire the process-wide lock (on lock failure the artifact is
	     deleted and the failure propagates untouched);
	  5. apply the write-plan.  On write failure, one best-effort restore
	     is attempted and the original error re-raised.  The secondary
	     restore may itself fail, since the filesystem may be in the same
	     broken state that failed the write; that failure is logged, never
	     masked over the original.

	Enabling the same instance twice without an intervening restore first
	force-restores it (so the filesystem is not left mutated), then fails
	with ErrAlreadyEnabled.
*/
func (d *Disabled) Enable(ctx context.Context) (*Enabled, error) {
	d.mu.Lock()
	live := d.live
	d.mu.Unlock()
	if live != nil && !live.restored.Load() {
		if err := live.Restore(ctx); err != nil {
			d.mgr.logger.Error("force-restore of doubly-enabled instance failed",
				zap.String("id", live.ID), zap.Error(err))
		}
		return nil, Errorf(veneer.ErrAlreadyEnabled,
			"instance %q is already enabled; it has been restored, but re-enabling without an intervening restore is a caller bug", live.ID)
	}

	eff, err := d.resolve()
	if err != nil {
		return nil, err
	}
	defFlat, err := spec.Flatten(d.mgr.Config().Spec)
	if err != nil {
		return nil, err
	}
	instFlat, err := spec.Flatten(d.spec)
	if err != nil {
		return nil, err
	}
	plan := spec.MergeFlat(defFlat, instFlat)

	rootFs := osfs.New(eff.rootdir)

	// Classify: existing targets are kept (archived, later restored);
	// missing ones are cleaned up (deleted on restore).  Anything a
	// cleanup glob matches right now also exists, so it's kept too.
	// Explicit keep globs join in regardless of probing.
	keepPatterns := append([]string{}, eff.keep...)
	cleanupPatterns := append([]string{}, eff.cleanup...)
	for _, p := range plan.Paths() {
		exists, err := rootFs.Exists(fs.MustAbsolutePath(p).CoerceRelative())
		if err != nil {
			return nil, Recategorize(veneer.ErrIO, err)
		}
		if exists {
			keepPatterns = append(keepPatterns, p)
		} else {
			cleanupPatterns = append(cleanupPatterns, p)
		}
	}
	preexisting, err := expandGlobs(eff.rootdir, eff.cleanup)
	if err != nil {
		return nil, err
	}
	for _, rel := range preexisting {
		keepPatterns = append(keepPatterns, "/"+rel.SimpleString())
	}

	keepSet, err := expandGlobs(eff.rootdir, keepPatterns)
	if err != nil {
		return nil, err
	}

	id := guid.New()
	artifact := archive.ArtifactPath(eff.tmpDir, id)
	if err := packArtifact(ctx, rootFs, keepSet, artifact); err != nil {
		os.Remove(artifact)
		return nil, err
	}

	en := &Enabled{
		ID:         id,
		BackupPath: artifact,
		mgr:        d.mgr,
		rootdir:    eff.rootdir,
		cleanup:    cleanupPatterns,
	}
	applyBegan := false
	err = d.mgr.stack.Acquire(ctx, stack.Item{ID: id, Drain: en.drain}, func(ctx context.Context) error {
		applyBegan = true
		written, werr := replace(ctx, rootFs, plan, eff.basedir, d.mgr.fulcrum.CanManageOwnership())
		if werr != nil {
			if rerr := en.restoreBody(ctx); rerr != nil {
				d.mgr.logger.Error("best-effort restore after failed enable also failed; backup artifact left in place",
					zap.String("id", id), zap.String("backup", artifact), zap.Error(rerr))
			}
			return werr
		}
		d.mgr.logger.Debug("overlay enabled", zap.String("id", id), zap.Strings("written", written))
		return nil
	})
	if err != nil {
		if !applyBegan {
			// Lock failure: the apply never ran, so the artifact is dead weight.
			os.Remove(artifact)
		}
		return nil, err
	}

	d.mu.Lock()
	d.live = en
	d.mu.Unlock()
	return en, nil
}

func packArtifact(ctx context.Context, rootFs fs.FS, keepSet []fs.RelPath, artifact string) error {
	f, err := os.OpenFile(artifact, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return Recategorize(veneer.ErrIO, err)
	}
	if err := archive.Pack(ctx, rootFs, keepSet, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return Recategorize(veneer.ErrIO, err)
	}
	return nil
}

// expandGlobs resolves glob patterns against the rootdir and returns the
// matches as rootdir-relative paths, deduplicated, sorted.  A pattern
// with no matches contributes nothing (a literal path is a valid glob,
// so probing and expansion share this one code path).
func expandGlobs(rootdir fs.AbsolutePath, patterns []string) ([]fs.RelPath, error) {
	seen := map[fs.RelPath]struct{}{}
	var out []fs.RelPath
	prefix := rootdir.String()
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(prefix, pattern))
		if err != nil {
			return nil, Errorf(veneer.ErrUsage, "invalid glob pattern %q: %s", pattern, err)
		}
		for _, m := range matches {
			rel := strings.TrimPrefix(strings.TrimPrefix(m, prefix), "/")
			if rel == "" {
				continue // never archive or delete the rootdir itself.
			}
			rp := fs.MustRelPath(rel)
			if _, ok := seen[rp]; ok {
				continue
			}
			seen[rp] = struct{}{}
			out = append(out, rp)
		}
	}
	return fs.SortedRel(out), nil
}

/*
	An Enabled instance is live and armed: its files are laid over the
	host filesystem and its backup artifact holds the pre-overlay state.
	Consumed exactly once by a successful Restore (idempotent afterward),
	or forcibly by a stack drain.
*/
type Enabled struct {
	ID         string
	BackupPath string

	mgr      *Manager
	rootdir  fs.AbsolutePath
	cleanup  []string // glob patterns to delete on restore.
	restored atomic.Bool
}

/*
	Restore reverses the overlay: deletes cleanup-set matches
	(best-effort, in bounded batches), extracts the backup artifact back
	over the rootdir, deletes the artifact, and pops the lock stack.

	Idempotent after first success.  Calling it out of LIFO order
	relative to other live instances fails with ErrLockOrdering -- and
	drains the entire stack as a side effect, so the host is clean even
	though this call failed.
*/
func (e *Enabled) Restore(ctx context.Context) error {
	if e.restored.Load() {
		return nil
	}
	return e.mgr.stack.Release(ctx, e.ID, e.restoreBody)
}

/*
	Cleanup deletes cleanup-set matches without touching the backup or
	the keep set -- for clearing test-created scratch files mid-test
	without ending the overlay.  Only valid while enabled.
*/
func (e *Enabled) Cleanup(ctx context.Context) error {
	if e.restored.Load() {
		return Errorf(veneer.ErrNotEnabled, "instance %q is already restored; cleanup is only valid while enabled", e.ID)
	}
	return e.deleteCleanupMatches(ctx)
}

// drain is the stack's handle on this instance: the restore body without
// the ordering check, for use inside an already-held critical section.
func (e *Enabled) drain(ctx context.Context) error {
	if e.restored.Load() {
		return nil
	}
	return e.restoreBody(ctx)
}

func (e *Enabled) restoreBody(ctx context.Context) error {
	if err := e.deleteCleanupMatches(ctx); err != nil {
		return err
	}

	f, err := os.Open(e.BackupPath)
	if err != nil {
		return Recategorize(veneer.ErrIO, err)
	}
	rootFs := osfs.New(e.rootdir)
	err = archive.Extract(ctx, rootFs, f, e.mgr.fulcrum.CanManageOwnership())
	f.Close()
	if err != nil {
		return err
	}

	// A stale artifact would make the next run's leftover scan report a crash,
	// so failing to remove it fails the restore (retryably).
	if err := os.Remove(e.BackupPath); err != nil {
		return Recategorize(veneer.ErrIO, err)
	}
	e.restored.Store(true)
	return nil
}

func (e *Enabled) deleteCleanupMatches(ctx context.Context) error {
	matches, err := expandGlobs(e.rootdir, e.cleanup)
	if err != nil {
		return err
	}
	targets := make([]string, len(matches))
	for i, rel := range matches {
		targets[i] = e.rootdir.Join(rel).String()
	}
	report := bestEffortDelete(ctx, targets)
	for path, derr := range report.Failed {
		// Advisory: a leftover scratch file beats aborting restoration.
		e.mgr.logger.Warn("cleanup delete failed", zap.String("id", e.ID), zap.String("path", path), zap.Error(derr))
	}
	return nil
}
