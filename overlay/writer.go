package overlay

import (
	"bytes"
	"context"
	"os"
	"sync"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/sync/errgroup"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/fs"
	"go.polydawn.net/veneer/fsop"
	"go.polydawn.net/veneer/spec"
)

// Default perms for written files and for the dirs conjured above them.
const (
	defaultFilePerms fs.Perms = 0644
	defaultDirPerms  fs.Perms = 0755
)

// How many deletes may be in flight at once during cleanup.
const deleteBatchSize = 50

// How many sibling file writes may be in flight at once.
const writeFanout = 8

/*
	replace applies a flattened write-plan to the filesystem rooted at
	`rootFs`: parent dirs first (serially, so the ordering guarantee
	holds), then the file entries themselves, siblings fanned out
	concurrently.  Reference sources are read here, at write time.

	Returns the list of paths written, for diagnostics.  Failure on any
	single file aborts the whole call; partially written files are left
	in place.  Recovery is the caller's job, not ours.
*/
func replace(ctx context.Context, rootFs fs.FS, plan spec.Flat, basedir fs.AbsolutePath, applyOwnership bool) ([]string, error) {
	paths := plan.Paths()
	for _, p := range paths {
		parent := fs.MustAbsolutePath(p).CoerceRelative().Dir()
		if err := fsop.MkdirAll(rootFs, parent, defaultDirPerms); err != nil {
			return nil, Recategorize(veneer.ErrIO, err)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(writeFanout)
	for _, p := range paths {
		p := p
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return Errorf(veneer.ErrCancelled, "cancelled while applying write-plan")
			}
			fmeta, body, err := resolveEntry(plan[p], basedir)
			if err != nil {
				return err
			}
			fmeta.Name = fs.MustAbsolutePath(p).CoerceRelative()
			if err := fsop.PlaceFile(rootFs, fmeta, bytes.NewReader(body), applyOwnership); err != nil {
				return Recategorize(veneer.ErrIO, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// resolveEntry turns a file entry into concrete content plus metadata.
// This is where a Ref's deferred read finally happens.
func resolveEntry(ent spec.Entry, basedir fs.AbsolutePath) (fs.Metadata, []byte, error) {
	fmeta := fs.Metadata{Type: fs.Type_File, Perms: defaultFilePerms}
	var body []byte
	switch v := ent.(type) {
	case spec.Content:
		f := spec.NewFile(spec.PartialFile{Body: []byte(v)})
		body = f.Body
		fmeta.Mtime, fmeta.Atime = f.Mtime, f.Atime
		fmeta.Uid, fmeta.Gid = f.Uid, f.Gid
	case spec.File:
		body = v.Body
		fmeta.Mtime, fmeta.Atime = v.Mtime, v.Atime
		fmeta.Uid, fmeta.Gid = v.Uid, v.Gid
	case spec.Ref:
		src := v.ResolveSource(basedir)
		var err error
		if body, err = os.ReadFile(src.String()); err != nil {
			return fmeta, nil, Errorf(veneer.ErrIO, "cannot read reference source %s: %s", src, err)
		}
		fmeta.Mtime, fmeta.Atime = v.Mtime, v.Atime
		fmeta.Uid, fmeta.Gid = v.Uid, v.Gid
	default:
		return fmeta, nil, Errorf(veneer.ErrInternal, "unknown file entry variant %T", ent)
	}
	fmeta.Size = int64(len(body))
	return fmeta, body, nil
}

// DeleteReport is the outcome of a best-effort batch delete: which paths
// went away, and which refused (with why), so callers can log rather
// than silently discard the failures.
type DeleteReport struct {
	Deleted []string
	Failed  map[string]error
}

func bestEffortDelete(ctx context.Context, paths []string) DeleteReport {
	report := DeleteReport{Failed: map[string]error{}}
	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(deleteBatchSize)
	for _, p := range paths {
		p := p
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			err := os.RemoveAll(p)
			mu.Lock()
			if err != nil {
				report.Failed[p] = err
			} else {
				report.Deleted = append(report.Deleted, p)
			}
			mu.Unlock()
			return nil // best-effort: errors are reported, never propagated.
		})
	}
	eg.Wait()
	return report
}
