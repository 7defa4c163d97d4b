package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"time"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/fs"
	"go.polydawn.net/veneer/fsop"
)

/*
	Pack archives the given paths (relative to the base of `afs`) into a
	gzipped tar stream written to `dest`.

	Directories are archived with their whole subtree.  Paths are packed
	in sorted order, and a path already covered by an earlier directory is
	skipped rather than packed twice.  Nonexistent paths are an error --
	callers are expected to have probed existence already.

	Cancellation is only honored between entries; a partially-written
	stream after an error is the caller's to discard.
*/
func Pack(ctx context.Context, afs fs.FS, paths []fs.RelPath, dest io.Writer) error {
	// Note on compression levels: default is 6, and per lzma benchmark
	// lore the size payoff above that is minimal while compress time
	// rises sharply; decompress time does not vary with level.
	gzWriter := gzip.NewWriter(dest)
	// Save the gzip reference just to close it; tar.Writer doesn't passthru its own close.
	defer gzWriter.Close()
	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	var packedDirs []fs.RelPath
	for _, path := range fs.SortedRel(paths) {
		if ctx.Err() != nil {
			return Errorf(veneer.ErrCancelled, "cancelled while archiving")
		}
		if coveredBy(path, packedDirs) {
			continue
		}
		fmeta, err := afs.LStat(path)
		if err != nil {
			return Recategorize(veneer.ErrIO, err)
		}
		if fmeta.Type == fs.Type_Dir {
			packedDirs = append(packedDirs, path)
			if err := packTree(ctx, afs, path, tarWriter); err != nil {
				return err
			}
			continue
		}
		if err := packOne(afs, path, tarWriter); err != nil {
			return err
		}
	}
	return nil
}

func packTree(ctx context.Context, afs fs.FS, root fs.RelPath, tw *tar.Writer) error {
	return fs.Walk(subFS{afs, root}, func(node *fs.FilewalkNode) error {
		if node.Err != nil {
			return Recategorize(veneer.ErrIO, node.Err)
		}
		if ctx.Err() != nil {
			return Errorf(veneer.ErrCancelled, "cancelled while archiving")
		}
		return packOne(afs, root.Join(node.Info.Name), tw)
	}, nil)
}

func packOne(afs fs.FS, path fs.RelPath, tw *tar.Writer) error {
	fmeta, body, err := fsop.ScanFile(afs, path)
	if err != nil {
		return Recategorize(veneer.ErrIO, err)
	}
	fmeta.Name = path
	// Flatten time to micros.  PAX keeps sub-second precision, but some
	// extract paths round; truncating here keeps round trips honest.
	fmeta.Mtime = fmeta.Mtime.Truncate(time.Microsecond)
	fmeta.Atime = fmeta.Atime.Truncate(time.Microsecond)

	hdr := &tar.Header{}
	MetadataToTarHdr(fmeta, hdr)
	if err := tw.WriteHeader(hdr); err != nil {
		return Recategorize(veneer.ErrIO, err)
	}
	if body != nil {
		defer body.Close()
		if _, err := io.Copy(tw, body); err != nil {
			return Recategorize(veneer.ErrIO, err)
		}
	}
	return nil
}

func coveredBy(path fs.RelPath, dirs []fs.RelPath) bool {
	for _, dir := range dirs {
		for p := path; p != (fs.RelPath{}); p = p.Dir() {
			if p == dir {
				return true
			}
		}
	}
	return false
}

// subFS rebases walk paths under a subdirectory without constructing a
// whole new FS (which would re-stat the base).
type subFS struct {
	fs.FS
	root fs.RelPath
}

func (s subFS) BasePath() fs.AbsolutePath {
	return s.FS.BasePath().Join(s.root)
}
func (s subFS) LStat(path fs.RelPath) (*fs.Metadata, error) {
	fmeta, err := s.FS.LStat(s.root.Join(path))
	if err != nil {
		return fmeta, err
	}
	fmeta.Name = path
	return fmeta, nil
}
func (s subFS) ReadDirNames(path fs.RelPath) ([]string, error) {
	return s.FS.ReadDirNames(s.root.Join(path))
}
