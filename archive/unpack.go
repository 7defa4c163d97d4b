package archive

import (
	"archive/tar"
	"context"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/fs"
	"go.polydawn.net/veneer/fsop"
)

/*
	Extract replays a backup artifact over the base of `afs`, overwriting
	whatever is currently at each archived path.

	The tar format allows implicit parent dirs; any that are missing on
	disk are conjured with default attributes.  Paths that use `../` to
	leave the base dir are rejected as corrupt.

	Extraction failure is fatal to a restore, so unlike the delete loops
	around it, nothing in here is best-effort.
*/
func Extract(ctx context.Context, afs fs.FS, src io.Reader, applyOwnership bool) error {
	reader, err := Decompress(src)
	if err != nil {
		return Errorf(veneer.ErrCorrupt, "corrupt backup compression: %s", err)
	}
	tr := tar.NewReader(reader)

	// Track dirs we've created; the tar format allows implicit parents.
	dirs := map[fs.RelPath]struct{}{}
	// Explicit dir entries get their times clobbered again by every child
	// we place inside them; remember them and repair at the end.
	var dirTimes []fs.Metadata

	for {
		thdr, err := tr.Next()
		if err == io.EOF {
			return repairDirTimes(afs, dirTimes)
		}
		if err != nil {
			return Errorf(veneer.ErrCorrupt, "corrupt backup: %s", err)
		}
		if ctx.Err() != nil {
			return Errorf(veneer.ErrCancelled, "cancelled while extracting backup")
		}

		fmeta := fs.Metadata{}
		if err := TarHdrToMetadata(thdr, &fmeta); err != nil {
			return err
		}
		if strings.HasPrefix(fmeta.Name.String(), "..") {
			return Errorf(veneer.ErrCorrupt, "corrupt backup: paths that use '../' to leave the base dir are invalid")
		}

		// Infer parents, bottom up, stopping at the first one that's
		// already known or already on disk.
		var missing []fs.RelPath
		for parent := fmeta.Name.Dir(); parent != (fs.RelPath{}); parent = parent.Dir() {
			if _, known := dirs[parent]; known {
				break
			}
			exists, err := afs.Exists(parent)
			if err != nil {
				return Recategorize(veneer.ErrIO, err)
			}
			if exists {
				break
			}
			missing = append(missing, parent)
		}
		for i := len(missing) - 1; i >= 0; i-- {
			conjured := defaultDirMetadata()
			conjured.Name = missing[i]
			if err := fsop.PlaceFile(afs, conjured, nil, applyOwnership); err != nil {
				return Recategorize(veneer.ErrIO, err)
			}
			dirs[missing[i]] = struct{}{}
		}

		if fmeta.Type == fs.Type_Dir {
			dirs[fmeta.Name] = struct{}{}
			dirTimes = append(dirTimes, fmeta)
		}
		var body io.Reader
		if fmeta.Type == fs.Type_File {
			body = tr
		}
		if err := fsop.PlaceFile(afs, fmeta, body, applyOwnership); err != nil {
			return Recategorize(veneer.ErrIO, err)
		}
	}
}

// Deepest first, so fixing a parent isn't undone by fixing its child.
func repairDirTimes(afs fs.FS, dirTimes []fs.Metadata) error {
	for i := len(dirTimes) - 1; i >= 0; i-- {
		fmeta := dirTimes[i]
		atime := fmeta.Atime
		if atime.IsZero() {
			atime = fs.DefaultAtime
		}
		if err := afs.SetTimesNano(fmeta.Name, fmeta.Mtime, atime); err != nil {
			return Recategorize(veneer.ErrIO, err)
		}
	}
	return nil
}

// Defaults for dirs a backup implies but does not list.
func defaultDirMetadata() fs.Metadata {
	return fs.Metadata{
		Type:  fs.Type_Dir,
		Perms: 0755,
		Mtime: fs.DefaultAtime,
		Atime: fs.DefaultAtime,
	}
}
