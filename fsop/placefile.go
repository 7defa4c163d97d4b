package fsop

import (
	"io"
	"os"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer/fs"
)

/*
	Places a file on the filesystem, replicating all attributes described
	in the metadata.

	The path within the filesystem is `fmeta.Name` (the filesystem joins
	it with the absolute base path it was constructed with).

	An existing node at the target path is replaced: files are truncated
	and rewritten in place; anything whose type differs from the incoming
	entry is removed first.  Directories that already exist are kept and
	only have their attributes reapplied.

	If `applyOwnership` is false, chown calls are skipped entirely; use
	this when running without the caps for it (see the caps package).
*/
func PlaceFile(afs fs.FS, fmeta fs.Metadata, body io.Reader, applyOwnership bool) error {
	// If something of a different shape is already squatting the path, clear it.
	if existing, err := afs.LStat(fmeta.Name); err == nil {
		if existing.Type != fmeta.Type && fmeta.Name != (fs.RelPath{}) {
			if err := afs.RemoveAll(fmeta.Name); err != nil {
				return err
			}
		}
	} else if Category(err) != fs.ErrNotExists {
		return err
	}

	// Fill in the content.  (Attribs come later.)
	switch fmeta.Type {
	case fs.Type_File:
		file, err := afs.OpenFile(fmeta.Name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fmeta.Perms)
		if err != nil {
			return err
		}
		if body != nil {
			if _, err := io.Copy(file, body); err != nil {
				file.Close()
				return Recategorize(fs.ErrUnknown, err)
			}
		}
		file.Close()
	case fs.Type_Dir:
		if existing, err := afs.LStat(fmeta.Name); err == nil && existing.Type == fs.Type_Dir {
			break // the dir may exist; we'll just re-apply attribs.
		}
		if err := afs.Mkdir(fmeta.Name, fmeta.Perms); err != nil {
			return err
		}
	case fs.Type_Symlink:
		// Linkname can be any string you want; it's perfectly valid (if odd)
		// to store e.g. ".///" as a symlink target.
		if err := afs.Mklink(fmeta.Name, fmeta.Linkname); err != nil {
			return err
		}
	case fs.Type_NamedPipe:
		if err := afs.Mkfifo(fmeta.Name, fmeta.Perms); err != nil {
			return err
		}
	default:
		return Errorf(fs.ErrUnknown, "placefile: unhandlable file type %s", fmeta.Type)
	}

	if applyOwnership {
		if err := afs.Lchown(fmeta.Name, fmeta.Uid, fmeta.Gid); err != nil {
			return err
		}
	}

	atime := fmeta.Atime
	if atime.IsZero() {
		atime = fs.DefaultAtime
	}
	if fmeta.Type == fs.Type_Symlink {
		// There's no such thing as `lchmod` on linux, so attribs end here.
		return afs.SetTimesLNano(fmeta.Name, fmeta.Mtime, atime)
	}
	if err := afs.Chmod(fmeta.Name, fmeta.Perms); err != nil {
		return err
	}
	return afs.SetTimesNano(fmeta.Name, fmeta.Mtime, atime)
}
