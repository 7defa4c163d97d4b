package fsop

import (
	"io"
	"os"

	"go.polydawn.net/veneer/fs"
)

/*
	ScanFile captures one path for archiving: its attributes as an
	`fs.Metadata`, plus, for regular files, an open reader on the
	content.  The reader is nil for every other type; when one is
	returned, closing it is the caller's job.

	Backups read a live filesystem, and the path can change between
	syscalls.  The attributes are therefore re-read through a second
	lstat *after* the open: the size recorded in the metadata bounds how
	many bytes the archive copies, and pairing one file's attributes
	with another file's bytes would corrupt the backup silently.  A path
	that stops being a regular file mid-scan degrades to the nil-reader
	case.
*/
func ScanFile(afs fs.FS, path fs.RelPath) (*fs.Metadata, io.ReadCloser, error) {
	fmeta, err := afs.LStat(path)
	if err != nil {
		return nil, nil, err
	}
	if fmeta.Type != fs.Type_File {
		return fmeta, nil, nil
	}

	body, err := afs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, nil, err
	}
	fmeta, err = afs.LStat(path)
	if err != nil {
		body.Close()
		return nil, nil, err
	}
	if fmeta.Type != fs.Type_File {
		body.Close()
		return fmeta, nil, nil
	}
	return fmeta, body, nil
}
