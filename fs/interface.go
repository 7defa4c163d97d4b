package fs

import (
	"io"
	"time"
)

/*
	Interface for all primitive operations veneer expects to be able to
	perform on a filesystem.

	All paths accepted are RelPath types; an FS instance is constructed
	with an AbsolutePath base, and all further operations are joined
	against that base.  Paths that "go up" past the base are rejected
	with ErrBreakout.

	All errors returned are categorized (see errors.go in this package).
*/
type FS interface {
	// BasePath returns the absolute path this FS was constructed with.
	BasePath() AbsolutePath

	OpenFile(path RelPath, flag int, perms Perms) (File, error)
	Mkdir(path RelPath, perms Perms) error
	Mklink(path RelPath, target string) error
	Mkfifo(path RelPath, perms Perms) error

	Lchown(path RelPath, uid uint32, gid uint32) error
	Chmod(path RelPath, perms Perms) error
	SetTimesNano(path RelPath, mtime time.Time, atime time.Time) error
	SetTimesLNano(path RelPath, mtime time.Time, atime time.Time) error

	Stat(path RelPath) (*Metadata, error)
	LStat(path RelPath) (*Metadata, error)
	Exists(path RelPath) (bool, error)
	ReadDirNames(path RelPath) ([]string, error)
	Readlink(path RelPath) (target string, isSymlink bool, err error)

	Remove(path RelPath) error
	RemoveAll(path RelPath) error
}

type File interface {
	io.Reader
	io.Writer
	io.Closer
}
