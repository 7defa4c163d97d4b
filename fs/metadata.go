package fs

import (
	"time"
)

type Metadata struct {
	Name     RelPath   // filename, relative to the FS base path
	Type     Type      // file, dir, symlink...
	Perms    Perms     // permission and mode bits
	Uid      uint32    // user id of owner
	Gid      uint32    // group id of owner
	Size     int64     // length in bytes (files only)
	Linkname string    // if symlink: target name of link
	Mtime    time.Time // modification time
	Atime    time.Time // access time
}

type Type int8

const (
	Type_Invalid Type = iota
	Type_File
	Type_Dir
	Type_Symlink
	Type_NamedPipe
)

func (t Type) String() string {
	switch t {
	case Type_File:
		return "file"
	case Type_Dir:
		return "dir"
	case Type_Symlink:
		return "symlink"
	case Type_NamedPipe:
		return "fifo"
	default:
		return "invalid"
	}
}

type Perms uint16

const (
	Perms_Setuid Perms = 04000
	Perms_Setgid Perms = 02000
	Perms_Sticky Perms = 01000
)

// DefaultAtime is used when replaying filesystem attributes and no atime
// was recorded.  Mid-2010, UTC: distinctive enough to recognize in a
// listing, old enough to never be mistaken for fresh state.
var DefaultAtime = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)
