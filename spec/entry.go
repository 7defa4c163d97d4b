/*
	Package spec holds the directory model: a recursive, path-keyed tree
	of file entries, and the normalize/flatten algorithms that turn it
	into an unambiguous write-plan.

	Everything in this package is pure -- no I/O.  (Ref entries *name* a
	source file on disk, but reading it is deferred to the writer.)
*/
package spec

import (
	"os"
	"time"

	"go.polydawn.net/veneer/fs"
)

/*
	A Node is either a Dir or an Entry.  Dirs nest; Entries are leaves.
*/
type Node interface {
	specNode() // marker method.
}

/*
	A directory specification: maps path-like keys (absolute or relative,
	possibly containing separators) to entries or further directories.

	Keys are *resolved*, not taken literally: `Dir{"/etc/foo": ...}` and
	`Dir{"etc": Dir{"foo": ...}}` describe the same tree.  See Normalize.
*/
type Dir map[string]Node

func (Dir) specNode() {}

/*
	An Entry is one of the three leaf variants:
	Content (raw bytes), File (content plus metadata), or
	Ref (content read from an existing file at write time).
*/
type Entry interface {
	Node
	fileEntry() // marker method.
}

// Content is shorthand for a file whose body is the literal text and
// whose metadata is all defaulted at write time.
type Content string

func (Content) specNode()  {}
func (Content) fileEntry() {}

// File is a fully-populated content specification.
// Construct with NewFile to get the documented defaulting.
type File struct {
	Body  []byte
	Atime time.Time
	Mtime time.Time
	Uid   uint32
	Gid   uint32
}

func (File) specNode()  {}
func (File) fileEntry() {}

// Ref is a fully-populated reference specification: the body comes from
// reading Source at write time.  Construct with NewRef.
type Ref struct {
	Source string // absolute, or relative to the overlay's basedir
	Atime  time.Time
	Mtime  time.Time
	Uid    uint32
	Gid    uint32
}

func (Ref) specNode()  {}
func (Ref) fileEntry() {}

// PartialFile is the construction-time shape of File: nil metadata
// fields mean "default me".
type PartialFile struct {
	Body  []byte
	Atime *time.Time
	Mtime *time.Time
	Uid   *int
	Gid   *int
}

// PartialRef is the construction-time shape of Ref.
type PartialRef struct {
	Source string
	Atime  *time.Time
	Mtime  *time.Time
	Uid    *int
	Gid    *int
}

/*
	NewFile fills every unset metadata field: times default to "now" (at
	construction, not at write), owner and group default to the current
	process identity.  Entries are immutable once constructed.
*/
func NewFile(p PartialFile) File {
	now := time.Now()
	return File{
		Body:  p.Body,
		Atime: timeOrDefault(p.Atime, now),
		Mtime: timeOrDefault(p.Mtime, now),
		Uid:   idOrDefault(p.Uid, os.Getuid()),
		Gid:   idOrDefault(p.Gid, os.Getgid()),
	}
}

// NewRef is NewFile for reference entries.
func NewRef(p PartialRef) Ref {
	now := time.Now()
	return Ref{
		Source: p.Source,
		Atime:  timeOrDefault(p.Atime, now),
		Mtime:  timeOrDefault(p.Mtime, now),
		Uid:    idOrDefault(p.Uid, os.Getuid()),
		Gid:    idOrDefault(p.Gid, os.Getgid()),
	}
}

/*
	ResolveSource resolves the ref's source path against a base directory.
	Absolute sources are returned as-is; relative sources are joined to
	basedir.  Note this base is the overlay's `basedir` option (defaulting
	to the process working directory), *not* its `rootdir`.
*/
func (r Ref) ResolveSource(basedir fs.AbsolutePath) fs.AbsolutePath {
	if len(r.Source) > 0 && r.Source[0] == '/' {
		return fs.MustAbsolutePath(r.Source)
	}
	return basedir.Join(fs.MustRelPath(r.Source))
}

func timeOrDefault(t *time.Time, d time.Time) time.Time {
	if t == nil {
		return d
	}
	return *t
}

func idOrDefault(id *int, d int) uint32 {
	if id != nil {
		return uint32(*id)
	}
	if d < 0 {
		// Hosts without a unix identity concept report -1; file as root.
		return 0
	}
	return uint32(d)
}
