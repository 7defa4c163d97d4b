package fs

import (
	"path"
	"sort"
	"strings"
)

// RelPath and AbsolutePath *are not* interchangeable.
// If a function *can* take an AbsolutePath, normalize to that as early
// as possible; if it can't, it should speak RelPath the whole way through.

/*
	A cleaned, relative path.  The zero value is ".".

	RelPath never contains doubled or trailing separators.  It *may*
	contain leading ".." segments; use GoesUp to detect that (most
	consumers in this codebase reject such paths).
*/
type RelPath struct {
	path string // cleaned; "" means "."
}

func MustRelPath(p string) RelPath {
	p = path.Clean(p)
	if strings.HasPrefix(p, "/") {
		panic("fs: relative path required")
	}
	if p == "." {
		return RelPath{}
	}
	return RelPath{p}
}

func (p RelPath) String() string {
	switch {
	case p.path == "":
		return "."
	case p.path[0] == '.': // a ".." prefix
		return p.path
	default:
		return "./" + p.path
	}
}

// SimpleString returns the path without the "./" prefix convention.
func (p RelPath) SimpleString() string {
	if p.path == "" {
		return "."
	}
	return p.path
}

func (p RelPath) Dir() RelPath {
	i := strings.LastIndexByte(p.path, '/')
	if i < 0 {
		return RelPath{}
	}
	return RelPath{p.path[:i]}
}

func (p RelPath) Last() string {
	if p.path == "" {
		return "."
	}
	return p.path[strings.LastIndexByte(p.path, '/')+1:]
}

func (p RelPath) Join(p2 RelPath) RelPath {
	switch {
	case p2.path == "":
		return p
	case p.path == "":
		return p2
	default:
		return RelPath{p.path + "/" + p2.path}
	}
}

// GoesUp reports whether the path departs its conceptual root
// (i.e. starts with a ".." segment).
func (p RelPath) GoesUp() bool {
	return p.path == ".." || strings.HasPrefix(p.path, "../")
}

// Segments returns each path segment in order.  The root path yields nil.
func (p RelPath) Segments() []string {
	if p.path == "" {
		return nil
	}
	return strings.Split(p.path, "/")
}

/*
	A cleaned, absolute path.  The zero value is "/".
*/
type AbsolutePath struct {
	path string // cleaned; "" means "/"
}

func MustAbsolutePath(p string) AbsolutePath {
	if !strings.HasPrefix(p, "/") {
		panic("fs: absolute path required")
	}
	p = path.Clean(p)
	if p == "/" {
		return AbsolutePath{}
	}
	return AbsolutePath{p}
}

// ParseAbsolutePath is the error-returning flavor of MustAbsolutePath.
func ParseAbsolutePath(p string) (AbsolutePath, error) {
	if !strings.HasPrefix(p, "/") {
		return AbsolutePath{}, errNotAbsolute(p)
	}
	p = path.Clean(p)
	if p == "/" {
		return AbsolutePath{}, nil
	}
	return AbsolutePath{p}, nil
}

func (p AbsolutePath) String() string {
	if p.path == "" {
		return "/"
	}
	return p.path
}

func (p AbsolutePath) Dir() AbsolutePath {
	i := strings.LastIndexByte(p.path, '/')
	if i <= 0 {
		return AbsolutePath{}
	}
	return AbsolutePath{p.path[:i]}
}

func (p AbsolutePath) Last() string {
	if p.path == "" {
		return "/"
	}
	return p.path[strings.LastIndexByte(p.path, '/')+1:]
}

func (p AbsolutePath) Join(p2 RelPath) AbsolutePath {
	if p2.path == "" {
		return p
	}
	return AbsolutePath{p.path + "/" + p2.path}
}

// CoerceRelative rebases the path onto "." -- "/etc/hosts" becomes
// "./etc/hosts".
func (p AbsolutePath) CoerceRelative() RelPath {
	if p.path == "" {
		return RelPath{}
	}
	return RelPath{p.path[1:]}
}

// SortedRel returns a lexicographic sort of the given paths.
// The argument slice is not mutated.
func SortedRel(ps []RelPath) []RelPath {
	out := make([]RelPath, len(ps))
	copy(out, ps)
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}
