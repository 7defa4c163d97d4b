package spec

import (
	"path"
	"sort"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/fs"
)

/*
	Normalize resolves every key of the spec against a conceptual root and
	regroups the result so that every key of the returned Dir is a single
	path segment (no separators), and every sub-Dir is itself normalized.

	Keys are processed in lexicographic order, and collisions on the same
	resolved path are settled by processing order -- last wins:

	  - if both sides are directories (at the point of resolution), they
	    merge, right-hand entries winning key-by-key;
	  - a later file entry fully replaces any earlier directory or file at
	    that exact resolved path (directory contents are *not* retained);
	  - descending through a segment holding a non-directory discards the
	    earlier value entirely.

	This is the documented policy, not type-checking leniency: a spec is a
	sequence of declarations and the most recent declaration of a path's
	shape is authoritative.

	A key resolving to the root itself must hold a directory, which merges
	into the top level; a file entry at the root raises ErrDirInvalid.

	The input is never mutated.
*/
func Normalize(d Dir) (Dir, error) {
	out := Dir{}
	if err := normalizeInto(out, d); err != nil {
		return nil, err
	}
	// Recurse into every resulting subdirectory.
	for k, v := range out {
		sub, ok := v.(Dir)
		if !ok {
			continue
		}
		n, err := Normalize(sub)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func normalizeInto(out Dir, d Dir) error {
	for _, key := range sortedKeys(d) {
		val := d[key]
		segs := resolveKey(key)
		if len(segs) == 0 {
			// The key *is* the root.  Only a directory can merge here.
			sub, ok := val.(Dir)
			if !ok {
				return Errorf(veneer.ErrDirInvalid, "invalid directory spec: %q resolves to the root but its value is not a directory", key)
			}
			if err := normalizeInto(out, sub); err != nil {
				return err
			}
			continue
		}
		insert(out, segs, val)
	}
	return nil
}

// resolveKey resolves a path-like key against the conceptual root.
// ".." segments clamp at the root rather than erroring, same as
// `path.Clean` on an absolute path.  An empty result means the key *is*
// the root.
func resolveKey(key string) []string {
	abs := path.Clean("/" + key)
	if abs == "/" {
		return nil
	}
	return strings.Split(abs[1:], "/")
}

func insert(out Dir, segs []string, val Node) {
	head := segs[0]
	if len(segs) > 1 {
		sub, ok := out[head].(Dir)
		if !ok {
			// Any previous non-directory value at this segment is discarded.
			sub = Dir{}
			out[head] = sub
		}
		insert(sub, segs[1:], val)
		return
	}
	if vd, ok := val.(Dir); ok {
		if ed, ok := out[head].(Dir); ok {
			// Both sides are directories with no further segments to
			// descend into: shallow merge, right-hand entries winning.
			// (Deeper collisions resolve in the recursion pass.)
			for k, v := range vd {
				if sub, ok := v.(Dir); ok {
					ed[k] = copyDir(sub)
					continue
				}
				ed[k] = v
			}
			return
		}
		out[head] = copyDir(vd)
		return
	}
	// A file entry fully replaces whatever was at this exact path.
	out[head] = val
}

// copyDir copies recursively.  Every Dir reachable from the output must
// be owned by the output: a later key may insert through it, and a
// shared map would leak that write back into the caller's spec.
func copyDir(d Dir) Dir {
	out := make(Dir, len(d))
	for k, v := range d {
		if sub, ok := v.(Dir); ok {
			out[k] = copyDir(sub)
			continue
		}
		out[k] = v
	}
	return out
}

/*
	A Flat is the flattened form of a directory spec: unique absolute
	paths, each holding exactly one file entry.
*/
type Flat map[string]Entry

/*
	Flatten normalizes the spec, then walks it depth-first producing a
	flat mapping from absolute path to file entry.

	Note that a directory with no entries under it contributes nothing to
	the flattened form: the write-plan creates directories as implied
	parents of file entries, never for their own sake.
*/
func Flatten(d Dir) (Flat, error) {
	n, err := Normalize(d)
	if err != nil {
		return nil, err
	}
	out := Flat{}
	flattenInto(out, fs.AbsolutePath{}, n)
	return out, nil
}

func flattenInto(out Flat, base fs.AbsolutePath, d Dir) {
	for _, k := range sortedKeys(d) {
		p := base.Join(fs.MustRelPath(k))
		switch v := d[k].(type) {
		case Dir:
			flattenInto(out, p, v)
		case Entry:
			out[p.String()] = v
		}
	}
}

// Paths returns the flat spec's keys, sorted lexicographically.
func (f Flat) Paths() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AsDir reinterprets a flat spec as a directory spec (whose keys happen
// to be absolute paths).  `Flatten(f.AsDir())` reproduces `f` exactly.
func (f Flat) AsDir() Dir {
	out := make(Dir, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// MergeFlat unions two flattened specs; entries of `over` win at any
// path both define.  Used to lay an instance's spec over the global
// default spec.
func MergeFlat(under Flat, over Flat) Flat {
	out := make(Flat, len(under)+len(over))
	for k, v := range under {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func sortedKeys(d Dir) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
