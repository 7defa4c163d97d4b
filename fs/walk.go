package fs

import (
	"sort"
)

type WalkFunc func(node *FilewalkNode) error

/*
	Walks a filesystem.

	Much like the standard library's `path/filepath.Walk`, except it
	supports both pre- and post-order visiting, and speaks RelPath.

	The first path visited is always `.` (the FS base itself).  Symlinks
	are not followed.  Children are visited in sorted order.

	Returning an error from either visit func aborts the walk and
	propagates that error.  SkipNode is not supported; filters belong in
	the visit funcs.
*/
func Walk(afs FS, preVisit WalkFunc, postVisit WalkFunc) error {
	return walk(afs, RelPath{}, preVisit, postVisit)
}

type FilewalkNode struct {
	Info *Metadata
	Err  error
}

func walk(afs FS, path RelPath, preVisit, postVisit WalkFunc) error {
	node := &FilewalkNode{}
	node.Info, node.Err = afs.LStat(path)
	if preVisit != nil {
		if err := preVisit(node); err != nil {
			return err
		}
	} else if node.Err != nil {
		return node.Err
	}
	if node.Err == nil && node.Info.Type == Type_Dir {
		names, err := afs.ReadDirNames(path)
		if err != nil {
			return err
		}
		sort.Strings(names)
		for _, name := range names {
			if err := walk(afs, path.Join(MustRelPath(name)), preVisit, postVisit); err != nil {
				return err
			}
		}
	}
	if postVisit != nil {
		return postVisit(node)
	}
	return nil
}
