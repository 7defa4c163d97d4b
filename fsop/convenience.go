package fsop

import (
	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer/fs"
)

/*
	Makes dirs recursively so the requested path exists, applying the given
	perms to each one that needed to be produced.

	Existing dirs are not mutated.  Symlinks are traversed without comment.
*/
func MkdirAll(afs fs.FS, path fs.RelPath, perms fs.Perms) error {
	stat, err := afs.Stat(path)
	switch Category(err) {
	case nil:
		if stat.Type == fs.Type_Dir {
			return nil
		}
		return Errorf(fs.ErrNotDir, "%s already exists and is a %s not %s", afs.BasePath().Join(path), stat.Type, fs.Type_Dir)
	case fs.ErrNotExists:
		if path == (fs.RelPath{}) {
			return Errorf(fs.ErrNotExists, "base path %s does not exist!", afs.BasePath())
		}
		if err := MkdirAll(afs, path.Dir(), perms); err != nil {
			return err
		}
		if err := afs.Mkdir(path, perms); err != nil {
			switch Category(err) {
			case fs.ErrAlreadyExists:
				// This seemingly-contradictory state means the path does exist...
				// it's just that stat said it didn't, because it's a dangling symlink.
				return Errorf(fs.ErrNotDir, "%s already exists and is a %s not %s", afs.BasePath().Join(path), fs.Type_Symlink, fs.Type_Dir)
			default:
				return err
			}
		}
		return nil
	case fs.ErrNotDir:
		// Reformat the error a tad to not say "lstat", which is distracting.
		return Errorf(fs.ErrNotDir, "%s has parents which are not a directory", afs.BasePath().Join(path))
	default:
		return err
	}
}

/*
	Records the mtime property currently set on a path and returns a function
	which will force it to that value again.

	The typical use is `defer RepairMtime(afs, path)()` right before mutating
	the contents of a dir, so the dir appears untouched afterward.
*/
func RepairMtime(afs fs.FS, path fs.RelPath) func() {
	fmeta, err := afs.LStat(path)
	if err != nil {
		return func() {}
	}
	return func() {
		afs.SetTimesNano(path, fmeta.Mtime, fs.DefaultAtime)
	}
}
