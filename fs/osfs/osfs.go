package osfs

import (
	"os"
	"syscall"
	"time"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer/fs"
)

/*
	An os-backed implementation of `fs.FS`.

	Unlike sandbox provisioners, veneer deliberately *does* traverse
	symlinks under its base path: it operates on a live host filesystem
	where e.g. `/etc` may legitimately be a link, and the operator asked
	for the real thing.  The only outright rejection is paths that try to
	climb above the base path.
*/
func New(basePath fs.AbsolutePath) fs.FS {
	return &osFS{basePath}
}

type osFS struct {
	basePath fs.AbsolutePath
}

func (afs *osFS) BasePath() fs.AbsolutePath {
	return afs.basePath
}

func (afs *osFS) realpath(path fs.RelPath) (string, error) {
	if path.GoesUp() {
		return "", Errorf(fs.ErrBreakout, "fs: invalid path %q: must not depart basepath", path)
	}
	return afs.basePath.Join(path).String(), nil
}

func (afs *osFS) OpenFile(path fs.RelPath, flag int, perms fs.Perms) (fs.File, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(rpath, flag, permsToOs(perms))
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	return f, nil
}

func (afs *osFS) Mkdir(path fs.RelPath, perms fs.Perms) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Mkdir(rpath, permsToOs(perms)))
}

func (afs *osFS) Mklink(path fs.RelPath, target string) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Symlink(target, rpath))
}

func (afs *osFS) Mkfifo(path fs.RelPath, perms fs.Perms) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(syscall.Mkfifo(rpath, uint32(perms&07777)))
}

func (afs *osFS) Lchown(path fs.RelPath, uid uint32, gid uint32) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Lchown(rpath, int(uid), int(gid)))
}

func (afs *osFS) Chmod(path fs.RelPath, perms fs.Perms) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Chmod(rpath, permsToOs(perms)))
}

func (afs *osFS) SetTimesNano(path fs.RelPath, mtime time.Time, atime time.Time) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(utimesNano(rpath, atime, mtime))
}

func (afs *osFS) SetTimesLNano(path fs.RelPath, mtime time.Time, atime time.Time) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(lutimesNano(rpath, atime, mtime))
}

func (afs *osFS) Stat(path fs.RelPath) (*fs.Metadata, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(rpath)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	return afs.convertFileinfo(path, fi)
}

func (afs *osFS) LStat(path fs.RelPath) (*fs.Metadata, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Lstat(rpath)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	return afs.convertFileinfo(path, fi)
}

func (afs *osFS) Exists(path fs.RelPath) (bool, error) {
	_, err := afs.LStat(path)
	switch Category(err) {
	case nil:
		return true, nil
	case fs.ErrNotExists:
		return false, nil
	default:
		return false, err
	}
}

func (afs *osFS) convertFileinfo(path fs.RelPath, fi os.FileInfo) (*fs.Metadata, error) {
	fmeta := &fs.Metadata{
		Name:  path,
		Mtime: fi.ModTime(),
	}

	// Munge perms and mode to our types.
	fm := fi.Mode()
	switch fm & (os.ModeType | os.ModeCharDevice) {
	case 0:
		fmeta.Type = fs.Type_File
	case os.ModeDir:
		fmeta.Type = fs.Type_Dir
	case os.ModeSymlink:
		fmeta.Type = fs.Type_Symlink
		// It's an extra syscall, but we almost always want the target.
		if target, _, err := afs.Readlink(path); err == nil {
			fmeta.Linkname = target
		} else {
			return nil, err
		}
	case os.ModeNamedPipe:
		fmeta.Type = fs.Type_NamedPipe
	default:
		// Sockets and device nodes have no place in a fixture overlay.
		fmeta.Type = fs.Type_Invalid
	}
	fmeta.Perms = fs.Perms(fm.Perm())
	if fm&os.ModeSetuid != 0 {
		fmeta.Perms |= fs.Perms_Setuid
	}
	if fm&os.ModeSetgid != 0 {
		fmeta.Perms |= fs.Perms_Setgid
	}
	if fm&os.ModeSticky != 0 {
		fmeta.Perms |= fs.Perms_Sticky
	}

	// Size is only meaningful for files; for dirs it's system dependent.
	if fmeta.Type == fs.Type_File {
		fmeta.Size = fi.Size()
	}

	// UID, GID, and atime are platform dependent.
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		fmeta.Uid = sys.Uid
		fmeta.Gid = sys.Gid
		fmeta.Atime = statAtime(sys)
	}

	return fmeta, nil
}

func (afs *osFS) ReadDirNames(path fs.RelPath) ([]string, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(rpath)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return names, fs.NormalizeIOError(err)
	}
	return names, nil
}

func (afs *osFS) Readlink(path fs.RelPath) (string, bool, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return "", false, err
	}
	target, err := os.Readlink(rpath)
	switch {
	case err == nil:
		return target, true, nil
	case isEinval(err):
		// EINVAL means "not a symlink"; reported as such rather than as
		// an error so callers can probe blindly and save an lstat.
		return "", false, nil
	default:
		return "", false, fs.NormalizeIOError(err)
	}
}

func (afs *osFS) Remove(path fs.RelPath) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Remove(rpath))
}

func (afs *osFS) RemoveAll(path fs.RelPath) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.RemoveAll(rpath))
}

func isEinval(err error) bool {
	pe, ok := err.(*os.PathError)
	return ok && pe.Err == syscall.EINVAL
}

func permsToOs(perms fs.Perms) (mode os.FileMode) {
	mode = os.FileMode(perms & 0777)
	if perms&fs.Perms_Setuid != 0 {
		mode |= os.ModeSetuid
	}
	if perms&fs.Perms_Setgid != 0 {
		mode |= os.ModeSetgid
	}
	if perms&fs.Perms_Sticky != 0 {
		mode |= os.ModeSticky
	}
	return mode
}
