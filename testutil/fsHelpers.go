package testutil

import (
	"os"
	"path/filepath"

	"github.com/smartystreets/goconvey/convey"

	"go.polydawn.net/veneer/fs"
)

/*
	Makes a temp dir, resolved of all symlinks (looking at you, macos
	`/tmp`), runs the given function with it, and removes it afterward.
*/
func WithTmpdir(fn func(tmpDir fs.AbsolutePath)) {
	tmpBase, err := os.MkdirTemp("", "veneer-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpBase)
	resolved, err := filepath.EvalSymlinks(tmpBase)
	if err != nil {
		panic(err)
	}
	fn(fs.MustAbsolutePath(resolved))
}

func ShouldStat(afs fs.FS, path fs.RelPath) fs.Metadata {
	stat, err := afs.LStat(path)
	convey.So(err, convey.ShouldBeNil)
	stat.Mtime = stat.Mtime.UTC()
	stat.Atime = stat.Atime.UTC()
	return *stat
}
