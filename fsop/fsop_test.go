package fsop

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer/fs"
	"go.polydawn.net/veneer/fs/osfs"
	. "go.polydawn.net/veneer/testutil"
)

func TestMkdirAll(t *testing.T) {
	Convey("MkdirAll:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)

			Convey("creates nested dirs", func() {
				So(MkdirAll(afs, fs.MustRelPath("a/b/c"), 0755), ShouldBeNil)
				stat := ShouldStat(afs, fs.MustRelPath("a/b/c"))
				So(stat.Type, ShouldEqual, fs.Type_Dir)
			})
			Convey("is idempotent", func() {
				So(MkdirAll(afs, fs.MustRelPath("a/b"), 0755), ShouldBeNil)
				So(MkdirAll(afs, fs.MustRelPath("a/b"), 0755), ShouldBeNil)
			})
			Convey("refuses a path through a file", func() {
				So(os.WriteFile(tmpDir.Join(fs.MustRelPath("f")).String(), []byte("x"), 0644), ShouldBeNil)
				err := MkdirAll(afs, fs.MustRelPath("f/sub"), 0755)
				So(err, errcat.ErrorShouldHaveCategory, fs.ErrNotDir)
			})
		})
	})
}

func TestPlaceFile(t *testing.T) {
	mtime := time.Unix(500004440, 0).UTC()
	Convey("PlaceFile:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)

			Convey("places a file with content, perms, and mtime", func() {
				fmeta := fs.Metadata{Name: fs.MustRelPath("f"), Type: fs.Type_File, Perms: 0640, Mtime: mtime}
				So(PlaceFile(afs, fmeta, bytes.NewBufferString("body"), false), ShouldBeNil)

				stat := ShouldStat(afs, fs.MustRelPath("f"))
				So(stat.Type, ShouldEqual, fs.Type_File)
				So(stat.Perms, ShouldEqual, fs.Perms(0640))
				So(stat.Mtime.Equal(mtime), ShouldBeTrue)
				body, err := os.ReadFile(tmpDir.Join(fs.MustRelPath("f")).String())
				So(err, ShouldBeNil)
				So(string(body), ShouldEqual, "body")
			})
			Convey("truncates an existing file in place", func() {
				fmeta := fs.Metadata{Name: fs.MustRelPath("f"), Type: fs.Type_File, Perms: 0644, Mtime: mtime}
				So(PlaceFile(afs, fmeta, bytes.NewBufferString("a much longer original body"), false), ShouldBeNil)
				So(PlaceFile(afs, fmeta, bytes.NewBufferString("short"), false), ShouldBeNil)
				body, err := os.ReadFile(tmpDir.Join(fs.MustRelPath("f")).String())
				So(err, ShouldBeNil)
				So(string(body), ShouldEqual, "short")
			})
			Convey("clears a squatter of a different shape", func() {
				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("x"), Type: fs.Type_Dir, Perms: 0755, Mtime: mtime}, nil, false), ShouldBeNil)
				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("x"), Type: fs.Type_File, Perms: 0644, Mtime: mtime}, bytes.NewBufferString("now a file"), false), ShouldBeNil)
				So(ShouldStat(afs, fs.MustRelPath("x")).Type, ShouldEqual, fs.Type_File)
			})
			Convey("keeps an existing dir, reapplying attribs", func() {
				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("d"), Type: fs.Type_Dir, Perms: 0700, Mtime: mtime}, nil, false), ShouldBeNil)
				So(os.WriteFile(tmpDir.Join(fs.MustRelPath("d/child")).String(), []byte("x"), 0644), ShouldBeNil)
				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("d"), Type: fs.Type_Dir, Perms: 0755, Mtime: mtime}, nil, false), ShouldBeNil)

				So(ShouldStat(afs, fs.MustRelPath("d")).Perms, ShouldEqual, fs.Perms(0755))
				// Contents survive; only attribs were reapplied.
				_, err := os.Lstat(tmpDir.Join(fs.MustRelPath("d/child")).String())
				So(err, ShouldBeNil)
			})
			Convey("places a symlink without following it", func() {
				fmeta := fs.Metadata{Name: fs.MustRelPath("l"), Type: fs.Type_Symlink, Linkname: "./nowhere", Mtime: mtime}
				So(PlaceFile(afs, fmeta, nil, false), ShouldBeNil)
				stat := ShouldStat(afs, fs.MustRelPath("l"))
				So(stat.Type, ShouldEqual, fs.Type_Symlink)
				So(stat.Linkname, ShouldEqual, "./nowhere")
			})
		})
	})
}

func TestScanFile(t *testing.T) {
	Convey("ScanFile:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)
			So(os.WriteFile(tmpDir.Join(fs.MustRelPath("f")).String(), []byte("scan me"), 0644), ShouldBeNil)

			fmeta, reader, err := ScanFile(afs, fs.MustRelPath("f"))
			So(err, ShouldBeNil)
			So(fmeta.Type, ShouldEqual, fs.Type_File)
			body, err := io.ReadAll(reader)
			So(err, ShouldBeNil)
			reader.Close()
			So(string(body), ShouldEqual, "scan me")

			Convey("dirs scan with a nil reader", func() {
				So(os.Mkdir(tmpDir.Join(fs.MustRelPath("d")).String(), 0755), ShouldBeNil)
				fmeta, reader, err := ScanFile(afs, fs.MustRelPath("d"))
				So(err, ShouldBeNil)
				So(fmeta.Type, ShouldEqual, fs.Type_Dir)
				So(reader, ShouldBeNil)
			})
			Convey("symlinks scan with a nil reader, not the target's content", func() {
				So(os.Symlink("./f", tmpDir.Join(fs.MustRelPath("l")).String()), ShouldBeNil)
				fmeta, reader, err := ScanFile(afs, fs.MustRelPath("l"))
				So(err, ShouldBeNil)
				So(fmeta.Type, ShouldEqual, fs.Type_Symlink)
				So(fmeta.Linkname, ShouldEqual, "./f")
				So(reader, ShouldBeNil)
			})
			Convey("the size reported matches the content at open time", func() {
				fmeta, reader, err := ScanFile(afs, fs.MustRelPath("f"))
				So(err, ShouldBeNil)
				body, err := io.ReadAll(reader)
				So(err, ShouldBeNil)
				reader.Close()
				So(fmeta.Size, ShouldEqual, int64(len(body)))
			})
		})
	})
}
