package docker

import (
	"archive/tar"
	"io"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"go.polydawn.net/veneer/fs"
	. "go.polydawn.net/veneer/testutil"
)

func TestTarContext(t *testing.T) {
	Convey("Build context tarring:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			So(os.WriteFile(tmpDir.Join(fs.MustRelPath("Dockerfile")).String(), []byte("FROM scratch\n"), 0644), ShouldBeNil)
			So(os.MkdirAll(tmpDir.Join(fs.MustRelPath("app")).String(), 0755), ShouldBeNil)
			So(os.WriteFile(tmpDir.Join(fs.MustRelPath("app/run.sh")).String(), []byte("#!/bin/sh\n"), 0755), ShouldBeNil)

			r, err := tarContext(tmpDir.String())
			So(err, ShouldBeNil)

			tr := tar.NewReader(r)
			entries := map[string]string{}
			for {
				hdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				So(err, ShouldBeNil)
				var body []byte
				if hdr.Typeflag == tar.TypeReg {
					body, err = io.ReadAll(tr)
					So(err, ShouldBeNil)
				}
				entries[hdr.Name] = string(body)
			}
			So(entries["Dockerfile"], ShouldEqual, "FROM scratch\n")
			So(entries, ShouldContainKey, "app/")
			So(entries["app/run.sh"], ShouldEqual, "#!/bin/sh\n")
		})
	})

	Convey("A relative context path is refused:", t, func() {
		_, err := tarContext("relative/dir")
		So(err, ShouldNotBeNil)
	})
}
