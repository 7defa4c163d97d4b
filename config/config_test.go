package config

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/spec"
)

const sampleManifest = `
rootdir: /srv/jail
keep:
  - /etc/hostname
cleanup:
  - /var/scratch/*
image:
  name: examplecorp/app
command: ["./run-tests.sh"]
timeouts:
  wait: 30s
  exec: 2m
spec:
  /etc/app.conf: "logging=true\n"
  /etc/creds.conf:
    $content: "secret\n"
    uid: 12
    gid: 34
  /etc/fixture.conf:
    $ref: fixtures/a.conf
  /opt/app:
    nested.txt: "deep\n"
`

func TestManifestParsing(t *testing.T) {
	Convey("Manifest parsing:", t, func() {
		m, err := Parse([]byte(sampleManifest))
		So(err, ShouldBeNil)

		Convey("stated fields come through", func() {
			So(m.RootDir, ShouldEqual, "/srv/jail")
			So(m.Keep, ShouldResemble, []string{"/etc/hostname"})
			So(m.Command, ShouldResemble, []string{"./run-tests.sh"})
			So(m.Image.Name, ShouldEqual, "examplecorp/app")
		})
		Convey("unstated fields fall back to defaults", func() {
			So(m.Image.Tag, ShouldEqual, "latest")
			So(m.Docker.Dockerfile, ShouldEqual, "Dockerfile")
			So(m.Docker.Context, ShouldEqual, ".")
		})
		Convey("an empty manifest is all defaults", func() {
			m, err := Parse([]byte(""))
			So(err, ShouldBeNil)
			So(m.RootDir, ShouldEqual, "/")
			d, err := m.SpecDir()
			So(err, ShouldBeNil)
			So(d, ShouldResemble, spec.Dir{})
		})
		Convey("garbage is refused with a usage error", func() {
			_, err := Parse([]byte("\t not yaml:::"))
			So(err, errcat.ErrorShouldHaveCategory, veneer.ErrUsage)
		})
	})
}

func TestEnvOverrides(t *testing.T) {
	Convey("VENEER_* environment overrides:", t, func() {
		m, err := Parse([]byte(sampleManifest))
		So(err, ShouldBeNil)
		env := map[string]string{
			"VENEER_ROOTDIR":   "/elsewhere",
			"VENEER_IMAGE_TAG": "v2",
			"UNRELATED":        "ignored",
		}
		m.ApplyEnv(func(k string) (string, bool) { v, ok := env[k]; return v, ok })

		So(m.RootDir, ShouldEqual, "/elsewhere")
		So(m.Image.Tag, ShouldEqual, "v2")
		So(m.Image.Name, ShouldEqual, "examplecorp/app") // untouched.
	})
}

func TestImageRef(t *testing.T) {
	Convey("Image reference assembly:", t, func() {
		Convey("a stated arch is used verbatim", func() {
			m := Manifest{Image: Image{Name: "examplecorp/app", Tag: "latest", Arch: "arm64v8"}}
			So(m.ImageRef(), ShouldEqual, "examplecorp/app:latest-arm64v8")
		})
		Convey("GOARCH values map onto the image-suffix vocabulary", func() {
			So(InferArch("amd64"), ShouldEqual, "amd64")
			So(InferArch("arm64"), ShouldEqual, "arm64v8")
			So(InferArch("arm"), ShouldEqual, "arm32v7")
			So(InferArch("386"), ShouldEqual, "i386")
			So(InferArch("riscv64"), ShouldEqual, "riscv64")
		})
	})
}

func TestSpecConversion(t *testing.T) {
	Convey("YAML spec tree conversion:", t, func() {
		m, err := Parse([]byte(sampleManifest))
		So(err, ShouldBeNil)
		d, err := m.SpecDir()
		So(err, ShouldBeNil)

		Convey("plain strings become literal content", func() {
			So(d["/etc/app.conf"], ShouldResemble, spec.Content("logging=true\n"))
		})
		Convey("$content mappings become file entries with metadata", func() {
			f, ok := d["/etc/creds.conf"].(spec.File)
			So(ok, ShouldBeTrue)
			So(string(f.Body), ShouldEqual, "secret\n")
			So(f.Uid, ShouldEqual, uint32(12))
			So(f.Gid, ShouldEqual, uint32(34))
			So(f.Mtime.IsZero(), ShouldBeFalse) // defaulted at construction.
		})
		Convey("$ref mappings become reference entries", func() {
			r, ok := d["/etc/fixture.conf"].(spec.Ref)
			So(ok, ShouldBeTrue)
			So(r.Source, ShouldEqual, "fixtures/a.conf")
		})
		Convey("other mappings nest", func() {
			sub, ok := d["/opt/app"].(spec.Dir)
			So(ok, ShouldBeTrue)
			So(sub["nested.txt"], ShouldResemble, spec.Content("deep\n"))
		})
		Convey("the converted tree flattens cleanly", func() {
			flat, err := spec.Flatten(d)
			So(err, ShouldBeNil)
			So(flat.Paths(), ShouldContain, "/opt/app/nested.txt")
		})
	})
}

func TestSpecConversionErrors(t *testing.T) {
	Convey("Spec conversion errors:", t, func() {
		Convey("$content and $ref together", func() {
			m, err := Parse([]byte("spec:\n  /x:\n    $content: a\n    $ref: b\n"))
			So(err, ShouldBeNil)
			_, err = m.SpecDir()
			So(err, errcat.ErrorShouldHaveCategory, veneer.ErrUsage)
		})
		Convey("a sequence where a file or dir belongs", func() {
			m, err := Parse([]byte("spec:\n  /x: [1, 2]\n"))
			So(err, ShouldBeNil)
			_, err = m.SpecDir()
			So(err, errcat.ErrorShouldHaveCategory, veneer.ErrUsage)
		})
	})
}

func TestOverlayConfig(t *testing.T) {
	Convey("Manifest to overlay config:", t, func() {
		m, err := Parse([]byte(sampleManifest))
		So(err, ShouldBeNil)
		cfg, err := m.OverlayConfig()
		So(err, ShouldBeNil)
		So(cfg.Opts.RootDir, ShouldEqual, "/srv/jail")
		So(cfg.Opts.Keep, ShouldResemble, []string{"/etc/hostname"})
		So(cfg.Opts.Cleanup, ShouldResemble, []string{"/var/scratch/*"})
		So(cfg.WaitTimeout, ShouldEqual, 30*time.Second)
		So(cfg.ExecTimeout, ShouldEqual, 2*time.Minute)
		So(cfg.Spec, ShouldContainKey, "/etc/app.conf")

		Convey("bad durations are a usage error", func() {
			m.Timeouts.Exec = "not-a-duration"
			_, err := m.OverlayConfig()
			So(err, errcat.ErrorShouldHaveCategory, veneer.ErrUsage)
		})
	})
}
