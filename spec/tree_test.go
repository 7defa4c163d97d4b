package spec

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.polydawn.net/veneer"
)

func TestNormalize(t *testing.T) {
	Convey("Normalize:", t, func() {
		Convey("empty spec normalizes to empty", func() {
			n, err := Normalize(Dir{})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{})
		})
		Convey("a dot key merges into the top level", func() {
			n, err := Normalize(Dir{".": Dir{}})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{})

			n, err = Normalize(Dir{".": Dir{"a": Content("x")}})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{"a": Content("x")})
		})
		Convey("a file entry at the root is invalid", func() {
			_, err := Normalize(Dir{".": Content("x")})
			So(err, errcat.ErrorShouldHaveCategory, veneer.ErrDirInvalid)

			_, err = Normalize(Dir{"/": Content("x")})
			So(err, errcat.ErrorShouldHaveCategory, veneer.ErrDirInvalid)
		})
		Convey("doubledot keys clamp at the root", func() {
			n, err := Normalize(Dir{"../a": Content("x")})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{"a": Content("x")})
		})
		Convey("multi-segment keys nest", func() {
			n, err := Normalize(Dir{"/etc/conf.d/app": Content("x")})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{"etc": Dir{"conf.d": Dir{"app": Content("x")}}})
		})
		Convey("a later file entry replaces an earlier directory at the same path", func() {
			n, err := Normalize(Dir{
				"/etc":   Dir{"a": Content("1")},
				"/etc/a": Content("2"),
			})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{"etc": Dir{"a": Content("2")}})
		})
		Convey("two directories at the same resolved path merge", func() {
			n, err := Normalize(Dir{
				"/dir/": Dir{"f": Content("v1")},
				"/dir":  Dir{"g": Content("v2")},
			})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{"dir": Dir{"f": Content("v1"), "g": Content("v2")}})
		})
		Convey("descending through a file discards it", func() {
			n, err := Normalize(Dir{
				"/dir":     Content("file"),
				"/dir/sub": Content("x"),
			})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{"dir": Dir{"sub": Content("x")}})
		})
		Convey("normalization recurses into nested specs", func() {
			n, err := Normalize(Dir{
				"a": Dir{"b/c": Content("x"), "./b/d": Content("y")},
			})
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{"a": Dir{"b": Dir{"c": Content("x"), "d": Content("y")}}})
		})
		Convey("a root-invalid entry nested deeper still errors", func() {
			_, err := Normalize(Dir{"a": Dir{"..": Content("x")}})
			So(err, errcat.ErrorShouldHaveCategory, veneer.ErrDirInvalid)
		})
		Convey("the input spec is not mutated", func() {
			in := Dir{"/etc": Dir{"a": Content("1")}, "/etc/b": Content("2")}
			_, err := Normalize(in)
			So(err, ShouldBeNil)
			So(in, ShouldResemble, Dir{"/etc": Dir{"a": Content("1")}, "/etc/b": Content("2")})
		})
		Convey("nor are dirs nested deeper inside it", func() {
			// A later key inserting through a nested directory must land
			// in the output's copy, not in the map the caller handed in.
			inner := Dir{"c": Content("1")}
			in := Dir{"a": Dir{"b": inner}, "a/b/d": Content("2")}
			n, err := Normalize(in)
			So(err, ShouldBeNil)
			So(n, ShouldResemble, Dir{"a": Dir{"b": Dir{"c": Content("1"), "d": Content("2")}}})
			So(inner, ShouldResemble, Dir{"c": Content("1")})
		})
		Convey("nor dirs merged in from the right-hand side", func() {
			inner := Dir{"c": Content("1")}
			in := Dir{"a": Dir{}, "a/": Dir{"b": inner}, "a/b/d": Content("2")}
			_, err := Normalize(in)
			So(err, ShouldBeNil)
			So(inner, ShouldResemble, Dir{"c": Content("1")})
		})
	})
}

func TestFlatten(t *testing.T) {
	Convey("Flatten:", t, func() {
		Convey("keys come out as unique absolute paths", func() {
			f, err := Flatten(Dir{
				"/etc": Dir{"app.conf": Content("a"), "sub": Dir{"x": Content("b")}},
				"var/log/app": Content("c"),
			})
			So(err, ShouldBeNil)
			So(f.Paths(), ShouldResemble, []string{"/etc/app.conf", "/etc/sub/x", "/var/log/app"})
			So(f["/etc/app.conf"], ShouldResemble, Content("a"))
		})
		Convey("flattening is idempotent", func() {
			f, err := Flatten(Dir{
				"/etc":   Dir{"a": Content("1"), "d": Dir{"e": Content("3")}},
				"/etc/a": Content("2"),
			})
			So(err, ShouldBeNil)
			f2, err := Flatten(f.AsDir())
			So(err, ShouldBeNil)
			So(f2, ShouldResemble, f)
		})
		Convey("empty directories contribute nothing", func() {
			f, err := Flatten(Dir{"/var/empty": Dir{}})
			So(err, ShouldBeNil)
			So(f, ShouldResemble, Flat{})
		})
		Convey("MergeFlat lets the overlaying spec win", func() {
			def, err := Flatten(Dir{"/etc/a": Content("default"), "/etc/b": Content("default")})
			So(err, ShouldBeNil)
			inst, err := Flatten(Dir{"/etc/b": Content("mine")})
			So(err, ShouldBeNil)
			merged := MergeFlat(def, inst)
			So(merged["/etc/a"], ShouldResemble, Content("default"))
			So(merged["/etc/b"], ShouldResemble, Content("mine"))
		})
	})
}
