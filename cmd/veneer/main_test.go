package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/archive"
	"go.polydawn.net/veneer/fs"
	"go.polydawn.net/veneer/testutil"
)

func TestWithoutArgs(t *testing.T) {
	Convey("veneer: usage printed to stderr", t, func() {
		args := []string{"veneer"}
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		stdin := &bytes.Buffer{}
		ctx := context.Background()
		exitCode := Main(ctx, args, stdin, stdout, stderr)
		t.Log(stdout.String())
		t.Log(stderr.String())
		So(stdout.String(), ShouldBeBlank)
		So(stderr.String(), ShouldNotBeBlank)
		So(exitCode, ShouldEqual, veneer.ExitUsage)
	})
}

// A minimal manifest plus a scratch dir layout for end-to-end CLI tests.
func withManifest(fn func(tmpDir fs.AbsolutePath, manifestPath string)) {
	testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
		root := tmpDir.Join(fs.MustRelPath("root"))
		artifacts := tmpDir.Join(fs.MustRelPath("artifacts"))
		So(os.MkdirAll(root.String(), 0755), ShouldBeNil)
		So(os.MkdirAll(artifacts.String(), 0755), ShouldBeNil)
		manifestPath := tmpDir.Join(fs.MustRelPath("veneer.yaml")).String()
		manifest := fmt.Sprintf(
			"rootdir: %s\ntmpdir: %s\nspec:\n  /etc/app.conf: \"logging=true\\n\"\n",
			root.String(), artifacts.String())
		So(os.WriteFile(manifestPath, []byte(manifest), 0644), ShouldBeNil)
		fn(tmpDir, manifestPath)
	})
}

func TestCheckCommand(t *testing.T) {
	ctx := context.Background()
	Convey("veneer check:", t, func() {
		withManifest(func(tmpDir fs.AbsolutePath, manifestPath string) {
			Convey("a clean temp dir passes", func() {
				stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
				exitCode := Main(ctx, []string{"veneer", "--config=" + manifestPath, "check"}, &bytes.Buffer{}, stdout, stderr)
				So(exitCode, ShouldEqual, veneer.ExitSuccess)
				So(stdout.String(), ShouldBeBlank)
			})
			Convey("a stale artifact is fatal and named", func() {
				artifacts := tmpDir.Join(fs.MustRelPath("artifacts")).String()
				stale := archive.ArtifactPath(artifacts, "deadbeefdeadbeef")
				So(os.WriteFile(stale, []byte("stale"), 0600), ShouldBeNil)

				stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
				exitCode := Main(ctx, []string{"veneer", "--config=" + manifestPath, "check"}, &bytes.Buffer{}, stdout, stderr)
				So(exitCode, ShouldEqual, veneer.ExitLeftovers)
				So(stdout.String(), ShouldContainSubstring, stale)
				So(stderr.String(), ShouldContainSubstring, "leftover")
			})
			Convey("json format reports the same thing machine-readably", func() {
				stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
				exitCode := Main(ctx, []string{"veneer", "--config=" + manifestPath, "--format=json", "check"}, &bytes.Buffer{}, stdout, stderr)
				So(exitCode, ShouldEqual, veneer.ExitSuccess)
				So(stdout.String(), ShouldContainSubstring, "exitCode")
			})
		})
	})
}

func TestRunCommand(t *testing.T) {
	ctx := context.Background()
	Convey("veneer run:", t, func() {
		withManifest(func(tmpDir fs.AbsolutePath, manifestPath string) {
			root := tmpDir.Join(fs.MustRelPath("root"))

			Convey("the overlay is live while the command runs, gone after", func() {
				staged := root.Join(fs.MustRelPath("etc/app.conf")).String()
				witness := tmpDir.Join(fs.MustRelPath("witness")).String()

				stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
				exitCode := Main(ctx, []string{
					"veneer", "--config=" + manifestPath, "run",
					"/bin/sh", "-c", "cp " + staged + " " + witness,
				}, &bytes.Buffer{}, stdout, stderr)
				t.Log(stderr.String())
				So(exitCode, ShouldEqual, veneer.ExitSuccess)

				body, err := os.ReadFile(witness)
				So(err, ShouldBeNil)
				So(string(body), ShouldEqual, "logging=true\n")
				_, err = os.Lstat(staged)
				So(os.IsNotExist(err), ShouldBeTrue)
			})
			Convey("the command's exit code comes through", func() {
				stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
				exitCode := Main(ctx, []string{
					"veneer", "--config=" + manifestPath, "run",
					"/bin/sh", "-c", "exit 3",
				}, &bytes.Buffer{}, stdout, stderr)
				So(exitCode, ShouldEqual, veneer.ExitCode(3))
				_, err := os.Lstat(root.Join(fs.MustRelPath("etc/app.conf")).String())
				So(os.IsNotExist(err), ShouldBeTrue)
			})
			Convey("a missing command is a usage error", func() {
				stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
				exitCode := Main(ctx, []string{"veneer", "--config=" + manifestPath, "run"}, &bytes.Buffer{}, stdout, stderr)
				So(exitCode, ShouldEqual, veneer.ExitUsage)
			})
		})
	})
}

func TestConfigCommand(t *testing.T) {
	ctx := context.Background()
	Convey("veneer config prints the effective configuration:", t, func() {
		withManifest(func(tmpDir fs.AbsolutePath, manifestPath string) {
			stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
			exitCode := Main(ctx, []string{"veneer", "--config=" + manifestPath, "config"}, &bytes.Buffer{}, stdout, stderr)
			So(exitCode, ShouldEqual, veneer.ExitSuccess)
			So(stdout.String(), ShouldContainSubstring, "rootdir:")
			So(stdout.String(), ShouldContainSubstring, tmpDir.Join(fs.MustRelPath("root")).String())
		})
	})
}
