/*
	Package docker is the container glue: build the test image, run the
	test command inside a container with the overlay-prepared filesystem
	bound in, and collect the exit code.

	All of it consumes the engine API via the official client; nothing
	here knows about overlays beyond the bind paths it's handed.
*/
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/archive"
	"go.polydawn.net/veneer/fs"
	"go.polydawn.net/veneer/fs/osfs"
	"go.polydawn.net/veneer/fsop"
)

type Runner struct {
	cli    *client.Client
	logger *zap.Logger
}

func NewRunner(logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, Errorf(veneer.ErrUsage, "cannot reach the docker daemon: %s", err)
	}
	return &Runner{cli: cli, logger: logger}, nil
}

func (r *Runner) Close() error {
	return r.cli.Close()
}

/*
	BuildImage tars up the build context, submits it to the daemon, and
	streams the build output to `out`.  A build step failing surfaces as
	an error from the stream, not a silent bad image.
*/
func (r *Runner) BuildImage(ctx context.Context, contextDir, dockerfile, ref string, out io.Writer) error {
	buildCtx, err := tarContext(contextDir)
	if err != nil {
		return err
	}
	r.logger.Info("building image", zap.String("ref", ref), zap.String("context", contextDir))
	resp, err := r.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return Recategorize(veneer.ErrIO, err)
	}
	defer resp.Body.Close()
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		return Errorf(veneer.ErrIO, "image build failed: %s", err)
	}
	return nil
}

// tarContext archives a build context directory as a plain tar stream.
// The daemon wants the whole dir; filtering is the Dockerfile's problem
// (.dockerignore is honored daemon-side).
func tarContext(contextDir string) (io.Reader, error) {
	base, err := fs.ParseAbsolutePath(contextDir)
	if err != nil {
		return nil, Errorf(veneer.ErrUsage, "build context must be an absolute path: %s", err)
	}
	afs := osfs.New(base)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	err = fs.Walk(afs, func(node *fs.FilewalkNode) error {
		if node.Err != nil {
			return Recategorize(veneer.ErrIO, node.Err)
		}
		if node.Info.Name == (fs.RelPath{}) {
			return nil // the context root itself isn't an entry.
		}
		fmeta, body, err := fsop.ScanFile(afs, node.Info.Name)
		if err != nil {
			return Recategorize(veneer.ErrIO, err)
		}
		hdr := &tar.Header{}
		archive.MetadataToTarHdr(fmeta, hdr)
		if err := tw.WriteHeader(hdr); err != nil {
			return Recategorize(veneer.ErrIO, err)
		}
		if body != nil {
			defer body.Close()
			if _, err := io.Copy(tw, body); err != nil {
				return Recategorize(veneer.ErrIO, err)
			}
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, Recategorize(veneer.ErrIO, err)
	}
	return &buf, nil
}

// RunSpec describes one containerized command invocation.
type RunSpec struct {
	Image   string
	Cmd     []string
	Env     []string
	Binds   []string // host:container bind specs.
	Ports   []string // nat.ParsePortSpecs syntax, e.g. "8080:80/tcp".
	Workdir string
}

/*
	Run creates a container, starts it, waits for it to stop, copies its
	demuxed logs to the given writers, removes it, and returns the
	command's exit code.  A nonzero exit code is not an error here; the
	caller decides what it means.
*/
func (r *Runner) Run(ctx context.Context, rs RunSpec, stdout, stderr io.Writer) (int64, error) {
	pset, pmap, err := nat.ParsePortSpecs(rs.Ports)
	if err != nil {
		return -1, Errorf(veneer.ErrUsage, "invalid port spec: %s", err)
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        rs.Image,
			Cmd:          rs.Cmd,
			Env:          rs.Env,
			WorkingDir:   rs.Workdir,
			Tty:          false,
			ExposedPorts: pset,
		}, &container.HostConfig{
			Binds:        rs.Binds,
			PortBindings: pmap,
		}, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return -1, Recategorize(veneer.ErrIO, err)
	}
	id := resp.ID
	r.logger.Info("starting container", zap.String("id", id), zap.Strings("cmd", rs.Cmd))

	if err := r.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		r.remove(ctx, id)
		return -1, Recategorize(veneer.ErrIO, err)
	}

	var exitCode int64
	statusCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		r.remove(ctx, id)
		return -1, Recategorize(veneer.ErrIO, err)
	case st := <-statusCh:
		exitCode = st.StatusCode
	}

	logs, err := r.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		r.remove(ctx, id)
		return exitCode, Recategorize(veneer.ErrIO, err)
	}
	_, copyErr := stdcopy.StdCopy(stdout, stderr, logs)
	logs.Close()

	r.remove(ctx, id)
	if copyErr != nil {
		return exitCode, Recategorize(veneer.ErrIO, copyErr)
	}
	r.logger.Info("container finished", zap.String("id", id), zap.Int64("exitCode", exitCode))
	return exitCode, nil
}

func (r *Runner) remove(ctx context.Context, id string) {
	err := r.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{RemoveVolumes: true, Force: true})
	if err != nil {
		r.logger.Warn("container remove failed", zap.String("id", id), zap.Error(err))
	}
}
