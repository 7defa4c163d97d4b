package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	"github.com/polydawn/refmt/obj/atlas"
	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"
	"gopkg.in/alecthomas/kingpin.v2"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/config"
	"go.polydawn.net/veneer/docker"
	"go.polydawn.net/veneer/overlay"
)

/*
	Output serialization formats
*/
const (
	FmtJson = "json"
	FmtDumb = "dumb"
)

type baseCLI struct {
	ConfigPath string // Path to the veneer manifest
	Format     string // Output format, eg. json
	Verbose    bool   // Structured logs to stderr yes/no
	RunCLI     struct {
		Docker  bool     // Run the command in a container rather than on the host
		Command []string // Override the manifest's command
	}
}

// Result is the one record every subcommand reports, serialized per the
// --format flag.
type Result struct {
	ExitCode  int
	Error     string
	Leftovers []string
}

var Atlas = atlas.MustBuild(
	atlas.BuildEntry(Result{}).StructMap().Autogenerate().Complete(),
)

/*
	Blocks until a sigint is received, then calls cancel.
*/
func CancelOnInterrupt(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
	cancel()
}

func main() {
	ctx := context.Background()
	exitCode := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) veneer.ExitCode {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go CancelOnInterrupt(cancel)

	cli := baseCLI{}

	app := kingpin.New("veneer", "Ephemeral, reversible filesystem overlays for test fixtures")
	app.HelpFlag.Short('h')
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	app.Interspersed(false) // so `run /bin/sh -c ...` keeps its dashes.

	app.Flag("config", "Path to the veneer manifest").
		Default("veneer.yaml").
		StringVar(&cli.ConfigPath)
	app.Flag("format", "Output format").
		Default(FmtDumb).
		EnumVar(&cli.Format, FmtJson, FmtDumb)
	app.Flag("verbose", "Structured logs to stderr").
		Short('v').
		BoolVar(&cli.Verbose)

	appCheck := app.Command("check", "scan the temp dir for leftover backup artifacts from a crashed run")
	appRun := app.Command("run", "enable the overlay, run the command, restore")
	appRun.Flag("docker", "Run the command in a container built from the manifest's image section").
		BoolVar(&cli.RunCLI.Docker)
	appRun.Arg("command", "Command to run (overrides the manifest)").
		StringsVar(&cli.RunCLI.Command)
	appConfig := app.Command("config", "print the effective configuration")

	var termErr error
	app.Terminate(func(status int) {
		termErr = fmt.Errorf("parsing error: %d\n", status)
	})
	cmd, err := app.Parse(args[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return veneer.ExitUsage
	}
	if termErr != nil {
		fmt.Fprintln(stderr, termErr)
		return veneer.ExitUsage
	}

	var result Result
	switch cmd {
	case appCheck.FullCommand():
		result = executeCheck(cli)
	case appRun.FullCommand():
		result = executeRun(ctx, cli, stdout, stderr)
	case appConfig.FullCommand():
		return executeConfig(cli, stdout, stderr)
	}
	SerializeResult(cli.Format, result, stdout, stderr)
	return veneer.ExitCode(result.ExitCode)
}

func SerializeResult(format string, result Result, stdout, stderr io.Writer) {
	switch format {
	case FmtJson:
		marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stdout, Atlas)
		if err := marshaller.Marshal(&result); err != nil {
			panic(err)
		}
		fmt.Fprintln(stdout)
	case FmtDumb:
		for _, leftover := range result.Leftovers {
			fmt.Fprintln(stdout, leftover)
		}
		if result.Error != "" {
			fmt.Fprintln(stderr, result.Error)
		}
	default:
		panic(fmt.Errorf("veneer: invalid format %s", format))
	}
}

func resultFor(err error, leftovers []string) Result {
	result := Result{
		ExitCode:  int(veneer.ExitCodeForError(err)),
		Leftovers: leftovers,
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func newLogger(cli baseCLI, stderr io.Writer) *zap.Logger {
	if !cli.Verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(stderr, "veneer: cannot construct logger:", err)
		return zap.NewNop()
	}
	return logger
}

func loadManager(cli baseCLI, logger *zap.Logger) (*config.Manifest, *overlay.Manager, error) {
	manifest, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := manifest.OverlayConfig()
	if err != nil {
		return nil, nil, err
	}
	return manifest, overlay.NewManager(cfg, logger), nil
}

func executeCheck(cli baseCLI) Result {
	logger := newLogger(cli, os.Stderr)
	defer logger.Sync()
	_, mgr, err := loadManager(cli, logger)
	if err != nil {
		return resultFor(err, nil)
	}
	leftovers, err := mgr.ListLeftovers()
	if err == nil && len(leftovers) > 0 {
		err = Errorf(veneer.ErrLeftovers,
			"%d leftover backup artifact(s) found: a previous run died mid-overlay and the filesystem is in an unknown state; inspect and restore by hand before running again", len(leftovers))
	}
	return resultFor(err, leftovers)
}

func executeRun(ctx context.Context, cli baseCLI, stdout, stderr io.Writer) Result {
	logger := newLogger(cli, stderr)
	defer logger.Sync()
	manifest, mgr, err := loadManager(cli, logger)
	if err != nil {
		return resultFor(err, nil)
	}

	// Refuse to lay an overlay on top of a crashed run's debris.
	leftovers, err := mgr.ListLeftovers()
	if err != nil {
		return resultFor(err, nil)
	}
	if len(leftovers) > 0 {
		return resultFor(Errorf(veneer.ErrLeftovers,
			"refusing to run: %d leftover backup artifact(s) found; inspect and restore by hand first", len(leftovers)), leftovers)
	}

	command := manifest.Command
	if len(cli.RunCLI.Command) > 0 {
		command = cli.RunCLI.Command
	}
	if len(command) == 0 {
		return resultFor(Errorf(veneer.ErrUsage, "no command: state one in the manifest or on the command line"), nil)
	}

	cfg := mgr.Config()
	en, err := mgr.Build(cfg.Spec, cfg.Opts).Enable(ctx)
	if err != nil {
		return resultFor(err, nil)
	}
	// Whatever happens below, never leave overlay state on the host.
	defer mgr.GlobalRestore(context.WithoutCancel(ctx))

	exitCode, runErr := runCommand(ctx, cli, manifest, command, stdout, stderr, logger)

	if err := en.Restore(ctx); err != nil {
		return resultFor(err, nil)
	}
	if runErr != nil {
		return resultFor(runErr, nil)
	}
	return Result{ExitCode: exitCode}
}

func runCommand(ctx context.Context, cli baseCLI, manifest *config.Manifest, command []string, stdout, stderr io.Writer, logger *zap.Logger) (int, error) {
	if cli.RunCLI.Docker {
		runner, err := docker.NewRunner(logger)
		if err != nil {
			return -1, err
		}
		defer runner.Close()
		ref := manifest.ImageRef()
		if err := runner.BuildImage(ctx, manifest.Docker.Context, manifest.Docker.Dockerfile, ref, stderr); err != nil {
			return -1, err
		}
		code, err := runner.Run(ctx, docker.RunSpec{
			Image: ref,
			Cmd:   command,
			Env:   manifest.Docker.Env,
			Binds: manifest.Docker.Binds,
			Ports: manifest.Docker.Ports,
		}, stdout, stderr)
		return int(code), err
	}

	proc := exec.CommandContext(ctx, command[0], command[1:]...)
	proc.Stdout = stdout
	proc.Stderr = stderr
	proc.Env = append(os.Environ(), manifest.Docker.Env...)
	err := proc.Run()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, Errorf(veneer.ErrIO, "command failed to start: %s", err)
	}
	return 0, nil
}

func executeConfig(cli baseCLI, stdout, stderr io.Writer) veneer.ExitCode {
	logger := newLogger(cli, stderr)
	defer logger.Sync()
	manifest, mgr, err := loadManager(cli, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return veneer.ExitCodeForError(err)
	}
	cfg := mgr.Config()
	fmt.Fprintf(stdout, "rootdir:  %s\n", cfg.Opts.RootDir)
	fmt.Fprintf(stdout, "basedir:  %s\n", cfg.Opts.BaseDir)
	fmt.Fprintf(stdout, "tmpdir:   %s\n", cfg.TmpDir)
	fmt.Fprintf(stdout, "keep:     %v\n", cfg.Opts.Keep)
	fmt.Fprintf(stdout, "cleanup:  %v\n", cfg.Opts.Cleanup)
	fmt.Fprintf(stdout, "image:    %s\n", manifest.ImageRef())
	fmt.Fprintf(stdout, "command:  %v\n", manifest.Command)
	fmt.Fprintf(stdout, "timeouts: wait=%s exec=%s\n", cfg.WaitTimeout, cfg.ExecTimeout)
	return veneer.ExitSuccess
}
