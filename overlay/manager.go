/*
	Package overlay is the engine: it classifies target paths against the
	live filesystem, archives what will be disturbed, applies the
	write-plan, and restores the pre-overlay state afterward.

	All process-wide state (the lock stack, global default config) lives
	on a Manager constructed explicitly by the caller -- once per process
	or test run, before any instance is built.  There are no package-level
	globals.
*/
package overlay

import (
	"context"
	"os"
	"sync"
	"time"

	"dario.cat/mergo"
	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/archive"
	"go.polydawn.net/veneer/caps"
	"go.polydawn.net/veneer/spec"
	"go.polydawn.net/veneer/stack"
)

const (
	DefaultWaitTimeout = 1 * time.Minute
	DefaultExecTimeout = 5 * time.Minute
)

/*
	Opts configure one overlay instance.

	Keep and Cleanup are glob patterns (a literal path is a valid glob),
	resolved relative to RootDir.  Keep names extra paths to back up even
	when the spec doesn't touch them; Cleanup names extra paths to delete
	on restore even when the spec didn't create them.
*/
type Opts struct {
	RootDir string   `yaml:"rootdir"` // all target paths resolve under this; default "/".
	Keep    []string `yaml:"keep"`
	Cleanup []string `yaml:"cleanup"`
	BaseDir string   `yaml:"basedir"` // base for relative file references; default is the process working dir.
}

/*
	Config is the process-wide default configuration: a directory spec
	merged underneath every instance's own spec (instance entries win),
	default Opts unioned into every instance's Opts, the lock timeouts,
	and the temp dir that holds backup artifacts.
*/
type Config struct {
	Spec        spec.Dir
	Opts        Opts
	WaitTimeout time.Duration // how long an enable/restore may queue; 0 means DefaultWaitTimeout.
	ExecTimeout time.Duration // how long one enable/restore body may run; 0 means DefaultExecTimeout.
	TmpDir      string        // where backup artifacts live; 0 means os.TempDir().
}

type Manager struct {
	mu      sync.Mutex
	cfg     Config
	stack   *stack.Stack
	fulcrum *caps.Fulcrum
	logger  *zap.Logger
}

func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}
	return &Manager{
		cfg:     cfg,
		stack:   stack.New(cfg.WaitTimeout, cfg.ExecTimeout, logger),
		fulcrum: caps.Scan(),
		logger:  logger,
	}
}

/*
	SetConfig deep-merges a partial config into the process-wide defaults.
	Set fields of the partial win; unset (zero) fields leave the current
	value alone.

	Call this during suite initialization, before any instance is built --
	never concurrently with active overlays.
*/
func (m *Manager) SetConfig(partial Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := mergo.Merge(&m.cfg, partial, mergo.WithOverride); err != nil {
		return Errorf(veneer.ErrUsage, "invalid config: %s", err)
	}
	return nil
}

// Config returns a snapshot of the effective process-wide defaults.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

/*
	Build constructs a disabled overlay instance from a directory spec and
	options.  Pure construction: no filesystem has been probed or touched
	until Enable is called.
*/
func (m *Manager) Build(d spec.Dir, opts Opts) *Disabled {
	return &Disabled{mgr: m, spec: d, opts: opts}
}

/*
	GlobalRestore drains the entire lock stack, top to bottom.  The
	end-of-suite safety hook: a forgotten restore never leaves overlay
	state on the host.
*/
func (m *Manager) GlobalRestore(ctx context.Context) error {
	return m.stack.DrainAll(ctx)
}

/*
	ListLeftovers scans the temp dir for backup artifacts, in-process or
	not.  A non-empty result before any Enable call means a previous run
	crashed mid-overlay; callers must treat that as fatal and refuse to
	proceed (see archive.ListLeftovers for why it's never auto-resolved).
*/
func (m *Manager) ListLeftovers() ([]string, error) {
	m.mu.Lock()
	tmpDir := m.cfg.TmpDir
	m.mu.Unlock()
	return archive.ListLeftovers(tmpDir)
}
