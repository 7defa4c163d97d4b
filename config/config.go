/*
	Package config loads veneer's YAML manifest: the default directory
	spec, overlay options, container image coordinates, and the command
	to run.  Environment variables named VENEER_* override individual
	fields, and unset fields fall back to built-in defaults via a deep
	merge, so a manifest only ever states what differs.
*/
package config

import (
	"os"
	"runtime"
	"time"

	"dario.cat/mergo"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/yaml.v3"

	"go.polydawn.net/veneer"
	"go.polydawn.net/veneer/overlay"
)

type Manifest struct {
	RootDir  string    `yaml:"rootdir"`
	BaseDir  string    `yaml:"basedir"`
	TmpDir   string    `yaml:"tmpdir"`
	Keep     []string  `yaml:"keep"`
	Cleanup  []string  `yaml:"cleanup"`
	Spec     yaml.Node `yaml:"spec"` // converted lazily; see SpecDir.
	Command  []string  `yaml:"command"`
	Image    Image     `yaml:"image"`
	Docker   Docker    `yaml:"docker"`
	Timeouts Timeouts  `yaml:"timeouts"`
}

type Image struct {
	Name string `yaml:"name"`
	Tag  string `yaml:"tag"`
	Arch string `yaml:"arch"` // inferred from the host when empty.
}

type Docker struct {
	Context    string   `yaml:"context"`
	Dockerfile string   `yaml:"dockerfile"`
	Binds      []string `yaml:"binds"`
	Ports      []string `yaml:"ports"`
	Env        []string `yaml:"env"`
}

type Timeouts struct {
	Wait string `yaml:"wait"` // time.ParseDuration syntax.
	Exec string `yaml:"exec"`
}

func Default() Manifest {
	return Manifest{
		RootDir: "/",
		Image:   Image{Tag: "latest"},
		Docker:  Docker{Context: ".", Dockerfile: "Dockerfile"},
	}
}

// Load reads a manifest file, merges it over the defaults, and applies
// VENEER_* environment overrides.
func Load(path string) (*Manifest, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, Errorf(veneer.ErrUsage, "cannot read config %q: %s", path, err)
	}
	m, err := Parse(body)
	if err != nil {
		return nil, err
	}
	m.ApplyEnv(os.LookupEnv)
	return m, nil
}

func Parse(body []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(body, &m); err != nil {
		return nil, Errorf(veneer.ErrUsage, "invalid config: %s", err)
	}
	defaults := Default()
	if err := mergo.Merge(&m, defaults); err != nil {
		return nil, Errorf(veneer.ErrInternal, "config defaulting failed: %s", err)
	}
	return &m, nil
}

// The override vocabulary.  One env var per scalar knob; list- and
// tree-shaped config has no env form.
var envOverrides = map[string]func(*Manifest, string){
	"VENEER_ROOTDIR":      func(m *Manifest, v string) { m.RootDir = v },
	"VENEER_BASEDIR":      func(m *Manifest, v string) { m.BaseDir = v },
	"VENEER_TMPDIR":       func(m *Manifest, v string) { m.TmpDir = v },
	"VENEER_IMAGE_NAME":   func(m *Manifest, v string) { m.Image.Name = v },
	"VENEER_IMAGE_TAG":    func(m *Manifest, v string) { m.Image.Tag = v },
	"VENEER_ARCH":         func(m *Manifest, v string) { m.Image.Arch = v },
	"VENEER_WAIT_TIMEOUT": func(m *Manifest, v string) { m.Timeouts.Wait = v },
	"VENEER_EXEC_TIMEOUT": func(m *Manifest, v string) { m.Timeouts.Exec = v },
}

// ApplyEnv applies VENEER_* overrides.  The lookup function is a
// parameter so tests don't have to mutate the process environment.
func (m *Manifest) ApplyEnv(lookup func(string) (string, bool)) {
	for name, apply := range envOverrides {
		if v, ok := lookup(name); ok {
			apply(m, v)
		}
	}
}

/*
	ImageRef assembles the full image reference, inferring the
	architecture suffix from the host when the manifest leaves it blank.
*/
func (m *Manifest) ImageRef() string {
	arch := m.Image.Arch
	if arch == "" {
		arch = InferArch(runtime.GOARCH)
	}
	return m.Image.Name + ":" + m.Image.Tag + "-" + arch
}

// InferArch maps a GOARCH value onto the image-suffix vocabulary used
// by official multi-arch repositories.
func InferArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "amd64"
	case "arm64":
		return "arm64v8"
	case "arm":
		return "arm32v7"
	case "386":
		return "i386"
	default:
		return goarch
	}
}

/*
	OverlayConfig produces the process-wide overlay defaults this
	manifest describes: the default spec (converted from the YAML tree)
	plus options and timeouts.
*/
func (m *Manifest) OverlayConfig() (overlay.Config, error) {
	d, err := m.SpecDir()
	if err != nil {
		return overlay.Config{}, err
	}
	cfg := overlay.Config{
		Spec: d,
		Opts: overlay.Opts{
			RootDir: m.RootDir,
			BaseDir: m.BaseDir,
			Keep:    m.Keep,
			Cleanup: m.Cleanup,
		},
		TmpDir: m.TmpDir,
	}
	if cfg.WaitTimeout, err = parseTimeout(m.Timeouts.Wait); err != nil {
		return overlay.Config{}, err
	}
	if cfg.ExecTimeout, err = parseTimeout(m.Timeouts.Exec); err != nil {
		return overlay.Config{}, err
	}
	return cfg, nil
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, Errorf(veneer.ErrUsage, "invalid timeout %q: %s", s, err)
	}
	return d, nil
}
