// Package buildroot holds the declarative environment description
// that drives a chroot virtual environment: which directories layer
// into the overlay, which host paths get bound in, which pseudo
// filesystems attach, and how the child command's argv and
// environment get assembled.
package buildroot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the default PATH given to every chroot child,
// matching debootstrap/debian_chroot convention.
const DefaultPath = "/sbin:/bin:/usr/sbin:/usr/bin:/usr/local/sbin:/usr/local/bin"

// ConfigFileName is the name of the declarative config file expected
// inside every build-root directory.
const ConfigFileName = ".buildroot.yaml"

// Config is the declarative description of one chroot environment.
type Config struct {
	Base         *string           `yaml:"base,omitempty"`
	Lower        []string          `yaml:"lower,omitempty"`
	Binds        map[string]string `yaml:"binds,omitempty"`
	Tmpfs        []string          `yaml:"tmpfs,omitempty"`
	Mktemp       bool              `yaml:"mktemp,omitempty"`
	Noupper      bool              `yaml:"noupper,omitempty"`
	Indexoff     bool              `yaml:"indexoff,omitempty"`
	Nosystem     bool              `yaml:"nosystem,omitempty"`
	Nochroot     bool              `yaml:"nochroot,omitempty"`
	NewNamespace bool              `yaml:"newnamespace,omitempty"`
	Cwd          string            `yaml:"cwd,omitempty"`
	Shell        yamlStringOrSlice `yaml:"shell,omitempty"`
	Exec         *string           `yaml:"exec,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
}

// yamlStringOrSlice decodes either a scalar string or a sequence of
// strings into a []string, mirroring the original YAML schema's
// "shell: /bin/sh" vs. "shell: [/bin/sh, /bin/bash]" flexibility.
type yamlStringOrSlice []string

func (s *yamlStringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = []string{single}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

func (s yamlStringOrSlice) MarshalYAML() (interface{}, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	return []string(s), nil
}

// applyDefaults fills in the zero-value defaults named in spec: cwd
// defaults to "/", shell defaults to ["/bin/sh"] when empty.
func (c *Config) applyDefaults() {
	if c.Cwd == "" {
		c.Cwd = "/"
	}
	if len(c.Shell) == 0 {
		c.Shell = yamlStringOrSlice{"/bin/sh"}
	}
}

// Validate checks the data-model invariants on binds, tmpfs and shell:
// bind destinations and tmpfs entries must be rootward-absolute paths,
// and at least one shell candidate must exist after defaulting. Lower
// and base directories are not checked here; ComposeLowerDir drops
// entries that do not exist.
func (c *Config) Validate() error {
	for dst := range c.Binds {
		if !filepath.IsAbs(dst) {
			return fmt.Errorf("bind destination %q must be an absolute path", dst)
		}
	}
	for _, dst := range c.Tmpfs {
		if !filepath.IsAbs(dst) {
			return fmt.Errorf("tmpfs destination %q must be an absolute path", dst)
		}
	}
	if len(c.Shell) == 0 {
		return fmt.Errorf("shell must have at least one candidate")
	}
	return nil
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadError records a single failed entry while scanning a directory
// of build-roots. The directory scan itself never fails on account of
// a bad entry; these are surfaced for logging only.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadDir scans the first-level subdirectories of dir for a
// ConfigFileName file, indexing successful loads by subdirectory path.
// Failures on individual entries are skipped and collected, never
// propagated as a hard error.
func LoadDir(dir string) (map[string]*Config, []*LoadError) {
	result := make(map[string]*Config)
	var errs []*LoadError

	entries, err := os.ReadDir(dir)
	if err != nil {
		errs = append(errs, &LoadError{Path: dir, Err: err})
		return result, errs
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		configPath := filepath.Join(sub, ConfigFileName)
		info, err := os.Stat(configPath)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		cfg, err := Load(configPath)
		if err != nil {
			errs = append(errs, &LoadError{Path: sub, Err: err})
			continue
		}
		result[sub] = cfg
	}
	return result, errs
}

// resolveExistingDir reports whether path names an existing directory.
func resolveExistingDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// JoinChrootRelative joins root with p after stripping p's leading
// "/", matching the chroot-relative path convention used throughout
// the lifecycle stage machine.
func JoinChrootRelative(root, p string) string {
	return filepath.Join(root, strings.TrimPrefix(p, "/"))
}
