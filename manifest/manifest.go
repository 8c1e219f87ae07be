// Package manifest handles garnet.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/garnet/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "garnet.toml"

// Manifest represents a garnet.toml project configuration.
type Manifest struct {
	Project Project     `toml:"project"`
	Source  Source      `toml:"source"`
	VM      VMSection   `toml:"vm"`
	Log     LogConfig   `toml:"log"`
	Trace   TraceConfig `toml:"trace"`

	// Dir is the directory containing the garnet.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version,omitempty"`
}

// Source configures the program files a run loads.
type Source struct {
	// Entry is the compiled program run by `garnet run` with no arguments.
	Entry string `toml:"entry,omitempty"`
	// Preload programs run first, in order, on the same VM.
	Preload []string `toml:"preload,omitempty"`
}

// VMSection sizes the execution contexts. Zero fields keep the VM
// defaults.
type VMSection struct {
	StackSlots      int   `toml:"stack-slots,omitzero"`
	MaxFrames       int   `toml:"max-frames,omitzero"`
	KeywordWarnings *bool `toml:"keyword-warnings,omitempty"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	// Verbosity follows commonlog: 0 is errors and warnings, higher is
	// more verbose, negative silences.
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file,omitempty"`
}

// TraceConfig configures the call trace store.
type TraceConfig struct {
	Enabled      bool   `toml:"enabled"`
	Database     string `toml:"database,omitempty"`
	HotThreshold int    `toml:"hot-threshold,omitzero"`
}

// Default returns the manifest written by `garnet init`.
func Default(name string) *Manifest {
	return &Manifest{
		Project: Project{Name: name, Version: "0.1.0"},
		Source:  Source{Entry: "main.gbc"},
		Trace:   TraceConfig{Database: ".garnet/trace.db", HotThreshold: 100},
	}
}

// Load parses and validates the garnet.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: cannot read %s: %w", path, err)
	}

	m, err := Parse(data, path)
	if err != nil {
		return nil, err
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text. name is used in errors.
func Parse(data []byte, name string) (*Manifest, error) {
	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("manifest: parse error in %s: %w", name, err)
	}
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("manifest: invalid %s: %w", name, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("manifest: parse error in %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("manifest: unknown key %s in %s", undecoded[0], name)
	}

	// Defaults
	if m.Trace.Database == "" {
		m.Trace.Database = ".garnet/trace.db"
	}
	if m.Trace.HotThreshold == 0 {
		m.Trace.HotThreshold = 100
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a garnet.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Save writes m as garnet.toml in dir. An existing file is not replaced.
func (m *Manifest) Save(dir string) error {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("manifest: %s already exists", path)
		}
		return fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}

// VMConfig converts the [vm] section to a vm.Config, keeping the VM
// defaults for unset fields.
func (m *Manifest) VMConfig() vm.Config {
	cfg := vm.DefaultConfig()
	if m.VM.StackSlots > 0 {
		cfg.StackSlots = m.VM.StackSlots
	}
	if m.VM.MaxFrames > 0 {
		cfg.MaxFrames = m.VM.MaxFrames
	}
	if m.VM.KeywordWarnings != nil {
		cfg.KeywordWarnings = *m.VM.KeywordWarnings
	}
	return cfg
}

// EntryPath returns the absolute path of the entry program, or "" if none
// is configured.
func (m *Manifest) EntryPath() string {
	if m.Source.Entry == "" {
		return ""
	}
	return m.resolve(m.Source.Entry)
}

// PreloadPaths returns absolute paths for the preload programs.
func (m *Manifest) PreloadPaths() []string {
	var paths []string
	for _, p := range m.Source.Preload {
		paths = append(paths, m.resolve(p))
	}
	return paths
}

// TraceDatabasePath returns the absolute path of the trace database.
func (m *Manifest) TraceDatabasePath() string {
	return m.resolve(m.Trace.Database)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
