// Package manifest handles ijvm.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "ijvm.toml"

// Manifest represents an ijvm.toml configuration.
type Manifest struct {
	VM     VMConfig     `toml:"vm" json:"vm"`
	Store  StoreConfig  `toml:"store" json:"store"`
	Server ServerConfig `toml:"server" json:"server"`
	Log    LogConfig    `toml:"log" json:"log"`

	// Dir is the directory containing the ijvm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// VMConfig configures the interpreter.
type VMConfig struct {
	MaxStack int  `toml:"max-stack" json:"max_stack"`
	Trace    bool `toml:"trace" json:"trace"`
}

// StoreConfig configures program and run persistence.
type StoreConfig struct {
	Driver string `toml:"driver" json:"driver"`
	Path   string `toml:"path" json:"path"`
}

// ServerConfig configures the RPC server.
type ServerConfig struct {
	Addr    string `toml:"addr" json:"addr"`
	Workers int    `toml:"workers" json:"workers"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the configuration used when no ijvm.toml exists.
func Default() *Manifest {
	return &Manifest{
		VM:     VMConfig{MaxStack: 1024},
		Store:  StoreConfig{Driver: "sqlite", Path: "ijvm.db"},
		Server: ServerConfig{Addr: "localhost:8732", Workers: 4},
		Log:    LogConfig{Verbosity: 0},
	}
}

// Load parses an ijvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses and validates the configuration at path. Keys absent
// from the file keep their defaults; unknown keys are an error.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an ijvm.toml file,
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

// StorePath returns the store path resolved against Dir. In-memory and
// empty paths are returned unchanged.
func (m *Manifest) StorePath() string {
	p := m.Store.Path
	if p == "" || p == ":memory:" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// LogFile returns the log file resolved against Dir, or nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.Log.File
	if !filepath.IsAbs(p) && m.Dir != "" {
		p = filepath.Join(m.Dir, p)
	}
	return &p
}
