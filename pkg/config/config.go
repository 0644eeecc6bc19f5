// Package config loads optional per-project defaults from zlang.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"zlang/pkg/compiler"
)

// FileName is the project file looked up next to the source being compiled.
const FileName = "zlang.yaml"

// Config carries project-level defaults for the CLI; flags override it.
type Config struct {
	Format   string   `yaml:"format"`   // c or exe
	Compiler string   `yaml:"compiler"` // preferred C compiler binary
	Optimize *bool    `yaml:"optimize"` // nil means enabled
	CFlags   []string `yaml:"cflags"`   // extra flags passed to the C compiler
}

// OptimizeEnabled reports whether the optimizer stage should run; an absent
// key means yes.
func (c *Config) OptimizeEnabled() bool {
	return c.Optimize == nil || *c.Optimize
}

// Load reads FileName from dir. A missing file yields the zero config.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, confErr(path, "read config: %v", err)
	}
	return Parse(data, path)
}

// Parse decodes and checks one config document. Unknown keys are rejected.
func Parse(data []byte, path string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, confErr(path, "parse config: %v", err)
	}
	if cfg.Format != "" && cfg.Format != "c" && cfg.Format != "exe" {
		return nil, confErr(path, "format must be c or exe, got %q", cfg.Format)
	}
	if cfg.Compiler != "" && cfg.Compiler != "clang" && cfg.Compiler != "gcc" {
		return nil, confErr(path, "compiler must be clang or gcc, got %q", cfg.Compiler)
	}
	return &cfg, nil
}

func confErr(path, format string, args ...any) error {
	return &compiler.Error{
		Message: fmt.Sprintf(format, args...),
		Path:    path,
		Code:    compiler.ConfigurationError,
	}
}
