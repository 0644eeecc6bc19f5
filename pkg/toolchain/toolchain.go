// Package toolchain locates and drives a host C compiler.
package toolchain

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Masterminds/semver/v3"

	"zlang/pkg/compiler"
)

// Compiler is one usable host C compiler.
type Compiler struct {
	Name    string // binary name that was probed (clang, gcc)
	Path    string // resolved executable path
	Version string // first banner line, kept for diagnostics
}

// Parseable versions below these are rejected; banners that carry no
// recognizable version are accepted as-is.
var minVersions = map[string]*semver.Version{
	"clang": semver.MustParse("3.4.0"),
	"gcc":   semver.MustParse("4.7.0"),
}

var standardFlags = []string{"-O2", "-Wall", "-Wextra", "-D_CRT_SECURE_NO_WARNINGS"}

// Find probes candidates with --version and returns the first responder:
// the preferred name when given, then clang, then gcc.
func Find(preferred string) (*Compiler, error) {
	candidates := []string{"clang", "gcc"}
	if preferred != "" {
		candidates = append([]string{preferred}, candidates...)
	}
	tried := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		if seen[name] {
			continue
		}
		seen[name] = true
		tried = append(tried, name)
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		out, err := exec.Command(path, "--version").CombinedOutput()
		if err != nil {
			continue
		}
		banner := firstLine(string(out))
		if err := checkVersion(name, banner); err != nil {
			return nil, err
		}
		return &Compiler{Name: name, Path: path, Version: banner}, nil
	}
	return nil, &compiler.Error{
		Message: fmt.Sprintf("no usable C compiler found (tried %s)", strings.Join(tried, ", ")),
		Code:    compiler.MissingDependency,
	}
}

// Build compiles cFile into out with the standard flag set plus extra.
func (cc *Compiler) Build(cFile, out string, extra []string) error {
	args := append([]string{cFile}, standardFlags...)
	args = append(args, extra...)
	args = append(args, "-lm", "-o", out)
	combined, err := exec.Command(cc.Path, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &compiler.Error{
			Message: fmt.Sprintf("%s failed: %v\n%s", cc.Name, err, strings.TrimSpace(string(combined))),
			Path:    cFile,
			Code:    compiler.CompilationError,
		}
	}
	return &compiler.Error{
		Message: fmt.Sprintf("run %s: %v", cc.Name, err),
		Code:    compiler.ExternalToolError,
	}
}

func checkVersion(name, banner string) error {
	min, gated := minVersions[name]
	if !gated {
		return nil
	}
	v := scanVersion(banner)
	if v == nil || !v.LessThan(min) {
		return nil
	}
	return &compiler.Error{
		Message: fmt.Sprintf("%s %s is older than the supported minimum %s", name, v, min),
		Code:    compiler.MissingDependency,
	}
}

// scanVersion pulls the first version-shaped token out of a banner line.
func scanVersion(banner string) *semver.Version {
	for _, f := range strings.Fields(banner) {
		f = strings.Trim(f, "(),")
		if v, err := semver.NewVersion(f); err == nil {
			return v
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
