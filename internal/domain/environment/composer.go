// Package environment composes the build environment of an installed plan
// from its path contributions.
package environment

import (
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/provisioner/internal/domain/layout"
)

// Variables set by the composer.
const (
	BuildPrefixPath = "NATIVE_BUILD_PREFIX_PATH"
	LibraryPath     = "NATIVE_LIBRARY_PATH"
	IncludePath     = "NATIVE_INCLUDE_PATH"
	BinPath         = "NATIVE_BIN_PATH"

	// CMakePrefixPath and LDLibraryPath are the compatibility aliases read
	// directly by CMake and the dynamic loader.
	CMakePrefixPath = "CMAKE_PREFIX_PATH"
	LDLibraryPath   = "LD_LIBRARY_PATH"
)

// DefaultSeparator joins the entries of the NATIVE_* variables.
const DefaultSeparator = ":"

// Options controls composition.
type Options struct {
	Separator string
	Compat    bool // also set CMAKE_PREFIX_PATH and LD_LIBRARY_PATH
}

// Variable is one composed environment variable.
type Variable struct {
	Name    string
	Entries []string
	Value   string
}

// Environment is an ordered set of variables. Variables without entries are
// omitted.
type Environment struct {
	vars []Variable
}

// Compose builds the environment from contributions given in install order.
// Within a variable, entries keep the order of first appearance and repeats
// are dropped, so earlier installs shadow later ones under first-match
// lookup.
func Compose(contributions []layout.Contribution, opts Options) Environment {
	sep := opts.Separator
	if sep == "" {
		sep = DefaultSeparator
	}

	var env Environment
	prefixes := unique(layout.Paths(contributions, layout.CMakePrefix))
	libs := unique(layout.Paths(contributions, layout.LibDir))

	env.add(BuildPrefixPath, prefixes, sep)
	env.add(LibraryPath, libs, sep)
	env.add(IncludePath, unique(layout.Paths(contributions, layout.IncludeDir)), sep)
	env.add(BinPath, unique(layout.Paths(contributions, layout.BinDir)), sep)

	if opts.Compat {
		env.add(CMakePrefixPath, prefixes, ";")
		env.add(LDLibraryPath, libs, ":")
	}
	return env
}

func (e *Environment) add(name string, entries []string, sep string) {
	if len(entries) == 0 {
		return
	}
	e.vars = append(e.vars, Variable{Name: name, Entries: entries, Value: strings.Join(entries, sep)})
}

// Variables returns the variables in render order.
func (e Environment) Variables() []Variable {
	out := make([]Variable, len(e.vars))
	copy(out, e.vars)
	return out
}

// Get returns the value of a variable.
func (e Environment) Get(name string) (string, bool) {
	for _, v := range e.vars {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// Map returns the variables as a map.
func (e Environment) Map() map[string]string {
	m := make(map[string]string, len(e.vars))
	for _, v := range e.vars {
		m[v.Name] = v.Value
	}
	return m
}

// Len returns the number of variables.
func (e Environment) Len() int {
	return len(e.vars)
}

func unique(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		p = filepath.Clean(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
