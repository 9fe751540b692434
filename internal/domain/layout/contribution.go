// Package layout maps installed descriptors to the directories they
// contribute to a downstream build.
package layout

import "path/filepath"

// Kind classifies a path contribution.
type Kind string

// Contribution kinds.
const (
	IncludeDir  Kind = "include-dir"
	LibDir      Kind = "lib-dir"
	BinDir      Kind = "bin-dir"
	CMakePrefix Kind = "cmake-prefix"
)

// Contribution is one directory a descriptor adds to the build environment.
type Contribution struct {
	Kind       Kind
	Path       string
	Descriptor string
}

// Paths returns the paths of the contributions of kind k, in order.
func Paths(cs []Contribution, k Kind) []string {
	var out []string
	for _, c := range cs {
		if c.Kind == k {
			out = append(out, filepath.Clean(c.Path))
		}
	}
	return out
}
