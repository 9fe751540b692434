package layout

import (
	"path/filepath"

	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// archiveDirs are the conventional subdirectories of an extracted SDK, in
// the order their contributions are reported.
var archiveDirs = []struct {
	sub  string
	kind Kind
}{
	{"include", IncludeDir},
	{"lib", LibDir},
	{"lib64", LibDir},
	{"bin", BinDir},
}

// Manager discovers the contributions of installed descriptors.
type Manager struct {
	fs ports.FileSystem
}

// NewManager creates a layout manager.
func NewManager(fs ports.FileSystem) *Manager {
	return &Manager{fs: fs}
}

// Contributions returns what an installed descriptor contributes. Packages
// installed through apt land on the system search paths and contribute
// nothing. A descriptor that reported success but left no destination yields
// a LayoutError.
func (m *Manager) Contributions(d plan.Descriptor) ([]Contribution, error) {
	switch d.Method {
	case plan.MethodArchiveExtract:
		if err := m.requireDestination(d); err != nil {
			return nil, err
		}
		out := []Contribution{{Kind: CMakePrefix, Path: d.Destination, Descriptor: d.Name}}
		for _, sub := range archiveDirs {
			p := filepath.Join(d.Destination, sub.sub)
			if m.fs.IsDir(p) {
				out = append(out, Contribution{Kind: sub.kind, Path: p, Descriptor: d.Name})
			}
		}
		return out, nil

	case plan.MethodSelfInstaller:
		if err := m.requireDestination(d); err != nil {
			return nil, err
		}
		if bin := filepath.Join(d.Destination, "bin"); m.fs.IsDir(bin) {
			return []Contribution{{Kind: BinDir, Path: bin, Descriptor: d.Name}}, nil
		}
		return nil, nil
	}
	return nil, nil
}

// InstallPaths returns the paths recorded for an installed descriptor.
func (m *Manager) InstallPaths(d plan.Descriptor) []string {
	if d.Destination == "" || !m.fs.Exists(d.Destination) {
		return nil
	}
	return []string{d.Destination}
}

func (m *Manager) requireDestination(d plan.Descriptor) error {
	if !m.fs.IsDir(d.Destination) {
		return provision.NewLayoutError(d.Destination).WithDescriptor(d.Name)
	}
	return nil
}
