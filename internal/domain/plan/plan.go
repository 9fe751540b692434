// Package plan models the provisioning plan: an ordered, immutable list of
// source descriptors plus run settings, its validation, and its install order.
package plan

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/validation"
)

// Plan is an ordered set of descriptors. It is immutable once built.
type Plan struct {
	descriptors []Descriptor
	index       map[string]int
	settings    Settings
	source      string
}

// New builds a plan. Descriptors are copied, settings are defaulted, and
// relative destinations are resolved against the prefix.
func New(descriptors []Descriptor, settings Settings) *Plan {
	settings = settings.normalize()

	p := &Plan{
		descriptors: make([]Descriptor, len(descriptors)),
		index:       make(map[string]int, len(descriptors)),
		settings:    settings,
	}
	for i, d := range descriptors {
		d = d.Clone()
		if d.Destination != "" && !filepath.IsAbs(d.Destination) {
			d.Destination = filepath.Join(settings.Prefix, d.Destination)
		}
		if d.Destination != "" {
			d.Destination = filepath.Clean(d.Destination)
		}
		p.descriptors[i] = d
		if _, dup := p.index[d.Name]; !dup {
			p.index[d.Name] = i
		}
	}
	return p
}

// Descriptors returns the descriptors in declaration order.
func (p *Plan) Descriptors() []Descriptor {
	out := make([]Descriptor, len(p.descriptors))
	for i, d := range p.descriptors {
		out[i] = d.Clone()
	}
	return out
}

// Len returns the number of descriptors.
func (p *Plan) Len() int {
	return len(p.descriptors)
}

// Lookup returns the descriptor with the given name.
func (p *Plan) Lookup(name string) (Descriptor, bool) {
	i, ok := p.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return p.descriptors[i].Clone(), true
}

// Settings returns the run settings.
func (p *Plan) Settings() Settings {
	return p.settings
}

// Source returns the file the plan was loaded from, if any.
func (p *Plan) Source() string {
	return p.source
}

// WithSettings returns a copy of the plan using s. Destinations stay
// resolved against the original prefix.
func (p *Plan) WithSettings(s Settings) *Plan {
	cp := New(p.descriptors, s)
	cp.source = p.source
	return cp
}

// Validate checks the plan without side effects and returns a
// ConfigurationError listing every problem found.
func (p *Plan) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(p.descriptors) == 0 {
		add("plan declares no descriptors")
	}

	seen := make(map[string]bool, len(p.descriptors))
	for i, d := range p.descriptors {
		label := d.Name
		if label == "" {
			label = fmt.Sprintf("descriptor #%d", i+1)
			add("%s: name is required", label)
		} else if seen[d.Name] {
			add("duplicate descriptor name %q", d.Name)
		}
		seen[d.Name] = true

		for _, problem := range validateDescriptor(d) {
			add("%s: %s", label, problem)
		}
	}

	problems = append(problems, p.destinationOverlaps()...)

	if len(problems) == 0 {
		if _, err := p.order(); err != nil {
			add("%v", err)
		}
	} else {
		problems = append(problems, p.requirementProblems()...)
	}

	if len(problems) > 0 {
		return provision.NewConfigurationError(problems)
	}
	return nil
}

func validateDescriptor(d Descriptor) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !d.Method.Valid() {
		add("unknown install method %q", d.Method)
		return problems
	}

	if strings.TrimSpace(d.Location) == "" {
		add("location is required")
	} else if d.Method == MethodAptPackage {
		if err := validation.ValidatePackageName(d.Location); err != nil {
			add("%v", err)
		}
	} else if err := validation.ValidateLocation(d.Location); err != nil {
		add("%v", err)
	}

	if err := validation.ValidateVersion(d.Version); err != nil {
		add("%v", err)
	}

	if d.Method.NeedsDestination() && d.Destination == "" {
		add("destination is required for %s", d.Method)
	}
	if d.Destination != "" {
		if err := validation.ValidatePath(d.Destination); err != nil {
			add("destination: %v", err)
		}
	}

	if _, err := d.Integrity(); err != nil {
		add("checksum: %v", err)
	}

	if d.Rename != "" {
		if d.Method != MethodArchiveExtract {
			add("rename only applies to %s", MethodArchiveExtract)
		} else if strings.ContainsAny(d.Rename, `/\`) || d.Rename == "." || d.Rename == ".." {
			add("rename %q must be a single path element", d.Rename)
		}
	}

	if d.Installer != "" {
		if d.Method != MethodSelfInstaller {
			add("installer only applies to %s", MethodSelfInstaller)
		} else if filepath.IsAbs(d.Installer) {
			add("installer %q must be relative to the archive root", d.Installer)
		} else if err := validation.ValidatePath(d.Installer); err != nil {
			add("installer: %v", err)
		}
	}

	if d.Repository != "" {
		if d.Method != MethodAptRepoBootstrap {
			add("repository only applies to %s", MethodAptRepoBootstrap)
		} else if err := validation.ValidateRepository(d.Repository); err != nil {
			add("repository: %v", err)
		}
	}

	if d.Keyring != "" && !filepath.IsAbs(d.Keyring) {
		add("keyring %q must be an absolute path", d.Keyring)
	}

	if len(d.Args) > 0 && d.Method != MethodSelfInstaller {
		add("args only apply to %s", MethodSelfInstaller)
	}

	return problems
}

// destinationOverlaps reports destinations that are equal or nested.
func (p *Plan) destinationOverlaps() []string {
	type dest struct {
		name string
		path string
	}
	var dests []dest
	for _, d := range p.descriptors {
		if d.Destination != "" {
			dests = append(dests, dest{d.Name, d.Destination})
		}
	}

	var problems []string
	for i := 0; i < len(dests); i++ {
		for j := i + 1; j < len(dests); j++ {
			a, b := dests[i], dests[j]
			switch {
			case a.path == b.path:
				problems = append(problems, fmt.Sprintf("%q and %q share destination %s", a.name, b.name, a.path))
			case isWithin(b.path, a.path):
				problems = append(problems, fmt.Sprintf("destination of %q (%s) is inside destination of %q (%s)", b.name, b.path, a.name, a.path))
			case isWithin(a.path, b.path):
				problems = append(problems, fmt.Sprintf("destination of %q (%s) is inside destination of %q (%s)", a.name, a.path, b.name, b.path))
			}
		}
	}
	return problems
}

// requirementProblems reports unknown requirements; used when ordering is
// skipped because of earlier problems.
func (p *Plan) requirementProblems() []string {
	var problems []string
	for _, d := range p.descriptors {
		for _, req := range d.Requires {
			if _, ok := p.index[req]; !ok {
				problems = append(problems, fmt.Sprintf("%s: %v %q", d.Name, ErrUnknownRequirement, req))
			}
		}
	}
	sort.Strings(problems)
	return problems
}

// isWithin reports whether child is a strict descendant of parent.
func isWithin(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
