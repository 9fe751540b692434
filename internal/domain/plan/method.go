package plan

import (
	"fmt"
	"strings"
)

// Method is the install method of a descriptor.
type Method string

// Install methods.
const (
	MethodAptPackage       Method = "apt-package"
	MethodAptRepoBootstrap Method = "apt-repo-bootstrap"
	MethodArchiveExtract   Method = "archive-extract"
	MethodSelfInstaller    Method = "self-installer"
)

// Methods lists every known method in a stable order.
func Methods() []Method {
	return []Method{
		MethodAptPackage,
		MethodAptRepoBootstrap,
		MethodArchiveExtract,
		MethodSelfInstaller,
	}
}

// ParseMethod accepts the canonical kebab-case name as well as the
// CamelCase form (AptPackage, ArchiveExtract, ...).
func ParseMethod(s string) (Method, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(strings.TrimSpace(s)))
	for _, m := range Methods() {
		if strings.ReplaceAll(string(m), "-", "") == key {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown install method %q", s)
}

// String returns the canonical method name.
func (m Method) String() string {
	return string(m)
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	for _, known := range Methods() {
		if m == known {
			return true
		}
	}
	return false
}

// Phase returns the barrier phase of the method. Every phase-0 descriptor
// reaches a terminal state before any phase-1 descriptor starts.
func (m Method) Phase() int {
	if m == MethodAptRepoBootstrap {
		return 0
	}
	return 1
}

// NeedsDestination reports whether descriptors of this method must declare
// a destination directory.
func (m Method) NeedsDestination() bool {
	return m == MethodArchiveExtract || m == MethodSelfInstaller
}

// UsesPackageManager reports whether the method drives apt/dpkg.
func (m Method) UsesPackageManager() bool {
	return m == MethodAptPackage || m == MethodAptRepoBootstrap
}
