package plan

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// SelfInstaller argument placeholders. BinPlaceholder expands to the bin
// directory below the destination, which the layout publishes.
const (
	DestinationPlaceholder = "{destination}"
	BinPlaceholder         = "{bin}"
)

// Descriptor declares one native dependency to provision.
type Descriptor struct {
	Name        string
	Method      Method
	Location    string // URL, local path, or package name for AptPackage
	Version     string
	Destination string
	Checksum    string

	// Requires names descriptors that must be installed first.
	Requires []string

	// Rename is the canonical name for an archive's single top-level
	// directory (ArchiveExtract).
	Rename string

	// Installer is the path of the installer inside a fetched archive
	// (SelfInstaller). Empty means the artifact itself is the installer.
	Installer string

	// Args is the fixed non-interactive flag set passed to the installer.
	Args []string

	// Repository and Keyring select the signed AptRepoBootstrap variant:
	// Location is then the signing key and Repository the sources line.
	Repository string
	Keyring    string

	// NoRecommends passes --no-install-recommends to apt-get.
	NoRecommends bool
}

// Integrity parses the declared checksum.
func (d Descriptor) Integrity() (Integrity, error) {
	return ParseIntegrity(d.Checksum)
}

// NeedsFetch reports whether the method retrieves an artifact before
// installing.
func (d Descriptor) NeedsFetch() bool {
	return d.Method != MethodAptPackage
}

// SignedRepository reports whether an AptRepoBootstrap descriptor uses the
// keyring + sources entry variant instead of a registration package.
func (d Descriptor) SignedRepository() bool {
	return d.Method == MethodAptRepoBootstrap && d.Repository != ""
}

// ExpandedArgs returns Args with the placeholders replaced.
func (d Descriptor) ExpandedArgs() []string {
	r := strings.NewReplacer(
		DestinationPlaceholder, d.Destination,
		BinPlaceholder, filepath.Join(d.Destination, "bin"),
	)
	out := make([]string, len(d.Args))
	for i, a := range d.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// ArtifactName returns a file name for the fetched artifact derived from the
// location, falling back to the descriptor name.
func (d Descriptor) ArtifactName() string {
	loc := filepath.ToSlash(d.Location)
	if u, err := url.Parse(d.Location); err == nil && u.Scheme != "" {
		loc = u.Path
	}
	base := path.Base(loc)
	if base == "." || base == "/" || base == "" {
		return d.Name
	}
	return base
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	d.Requires = append([]string(nil), d.Requires...)
	d.Args = append([]string(nil), d.Args...)
	return d
}
