// Package ledger persists install markers for fetched descriptors so that a
// repeated run can skip work that is already in place.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/installer"
	"github.com/felixgeelhaar/provisioner/internal/ports"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// FileName is the ledger file inside the state directory.
const FileName = "ledger.yaml"

// ledgerVersion is the on-disk format version.
const ledgerVersion = 1

// Ledger errors.
var (
	ErrLedgerCorrupt = errors.New("install ledger is corrupt")
	ErrSaveFailed    = errors.New("failed to save install ledger")
)

// Entry is the marker left by a successful install.
type Entry struct {
	Name        string
	Method      plan.Method
	Location    string
	Version     string
	Checksum    string
	Destination string
	RunID       string
	InstalledAt time.Time
}

type entryDTO struct {
	Method      string `yaml:"method"`
	Location    string `yaml:"location"`
	Version     string `yaml:"version,omitempty"`
	Checksum    string `yaml:"checksum,omitempty"`
	Destination string `yaml:"destination,omitempty"`
	RunID       string `yaml:"run_id,omitempty"`
	InstalledAt string `yaml:"installed_at"` // RFC3339
}

type fileDTO struct {
	Version int                 `yaml:"version"`
	Entries map[string]entryDTO `yaml:"entries,omitempty"`
}

// Ledger is a YAML-backed install ledger. It is safe for concurrent use
// within one process.
type Ledger struct {
	mu   sync.Mutex
	path string
	fs   ports.FileSystem
	now  func() time.Time
}

// New opens the ledger kept in stateDir. Nothing is read until first use.
func New(stateDir string, fs ports.FileSystem) *Ledger {
	return &Ledger{path: filepath.Join(stateDir, FileName), fs: fs, now: time.Now}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Satisfies reports whether d was installed with the same method, location,
// version and checksum. A corrupt ledger satisfies nothing; the next
// Record rewrites it.
func (l *Ledger) Satisfies(d plan.Descriptor) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if errors.Is(err, ErrLedgerCorrupt) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e, ok := entries[d.Name]
	if !ok {
		return false, nil
	}
	return matches(e, d), nil
}

// Record stores the marker for an installed descriptor.
func (l *Ledger) Record(d plan.Descriptor, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if errors.Is(err, ErrLedgerCorrupt) {
		entries = map[string]Entry{}
	} else if err != nil {
		return err
	}

	entries[d.Name] = Entry{
		Name:        d.Name,
		Method:      d.Method,
		Location:    d.Location,
		Version:     d.Version,
		Checksum:    checksumOf(d),
		Destination: d.Destination,
		RunID:       runID,
		InstalledAt: l.now().UTC(),
	}
	return l.save(entries)
}

// Lookup returns the marker for name.
func (l *Ledger) Lookup(name string) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := entries[name]
	return e, ok, nil
}

// Entries returns every marker, sorted by name.
func (l *Ledger) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *Ledger) load() (map[string]Entry, error) {
	data, err := l.fs.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading install ledger: %w", err)
	}

	var dto fileDTO
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerCorrupt, err)
	}
	if dto.Version > ledgerVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrLedgerCorrupt, dto.Version)
	}

	entries := make(map[string]Entry, len(dto.Entries))
	for name, e := range dto.Entries {
		at, err := time.Parse(time.RFC3339, e.InstalledAt)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid installed_at for %s: %w", ErrLedgerCorrupt, name, err)
		}
		entries[name] = Entry{
			Name:        name,
			Method:      plan.Method(e.Method),
			Location:    e.Location,
			Version:     e.Version,
			Checksum:    e.Checksum,
			Destination: e.Destination,
			RunID:       e.RunID,
			InstalledAt: at,
		}
	}
	return entries, nil
}

func (l *Ledger) save(entries map[string]Entry) error {
	dto := fileDTO{Version: ledgerVersion, Entries: make(map[string]entryDTO, len(entries))}
	for name, e := range entries {
		dto.Entries[name] = entryDTO{
			Method:      string(e.Method),
			Location:    e.Location,
			Version:     e.Version,
			Checksum:    e.Checksum,
			Destination: e.Destination,
			RunID:       e.RunID,
			InstalledAt: e.InstalledAt.Format(time.RFC3339),
		}
	}

	data, err := yaml.Marshal(&dto)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: creating state dir: %w", ErrSaveFailed, err)
	}
	if err := l.fs.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

func matches(e Entry, d plan.Descriptor) bool {
	return e.Method == d.Method &&
		e.Location == d.Location &&
		versionEqual(e.Version, d.Version) &&
		strings.EqualFold(e.Checksum, checksumOf(d)) &&
		filepath.Clean(e.Destination) == filepath.Clean(d.Destination)
}

// checksumOf returns the declared checksum in canonical algorithm:hash form.
func checksumOf(d plan.Descriptor) string {
	i, err := d.Integrity()
	if err != nil {
		return strings.ToLower(d.Checksum)
	}
	return i.String()
}

// versionEqual compares versions semantically when both parse as semver
// (with or without a leading "v"), and literally otherwise. Build metadata
// names a distinct flavour (2.5.1+cpu vs 2.5.1+cu121) and must match too.
func versionEqual(a, b string) bool {
	va, vb := canonical(a), canonical(b)
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb) == 0 && semver.Build(va) == semver.Build(vb)
	}
	return a == b
}

func canonical(v string) string {
	if v == "" || v[0] == 'v' {
		return v
	}
	return "v" + v
}

// Ensure Ledger implements installer.Ledger.
var _ installer.Ledger = (*Ledger)(nil)
