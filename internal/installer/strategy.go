// Package installer implements the per-method install strategies and the
// registry the orchestrator dispatches through.
package installer

import (
	"context"
	"fmt"
	"sort"

	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// Strategy installs descriptors of one method.
type Strategy interface {
	Method() plan.Method

	// NeedsFetch reports whether Install expects a fetched artifact.
	NeedsFetch() bool

	// Satisfied reports whether the descriptor is already installed, in
	// which case neither fetch nor install runs.
	Satisfied(ctx context.Context, d plan.Descriptor) (bool, error)

	// Install installs d. artifact is the fetched file, empty when
	// NeedsFetch is false.
	Install(ctx context.Context, d plan.Descriptor, artifact string) error
}

// Ledger answers whether a fetched descriptor was already installed with
// the same location, version and checksum.
type Ledger interface {
	Satisfies(d plan.Descriptor) (bool, error)
}

// Registry maps methods to strategies.
type Registry struct {
	strategies map[plan.Method]Strategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[plan.Method]Strategy, len(strategies))}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the strategy for its method.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Method()] = s
}

// Get returns the strategy for m.
func (r *Registry) Get(m plan.Method) (Strategy, error) {
	s, ok := r.strategies[m]
	if !ok {
		return nil, fmt.Errorf("no installer registered for method %q (registered: %v)", m, r.Methods())
	}
	return s, nil
}

// Methods returns the registered methods, sorted.
func (r *Registry) Methods() []plan.Method {
	out := make([]plan.Method, 0, len(r.strategies))
	for m := range r.strategies {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Config wires the default strategies.
type Config struct {
	Runner     ports.CommandRunner
	FileSystem ports.FileSystem
	Ledger     Ledger
	Lock       *PackageManagerLock // shared by apt strategies; created when nil
	Sudo       bool
	WorkDir    string
	KeyringDir string
	SourcesDir string
}

// NewDefaultRegistry builds a registry with all four strategies sharing one
// package manager lock.
func NewDefaultRegistry(cfg Config) *Registry {
	if cfg.Lock == nil {
		cfg.Lock = NewPackageManagerLock()
	}
	return NewRegistry(
		NewAptPackage(cfg.Runner, cfg.Lock, cfg.Sudo),
		NewAptRepoBootstrap(cfg),
		NewArchiveExtract(cfg.FileSystem, cfg.Ledger),
		NewSelfInstaller(cfg),
	)
}

// ledgerSatisfied is the shared idempotency check for fetched methods: the
// ledger matches and the destination, when declared, still exists.
func ledgerSatisfied(ledger Ledger, fs ports.FileSystem, d plan.Descriptor) (bool, error) {
	if ledger == nil {
		return false, nil
	}
	ok, err := ledger.Satisfies(d)
	if err != nil || !ok {
		return false, err
	}
	if d.Destination != "" && fs != nil && !fs.IsDir(d.Destination) {
		return false, nil
	}
	return true, nil
}
