package installer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// AptRepoBootstrap registers an apt repository and refreshes the package
// index. Registration and refresh form one unit: when the refresh fails the
// registration is rolled back and the bootstrap fails.
//
// Two variants exist. The default installs a fetched registration .deb
// (apache-arrow-apt-source and friends). The signed variant, selected by a
// Repository line, installs the fetched signing key into the keyring dir and
// writes a sources entry pinned to it with signed-by.
type AptRepoBootstrap struct {
	cmd        command
	lock       *PackageManagerLock
	fs         ports.FileSystem
	ledger     Ledger
	workDir    string
	keyringDir string
	sourcesDir string
}

// NewAptRepoBootstrap creates the AptRepoBootstrap strategy.
func NewAptRepoBootstrap(cfg Config) *AptRepoBootstrap {
	lock := cfg.Lock
	if lock == nil {
		lock = NewPackageManagerLock()
	}
	return &AptRepoBootstrap{
		cmd:        command{runner: cfg.Runner, sudo: cfg.Sudo},
		lock:       lock,
		fs:         cfg.FileSystem,
		ledger:     cfg.Ledger,
		workDir:    cfg.WorkDir,
		keyringDir: cfg.KeyringDir,
		sourcesDir: cfg.SourcesDir,
	}
}

// Method returns plan.MethodAptRepoBootstrap.
func (s *AptRepoBootstrap) Method() plan.Method { return plan.MethodAptRepoBootstrap }

// NeedsFetch returns true.
func (s *AptRepoBootstrap) NeedsFetch() bool { return true }

// Satisfied consults the install ledger. For the signed variant the sources
// entry must also still exist.
func (s *AptRepoBootstrap) Satisfied(_ context.Context, d plan.Descriptor) (bool, error) {
	ok, err := ledgerSatisfied(s.ledger, s.fs, d)
	if err != nil || !ok {
		return false, err
	}
	if d.SignedRepository() && s.fs != nil && !s.fs.Exists(s.sourcesPath(d)) {
		return false, nil
	}
	return true, nil
}

// Install registers the repository and refreshes the index while holding the
// package manager lock for the whole unit.
func (s *AptRepoBootstrap) Install(ctx context.Context, d plan.Descriptor, artifact string) error {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return provision.NewCancelledError(err)
	}
	defer release()

	var rollback func()
	if d.SignedRepository() {
		rollback, err = s.registerSigned(ctx, d, artifact)
	} else {
		rollback, err = s.registerPackage(ctx, artifact)
	}
	if err != nil {
		return err
	}

	name, args := aptEnv("update")
	if _, err := s.cmd.run(ctx, name, args...); err != nil {
		rollback()
		return err
	}
	return nil
}

// registerPackage installs a registration .deb. The package name is read
// first so that a failed refresh can purge it again.
func (s *AptRepoBootstrap) registerPackage(ctx context.Context, artifact string) (func(), error) {
	res, err := s.cmd.query(ctx, "dpkg-deb", "--field", artifact, "Package")
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, provision.NewSubprocessError("dpkg-deb --field "+artifact+" Package", res.ExitCode, res.Diagnostics(), nil)
	}
	pkg := strings.TrimSpace(res.Stdout)

	name, args := aptEnv("install", "-y", artifact)
	if _, err := s.cmd.run(ctx, name, args...); err != nil {
		return nil, err
	}

	return func() {
		// Rollback runs even when ctx is already cancelled.
		name, args := aptEnv("purge", "-y", pkg)
		_, _ = s.cmd.run(context.WithoutCancel(ctx), name, args...)
	}, nil
}

// registerSigned installs the key and a signed-by sources entry.
func (s *AptRepoBootstrap) registerSigned(ctx context.Context, d plan.Descriptor, artifact string) (func(), error) {
	keyring := s.keyringPath(d)
	sources := s.sourcesPath(d)

	if _, err := s.cmd.run(ctx, "install", "-D", "-m", "0644", artifact, keyring); err != nil {
		return nil, err
	}
	removeKey := func() {
		_, _ = s.cmd.run(context.WithoutCancel(ctx), "rm", "-f", keyring)
	}

	entry, err := s.writeSourcesEntry(d, keyring)
	if err != nil {
		removeKey()
		return nil, err
	}
	defer func() { _ = s.fs.RemoveAll(filepath.Dir(entry)) }()

	if _, err := s.cmd.run(ctx, "install", "-D", "-m", "0644", entry, sources); err != nil {
		removeKey()
		return nil, err
	}

	return func() {
		_, _ = s.cmd.run(context.WithoutCancel(ctx), "rm", "-f", sources, keyring)
	}, nil
}

// writeSourcesEntry stages the sources line in a scratch dir under the work
// dir and returns its path.
func (s *AptRepoBootstrap) writeSourcesEntry(d plan.Descriptor, keyring string) (string, error) {
	if err := s.fs.MkdirAll(s.workDir, 0o755); err != nil {
		return "", fmt.Errorf("creating work dir: %w", err)
	}
	scratch, err := s.fs.MkdirTemp(s.workDir, "sources-"+d.Name+"-*")
	if err != nil {
		return "", fmt.Errorf("staging sources entry: %w", err)
	}
	entry := filepath.Join(scratch, d.Name+".list")
	if err := s.fs.WriteFile(entry, []byte(SignedSourcesLine(d.Repository, keyring)+"\n"), 0o644); err != nil {
		_ = s.fs.RemoveAll(scratch)
		return "", fmt.Errorf("staging sources entry: %w", err)
	}
	return entry, nil
}

func (s *AptRepoBootstrap) keyringPath(d plan.Descriptor) string {
	if d.Keyring != "" {
		return d.Keyring
	}
	return filepath.Join(s.keyringDir, d.Name+".gpg")
}

func (s *AptRepoBootstrap) sourcesPath(d plan.Descriptor) string {
	return filepath.Join(s.sourcesDir, d.Name+".list")
}

// SignedSourcesLine pins a one-line sources entry to keyring with signed-by,
// merging into an existing option block.
func SignedSourcesLine(line, keyring string) string {
	kind, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	opt := "signed-by=" + keyring

	if strings.HasPrefix(rest, "[") {
		if end := strings.Index(rest, "]"); end > 0 {
			opts := strings.Fields(rest[1:end])
			kept := opts[:0]
			for _, o := range opts {
				if !strings.HasPrefix(o, "signed-by=") {
					kept = append(kept, o)
				}
			}
			kept = append(kept, opt)
			return fmt.Sprintf("%s [%s] %s", kind, strings.Join(kept, " "), strings.TrimSpace(rest[end+1:]))
		}
	}
	return fmt.Sprintf("%s [%s] %s", kind, opt, rest)
}
