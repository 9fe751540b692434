package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// SelfInstaller runs a vendor installer non-interactively. The artifact is
// either the installer itself or an archive holding it at Installer (the
// AWS CLI bundle ships aws/install). The scratch copy is removed whatever
// the outcome.
type SelfInstaller struct {
	cmd     command
	fs      ports.FileSystem
	ledger  Ledger
	workDir string
}

// NewSelfInstaller creates the SelfInstaller strategy.
func NewSelfInstaller(cfg Config) *SelfInstaller {
	return &SelfInstaller{
		cmd:     command{runner: cfg.Runner, sudo: cfg.Sudo},
		fs:      cfg.FileSystem,
		ledger:  cfg.Ledger,
		workDir: cfg.WorkDir,
	}
}

// Method returns plan.MethodSelfInstaller.
func (s *SelfInstaller) Method() plan.Method { return plan.MethodSelfInstaller }

// NeedsFetch returns true.
func (s *SelfInstaller) NeedsFetch() bool { return true }

// Satisfied consults the install ledger and checks the destination exists.
func (s *SelfInstaller) Satisfied(_ context.Context, d plan.Descriptor) (bool, error) {
	return ledgerSatisfied(s.ledger, s.fs, d)
}

// Install prepares the installer in a scratch dir and runs it with the
// descriptor's expanded arguments.
func (s *SelfInstaller) Install(ctx context.Context, d plan.Descriptor, artifact string) error {
	if err := s.fs.MkdirAll(s.workDir, 0o755); err != nil {
		return provision.NewSubprocessError(d.Name+" installer", 0, "", fmt.Errorf("creating work dir: %w", err))
	}
	scratch, err := s.fs.MkdirTemp(s.workDir, "installer-"+d.Name+"-*")
	if err != nil {
		return provision.NewSubprocessError(d.Name+" installer", 0, "", fmt.Errorf("creating scratch dir: %w", err))
	}
	defer func() { _ = s.fs.RemoveAll(scratch) }()

	exe, err := s.prepare(ctx, d, artifact, scratch)
	if err != nil {
		return err
	}

	if _, err := s.cmd.run(ctx, exe, d.ExpandedArgs()...); err != nil {
		return err
	}
	return nil
}

// prepare returns the path of an executable installer inside scratch.
func (s *SelfInstaller) prepare(ctx context.Context, d plan.Descriptor, artifact, scratch string) (string, error) {
	if d.Installer == "" {
		exe := filepath.Join(scratch, filepath.Base(artifact))
		if err := copyExecutable(artifact, exe); err != nil {
			return "", provision.NewSubprocessError(exe, 0, "", err)
		}
		return exe, nil
	}

	unpacked := filepath.Join(scratch, "bundle")
	if err := s.fs.MkdirAll(unpacked, 0o755); err != nil {
		return "", provision.NewExtractionError(artifact, err)
	}
	if err := Extract(ctx, artifact, unpacked); err != nil {
		return "", err
	}

	exe := filepath.Join(unpacked, filepath.FromSlash(d.Installer))
	if !withinRoot(unpacked, exe) {
		return "", provision.NewExtractionError(artifact, fmt.Errorf("%w: installer %s", ErrUnsafeEntry, d.Installer))
	}
	fi, err := os.Stat(exe)
	if err != nil || fi.IsDir() {
		return "", provision.NewExtractionError(artifact, fmt.Errorf("installer %s not found in archive", d.Installer))
	}
	if fi.Mode().Perm()&0o100 == 0 {
		if err := os.Chmod(exe, fi.Mode().Perm()|0o755); err != nil {
			return "", provision.NewExtractionError(artifact, err)
		}
	}
	return exe, nil
}

func copyExecutable(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }() // read-only

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
