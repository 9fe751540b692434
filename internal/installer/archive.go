package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// RenameAny unwraps whatever single top-level directory the archive has.
const RenameAny = "*"

// ArchiveExtract unpacks a fetched archive into its destination.
//
// Extraction happens in a staging directory next to the destination, so the
// final move is a same-filesystem rename. With Rename set, the archive must
// hold exactly one top-level directory of that name (or any name for "*"),
// and that directory becomes the destination.
type ArchiveExtract struct {
	fs     ports.FileSystem
	ledger Ledger
}

// NewArchiveExtract creates the ArchiveExtract strategy.
func NewArchiveExtract(fs ports.FileSystem, ledger Ledger) *ArchiveExtract {
	return &ArchiveExtract{fs: fs, ledger: ledger}
}

// Method returns plan.MethodArchiveExtract.
func (s *ArchiveExtract) Method() plan.Method { return plan.MethodArchiveExtract }

// NeedsFetch returns true.
func (s *ArchiveExtract) NeedsFetch() bool { return true }

// Satisfied consults the install ledger and checks the destination exists.
func (s *ArchiveExtract) Satisfied(_ context.Context, d plan.Descriptor) (bool, error) {
	return ledgerSatisfied(s.ledger, s.fs, d)
}

// Install extracts artifact and moves the result to d.Destination,
// replacing a previous install. Staging is removed on every path.
func (s *ArchiveExtract) Install(ctx context.Context, d plan.Descriptor, artifact string) error {
	return installTree(ctx, s.fs, d.Destination, func(staging string) (string, error) {
		if err := Extract(ctx, artifact, staging); err != nil {
			return "", err
		}
		if d.Rename == "" {
			return staging, nil
		}
		root, err := topLevelDir(staging, d.Rename)
		if err != nil {
			return "", provision.NewExtractionError(artifact, err)
		}
		return root, nil
	})
}

// installTree builds a tree in a staging dir beside dest and renames it into
// place through fs. build returns the directory that becomes dest.
func installTree(ctx context.Context, fs ports.FileSystem, dest string, build func(staging string) (string, error)) error {
	parent := filepath.Dir(dest)
	if err := fs.MkdirAll(parent, 0o755); err != nil {
		return provision.NewExtractionError(dest, fmt.Errorf("creating %s: %w", parent, err))
	}

	staging, err := fs.MkdirTemp(parent, "."+filepath.Base(dest)+".staging-*")
	if err != nil {
		return provision.NewExtractionError(dest, fmt.Errorf("creating staging dir: %w", err))
	}
	defer func() { _ = fs.RemoveAll(staging) }()

	root, err := build(staging)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return provision.NewCancelledError(err)
	}

	// Move any previous install aside so the swap leaves either the old or
	// the new tree in place.
	var previous string
	if fs.Exists(dest) {
		previous = staging + ".previous"
		if err := fs.Rename(dest, previous); err != nil {
			return provision.NewExtractionError(dest, fmt.Errorf("moving previous install aside: %w", err))
		}
	}

	if err := fs.Rename(root, dest); err != nil {
		if previous != "" {
			_ = fs.Rename(previous, dest)
		}
		return provision.NewExtractionError(dest, fmt.Errorf("moving into place: %w", err))
	}
	if previous != "" {
		_ = fs.RemoveAll(previous)
	}
	return nil
}

// topLevelDir returns the single top-level directory of an extracted tree.
func topLevelDir(staging, want string) (string, error) {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", fmt.Errorf("expected a single top-level directory, found %d entries", len(entries))
	}
	name := entries[0].Name()
	if want != RenameAny && name != want {
		return "", fmt.Errorf("expected top-level directory %q, found %q", want, name)
	}
	return filepath.Join(staging, name), nil
}
