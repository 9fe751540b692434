package fetch

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
)

// Artifact is a fetched file. Path stays valid until Release.
type Artifact struct {
	Path     string
	Digest   string // hex digest under the declared (or default sha256) algorithm
	Attempts int    // download attempts, zero when served from cache
	Cached   bool

	req     Request
	scratch string // temp dir owned by this artifact, empty once released or committed
	once    sync.Once
	cache   string
}

// Verify checks the digest against the declared checksum. An undeclared
// checksum always verifies. Mismatch is an IntegrityError.
func (a *Artifact) Verify() error {
	if a.req.Checksum.IsZero() {
		return nil
	}
	if !a.req.Checksum.Matches(a.Digest) {
		return provision.NewIntegrityError(a.req.Location, a.req.Checksum.String(),
			a.req.Checksum.Algorithm()+":"+a.Digest)
	}
	return nil
}

// Commit moves a verified artifact into the content-addressed cache. It is a
// no-op without a cache directory, without a declared checksum, or for an
// artifact already served from cache.
func (a *Artifact) Commit() error {
	if a.Cached || a.cache == "" || a.req.Checksum.IsZero() || a.scratch == "" {
		return nil
	}

	dir := cacheEntryDir(a.cache, a.req.Checksum)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}
	final := filepath.Join(dir, a.req.fileName())
	if err := os.Rename(a.Path, final); err != nil {
		return fmt.Errorf("caching %s: %w", a.req.Location, err)
	}

	a.Path = final
	a.Cached = true
	a.Release()
	return nil
}

// Release removes the artifact's temp directory. Cached copies are kept.
// Safe to call more than once.
func (a *Artifact) Release() {
	a.once.Do(func() {
		if a.scratch != "" {
			_ = os.RemoveAll(a.scratch)
			a.scratch = ""
		}
	})
}

func cacheEntryDir(cacheDir string, sum plan.Integrity) string {
	return filepath.Join(cacheDir, sum.Algorithm(), sum.Hash())
}

// digestFile hashes path with the algorithm of sum.
func digestFile(path string, sum plan.Integrity) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // read-only

	h := sum.NewHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
