// Package fetch retrieves descriptor artifacts over http(s) or from local
// paths into the work directory, with retry, checksum verification and an
// optional content-addressed cache.
package fetch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/felixgeelhaar/provisioner/internal/adapters/logging"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// Defaults.
const (
	DefaultRetries    = 3
	DefaultBackoff    = time.Second
	DefaultMaxBackoff = 30 * time.Second
)

// Request describes one artifact to fetch.
type Request struct {
	Name     string // descriptor name, for logs
	Location string // http(s) URL, file URL, or absolute path
	FileName string // artifact file name, defaults to the location's base name
	Checksum plan.Integrity
}

// RequestFor builds the request for a descriptor.
func RequestFor(d plan.Descriptor) (Request, error) {
	sum, err := d.Integrity()
	if err != nil {
		return Request{}, err
	}
	return Request{
		Name:     d.Name,
		Location: d.Location,
		FileName: d.ArtifactName(),
		Checksum: sum,
	}, nil
}

func (r Request) fileName() string {
	if r.FileName != "" {
		return r.FileName
	}
	return plan.Descriptor{Name: r.Name, Location: r.Location}.ArtifactName()
}

// Fetcher downloads artifacts.
type Fetcher struct {
	client     *http.Client
	workDir    string
	cacheDir   string
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	perAttempt time.Duration
	logger     ports.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithCacheDir enables the content-addressed artifact cache.
func WithCacheDir(dir string) Option {
	return func(f *Fetcher) { f.cacheDir = dir }
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(f *Fetcher) {
		if n >= 0 {
			f.retries = n
		}
	}
}

// WithBackoff sets the initial and maximum retry intervals.
func WithBackoff(initial, max time.Duration) Option {
	return func(f *Fetcher) {
		if initial > 0 {
			f.backoff = initial
		}
		if max > 0 {
			f.maxBackoff = max
		}
	}
}

// WithAttemptTimeout bounds every download attempt. An attempt that runs
// out of time is retried like any other transient failure.
func WithAttemptTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.perAttempt = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher that stages downloads under workDir.
func New(workDir string, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:     http.DefaultClient,
		workDir:    workDir,
		retries:    DefaultRetries,
		backoff:    DefaultBackoff,
		maxBackoff: DefaultMaxBackoff,
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.maxBackoff < f.backoff {
		f.maxBackoff = f.backoff
	}
	return f
}

// Download retrieves the artifact into a fresh temp directory, or returns a
// verified cached copy. The caller must Release the artifact.
func (f *Fetcher) Download(ctx context.Context, req Request) (*Artifact, error) {
	if cached, ok := f.lookupCache(ctx, req); ok {
		return cached, nil
	}

	if err := os.MkdirAll(f.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	scratch, err := os.MkdirTemp(f.workDir, "fetch-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	a := &Artifact{
		Path:    filepath.Join(scratch, req.fileName()),
		req:     req,
		scratch: scratch,
		cache:   f.cacheDir,
	}

	log := f.logger.With(ports.F("name", req.Name))
	h := req.Checksum.NewHash()
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		a.Attempts++
		attemptErr := f.attemptWithDeadline(ctx, req.Location, a.Path, h)
		if attemptErr != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return classify(attemptErr)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn(ctx, "fetch attempt failed, retrying",
			ports.F("location", req.Location),
			ports.F("attempt", a.Attempts),
			ports.F("wait", wait.String()),
			ports.Err(err),
		)
	}

	err = backoff.RetryNotify(op, backoff.WithContext(f.policy(), ctx), notify)
	if err != nil {
		a.Release()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, provision.NewCancelledError(ctxErr)
		}
		return nil, provision.NewNetworkError(req.Location, a.Attempts, err)
	}

	a.Digest = hex.EncodeToString(h.Sum(nil))
	log.Debug(ctx, "fetched artifact",
		ports.F("path", a.Path),
		ports.F("attempts", a.Attempts),
	)
	return a, nil
}

func (f *Fetcher) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.backoff
	b.MaxInterval = f.maxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(f.retries))
}

func (f *Fetcher) attemptWithDeadline(ctx context.Context, location, dst string, h hash.Hash) error {
	if f.perAttempt <= 0 {
		return f.attempt(ctx, location, dst, h)
	}
	ctx, cancel := context.WithTimeout(ctx, f.perAttempt)
	defer cancel()
	return f.attempt(ctx, location, dst, h)
}

// attempt performs one download into dst, replacing any partial content.
func (f *Fetcher) attempt(ctx context.Context, location, dst string, h hash.Hash) (err error) {
	h.Reset()

	src, err := f.open(ctx, location)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }() // read-only

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(io.MultiWriter(out, h), src); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("reading %s: %w", location, err)
	}
	return nil
}

func (f *Fetcher) open(ctx context.Context, location string) (io.ReadCloser, error) {
	if filepath.IsAbs(location) {
		return os.Open(location)
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "file":
		return os.Open(u.Path)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, http.NoBody)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, &StatusError{URL: redact(u), Code: resp.StatusCode}
		}
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("unsupported location scheme %q", u.Scheme)
	}
}

// lookupCache returns a cached artifact whose digest still matches. A
// corrupted entry is removed.
func (f *Fetcher) lookupCache(ctx context.Context, req Request) (*Artifact, bool) {
	if f.cacheDir == "" || req.Checksum.IsZero() {
		return nil, false
	}

	path := filepath.Join(cacheEntryDir(f.cacheDir, req.Checksum), req.fileName())
	digest, err := digestFile(path, req.Checksum)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn(ctx, "cache entry unreadable", ports.F("path", path), ports.Err(err))
		}
		return nil, false
	}
	if !req.Checksum.Matches(digest) {
		f.logger.Warn(ctx, "discarding corrupt cache entry", ports.F("path", path))
		_ = os.RemoveAll(filepath.Dir(path))
		return nil, false
	}

	f.logger.Debug(ctx, "using cached artifact", ports.F("name", req.Name), ports.F("path", path))
	return &Artifact{Path: path, Digest: digest, Cached: true, req: req, cache: f.cacheDir}, true
}

func redact(u *url.URL) string {
	cp := *u
	cp.User = nil
	cp.RawQuery = ""
	return cp.String()
}
