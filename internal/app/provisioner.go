// Package app wires the provisioning pipeline to real adapters and renders
// its results for the command line.
package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/adapters/command"
	"github.com/felixgeelhaar/provisioner/internal/adapters/filesystem"
	"github.com/felixgeelhaar/provisioner/internal/adapters/ledger"
	"github.com/felixgeelhaar/provisioner/internal/adapters/logging"
	"github.com/felixgeelhaar/provisioner/internal/domain/environment"
	"github.com/felixgeelhaar/provisioner/internal/domain/execution"
	"github.com/felixgeelhaar/provisioner/internal/domain/layout"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/fetch"
	"github.com/felixgeelhaar/provisioner/internal/installer"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// maxBackoff caps the interval between fetch retries.
const maxBackoff = 30 * time.Second

// subprocessEnv is added to every installer's environment so apt and dpkg
// diagnostics in failure reports are never localized.
var subprocessEnv = []string{"LC_ALL=C"}

// Provisioner is the application facade used by the CLI.
type Provisioner struct {
	out    io.Writer
	logger ports.Logger
	runner ports.CommandRunner
	fs     ports.FileSystem
	client *http.Client
	runIDs func() string
	euid   func() int
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger that receives transition records.
func WithLogger(l ports.Logger) Option {
	return func(p *Provisioner) { p.logger = l }
}

// WithRunner replaces the subprocess runner. By default a RealRunner using
// the plan's grace period is created for every run.
func WithRunner(r ports.CommandRunner) Option {
	return func(p *Provisioner) { p.runner = r }
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provisioner) { p.client = c }
}

// WithRunIDs sets the run id generator.
func WithRunIDs(fn func() string) Option {
	return func(p *Provisioner) { p.runIDs = fn }
}

// New creates a Provisioner writing human output to out.
func New(out io.Writer, opts ...Option) *Provisioner {
	p := &Provisioner{
		out:    out,
		logger: logging.NewNopLogger(),
		fs:     filesystem.NewRealFileSystem(),
		euid:   os.Geteuid,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Override adjusts plan settings after loading.
type Override func(*plan.Settings)

// WithWorkers overrides the worker count.
func WithWorkers(n int) Override {
	return func(s *plan.Settings) { s.Workers = n }
}

// WithRetries overrides the fetch retry count. Zero disables retries.
func WithRetries(n int) Override {
	return func(s *plan.Settings) {
		if n <= 0 {
			n = plan.NoRetries
		}
		s.Retries = n
	}
}

// WithTimeout overrides the run deadline.
func WithTimeout(d time.Duration) Override {
	return func(s *plan.Settings) { s.Timeout = d }
}

// WithFetchTimeout overrides the deadline of one download attempt.
func WithFetchTimeout(d time.Duration) Override {
	return func(s *plan.Settings) { s.FetchTimeout = d }
}

// WithGracePeriod overrides the SIGINT-to-kill delay.
func WithGracePeriod(d time.Duration) Override {
	return func(s *plan.Settings) { s.GracePeriod = d }
}

// WithCacheDir overrides the artifact cache directory.
func WithCacheDir(dir string) Override {
	return func(s *plan.Settings) { s.CacheDir = dir }
}

// WithCompatEnv toggles the CMAKE_PREFIX_PATH and LD_LIBRARY_PATH aliases.
func WithCompatEnv(enabled bool) Override {
	return func(s *plan.Settings) { s.CompatEnv = enabled }
}

// Load reads a plan file and applies overrides to its settings.
func (p *Provisioner) Load(path string, overrides ...Override) (*plan.Plan, error) {
	pl, err := plan.Load(path)
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return pl, nil
	}
	s := pl.Settings()
	for _, o := range overrides {
		o(&s)
	}
	return pl.WithSettings(s), nil
}

// Apply runs a plan against the host.
func (p *Provisioner) Apply(ctx context.Context, pl *plan.Plan) (*execution.Report, error) {
	if names := p.unprivileged(pl); len(names) > 0 {
		p.logger.Warn(ctx, "package manager descriptors need root; run as root or set sudo",
			ports.F("descriptors", strings.Join(names, ",")),
		)
	}

	o := p.orchestrator(pl.Settings())
	report, err := o.Run(ctx, pl)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// unprivileged returns the apt descriptors of pl that will fail for lack of
// privileges: the process is not root and sudo is off.
func (p *Provisioner) unprivileged(pl *plan.Plan) []string {
	if pl.Settings().Sudo || p.euid() == 0 {
		return nil
	}
	var names []string
	for _, d := range pl.Descriptors() {
		if d.Method.UsesPackageManager() {
			names = append(names, d.Name)
		}
	}
	return names
}

func (p *Provisioner) orchestrator(s plan.Settings) *execution.Orchestrator {
	runner := p.runner
	if runner == nil {
		runner = command.NewRealRunner(
			command.WithGracePeriod(s.GracePeriod),
			command.WithEnv(subprocessEnv...),
		)
	}
	l := ledger.New(s.StateDir, p.fs)

	registry := installer.NewDefaultRegistry(installer.Config{
		Runner:     runner,
		FileSystem: p.fs,
		Ledger:     l,
		Sudo:       s.Sudo,
		WorkDir:    s.WorkDir,
		KeyringDir: s.KeyringDir,
		SourcesDir: s.SourcesDir,
	})

	fetchOpts := []fetch.Option{
		fetch.WithRetries(s.RetryCount()),
		fetch.WithAttemptTimeout(s.FetchTimeout),
		fetch.WithBackoff(s.Backoff, maxBackoff),
		fetch.WithCacheDir(s.CacheDir),
		fetch.WithLogger(p.logger),
	}
	if p.client != nil {
		fetchOpts = append(fetchOpts, fetch.WithHTTPClient(p.client))
	}

	opts := []execution.Option{
		execution.WithLedger(l),
		execution.WithLogger(p.logger),
	}
	if p.runIDs != nil {
		opts = append(opts, execution.WithRunIDs(p.runIDs))
	}

	return execution.NewOrchestrator(registry, fetch.New(s.WorkDir, fetchOpts...), layout.NewManager(p.fs), opts...)
}

// EnvironmentResult is the environment composed from a previous run.
type EnvironmentResult struct {
	Environment environment.Environment
	Included    []string // descriptors whose recorded install matches the plan
	Missing     []string // descriptors with no matching install on record
}

// Environment composes the environment of a plan from the install ledger
// without fetching or installing anything. Package manager descriptors
// contribute nothing and are not reported as missing.
func (p *Provisioner) Environment(pl *plan.Plan) (*EnvironmentResult, error) {
	if err := pl.Validate(); err != nil {
		return nil, err
	}
	order, err := pl.Order()
	if err != nil {
		return nil, err
	}

	s := pl.Settings()
	l := ledger.New(s.StateDir, p.fs)
	lm := layout.NewManager(p.fs)

	res := &EnvironmentResult{}
	var contributions []layout.Contribution
	for _, d := range order {
		if !d.NeedsFetch() || d.Method == plan.MethodAptRepoBootstrap {
			continue
		}
		ok, err := l.Satisfies(d)
		if err != nil {
			return nil, fmt.Errorf("reading install ledger: %w", err)
		}
		if !ok {
			res.Missing = append(res.Missing, d.Name)
			continue
		}
		cs, err := lm.Contributions(d)
		if err != nil {
			res.Missing = append(res.Missing, d.Name)
			continue
		}
		contributions = append(contributions, cs...)
		res.Included = append(res.Included, d.Name)
	}

	res.Environment = environment.Compose(contributions, environment.Options{
		Separator: s.Separator,
		Compat:    s.CompatEnv,
	})
	return res, nil
}

// WriteEnvFile renders env to path atomically.
func (p *Provisioner) WriteEnvFile(path string, env environment.Environment, format environment.Format) error {
	var buf bytes.Buffer
	if err := environment.Render(&buf, env, format); err != nil {
		return err
	}
	if err := p.fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
