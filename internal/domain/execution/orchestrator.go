// Package execution drives a validated plan through fetch, install and
// layout, and reports the outcome of every descriptor.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/adapters/logging"
	"github.com/felixgeelhaar/provisioner/internal/domain/layout"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/fetch"
	"github.com/felixgeelhaar/provisioner/internal/installer"
	"github.com/felixgeelhaar/provisioner/internal/ports"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Downloader retrieves descriptor artifacts.
type Downloader interface {
	Download(ctx context.Context, req fetch.Request) (*fetch.Artifact, error)
}

// Recorder persists an install marker for a descriptor.
type Recorder interface {
	Record(d plan.Descriptor, runID string) error
}

// Orchestrator runs provisioning plans.
type Orchestrator struct {
	registry   *installer.Registry
	downloader Downloader
	layout     *layout.Manager
	ledger     Recorder
	logger     ports.Logger
	now        func() time.Time
	newRunID   func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLedger records successful installs of fetched descriptors.
func WithLedger(r Recorder) Option {
	return func(o *Orchestrator) { o.ledger = r }
}

// WithLogger sets the logger transitions are written to.
func WithLogger(l ports.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunIDs sets the run ID generator.
func WithRunIDs(gen func() string) Option {
	return func(o *Orchestrator) { o.newRunID = gen }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(registry *installer.Registry, downloader Downloader, lm *layout.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:   registry,
		downloader: downloader,
		layout:     lm,
		logger:     logging.NewNopLogger(),
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run validates p and provisions it. A ConfigurationError is returned before
// anything runs; every other failure is captured in the report. Cancelling
// ctx stops dispatching. In-flight descriptors see the cancellation and
// undispatched ones end failed with a CancelledError.
func (o *Orchestrator) Run(ctx context.Context, p *plan.Plan) (*Report, error) {
	runID := o.newRunID()
	run, err := provision.NewRunLifecycle(runID)
	if err != nil {
		return nil, err
	}
	defer run.Stop()

	if err := p.Validate(); err != nil {
		o.advance(ctx, run, runID, provision.EventAbort)
		return nil, err
	}

	settings := p.Settings()
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}

	s, err := o.newSchedule(ctx, p)
	if err != nil {
		o.advance(ctx, run, runID, provision.EventAbort)
		return nil, err
	}
	defer s.stop()

	o.advance(ctx, run, runID, provision.EventExecute)
	o.execute(ctx, s, settings.Workers, runID)

	o.advance(ctx, run, runID, provision.EventReport)
	report := newReport(runID, s, settings, ctx.Err() != nil)
	o.advance(ctx, run, runID, provision.EventFinish)

	o.logger.Info(ctx, "provisioning finished",
		ports.F("run_id", runID),
		ports.F("installed", report.Installed),
		ports.F("failed", report.Failed),
	)
	return report, nil
}

// execute dispatches each phase through a bounded worker pool. A phase
// starts only once every descriptor of the previous phase is terminal.
// Dispatch follows install order, so one worker gives a serial run in
// exactly that order.
func (o *Orchestrator) execute(ctx context.Context, s *schedule, workers int, runID string) {
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))

	for i, phase := range s.phases {
		var wg sync.WaitGroup
		for j, e := range phase {
			err := ctx.Err()
			if err == nil {
				err = sem.Acquire(ctx, 1)
			}
			if err != nil {
				wg.Wait()
				s.cancel(s.remaining(i, j), err)
				return
			}

			wg.Add(1)
			go func(e *entry) {
				defer wg.Done()
				defer sem.Release(1)
				o.provision(ctx, e, runID)
			}(e)
		}
		wg.Wait()
	}
}

// provision takes one descriptor from pending to a terminal state.
func (o *Orchestrator) provision(ctx context.Context, e *entry, runID string) {
	defer close(e.done)
	e.rec.Started = o.now()
	defer func() { e.rec.Finished = o.now() }()

	for _, req := range e.requires {
		if err := wait(ctx, req); err != nil {
			e.fail(provision.NewCancelledError(err))
			return
		}
		if !req.rec.Installed() {
			e.fail(provision.NewDependencyError(req.desc.Name))
			return
		}
	}
	if err := ctx.Err(); err != nil {
		e.fail(provision.NewCancelledError(err))
		return
	}

	strategy, err := o.registry.Get(e.desc.Method)
	if err != nil {
		e.fail(err)
		return
	}

	satisfied, err := strategy.Satisfied(ctx, e.desc)
	if err != nil {
		e.fail(err)
		return
	}
	if satisfied {
		e.rec.Reused = true
		o.complete(ctx, e, runID, false)
		return
	}

	var artifact string
	if strategy.NeedsFetch() {
		a, err := o.fetch(ctx, e)
		if err != nil {
			e.fail(err)
			return
		}
		defer a.Release()
		artifact = a.Path
	}

	// Installs into one parent directory happen in install order.
	if e.installAt != nil {
		if err := wait(ctx, e.installAt); err != nil {
			e.fail(provision.NewCancelledError(err))
			return
		}
	}

	if err := e.lc.Install(); err != nil {
		e.fail(err)
		return
	}
	if err := strategy.Install(ctx, e.desc, artifact); err != nil {
		e.fail(err)
		return
	}
	o.complete(ctx, e, runID, true)
}

// fetch downloads and verifies the artifact of e. The returned artifact is
// owned by the caller.
func (o *Orchestrator) fetch(ctx context.Context, e *entry) (*fetch.Artifact, error) {
	if err := e.lc.Fetch(); err != nil {
		return nil, err
	}
	req, err := fetch.RequestFor(e.desc)
	if err != nil {
		return nil, err
	}

	a, err := o.downloader.Download(ctx, req)
	if err != nil {
		return nil, err
	}
	e.rec.Attempts = a.Attempts

	if err := e.lc.Verify(); err != nil {
		a.Release()
		return nil, err
	}
	if err := a.Verify(); err != nil {
		a.Release()
		return nil, err
	}
	if err := a.Commit(); err != nil {
		o.logger.Warn(ctx, "caching artifact failed",
			ports.F("name", e.desc.Name),
			ports.Err(err),
		)
	}
	return a, nil
}

// complete resolves the layout of an installed descriptor and marks it
// installed.
func (o *Orchestrator) complete(ctx context.Context, e *entry, runID string, record bool) {
	cs, err := o.layout.Contributions(e.desc)
	if err != nil {
		e.fail(err)
		return
	}
	e.contributions = cs
	e.rec.Paths = o.layout.InstallPaths(e.desc)

	if record && o.ledger != nil && e.desc.NeedsFetch() {
		if err := o.ledger.Record(e.desc, runID); err != nil {
			o.logger.Warn(ctx, "recording install failed",
				ports.F("name", e.desc.Name),
				ports.Err(err),
			)
		}
	}

	if err := e.lc.Complete(); err != nil {
		e.fail(err)
	}
}

func (o *Orchestrator) advance(ctx context.Context, run *provision.RunLifecycle, runID, event string) {
	from, to, err := run.Advance(event)
	if err != nil {
		o.logger.Error(ctx, "run transition rejected", ports.F("run_id", runID), ports.Err(err))
		return
	}
	o.logger.Debug(ctx, "run transition",
		ports.F("run_id", runID),
		ports.F("from", string(from)),
		ports.F("to", string(to)),
		ports.F("at", o.now().UTC().Format(time.RFC3339Nano)),
	)
}

// wait blocks until e is terminal or ctx ends.
func wait(ctx context.Context, e *entry) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attribute ties err to the named descriptor.
func attribute(name string, err error) error {
	var pe *provision.Error
	if errors.As(err, &pe) {
		if pe.Descriptor != "" {
			return err
		}
		if err == error(pe) {
			return pe.WithDescriptor(name)
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
