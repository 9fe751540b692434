package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/domain/layout"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// entry is the live state of one descriptor during a run. Only the worker
// that owns it writes to it; readers wait on done first.
type entry struct {
	desc          plan.Descriptor
	rec           provision.Record
	lc            *provision.Lifecycle
	err           error
	contributions []layout.Contribution

	requires  []*entry
	installAt *entry // previous install into the same parent directory

	done chan struct{} // closed once the descriptor is terminal
}

// fail records err and moves the descriptor to failed.
func (e *entry) fail(err error) {
	if e.terminal() {
		return
	}
	e.err = attribute(e.desc.Name, err)
	e.rec.Err = e.err
	_ = e.lc.Fail()
}

func (e *entry) terminal() bool {
	return e.rec.State.IsTerminal()
}

// schedule groups a validated plan into phases of entries in install order.
type schedule struct {
	order  []*entry
	phases [][]*entry
}

func (o *Orchestrator) newSchedule(ctx context.Context, p *plan.Plan) (*schedule, error) {
	phases, err := p.Phases()
	if err != nil {
		return nil, err
	}

	s := &schedule{}
	byName := make(map[string]*entry, p.Len())
	lastInDir := make(map[string]*entry)

	for _, phase := range phases {
		entries := make([]*entry, 0, len(phase))
		for _, d := range phase {
			e := &entry{
				desc: d,
				rec:  provision.NewRecord(d.Name, d.Method.String(), len(s.order)),
				done: make(chan struct{}),
			}

			lc, err := provision.NewLifecycle(d.Name, o.transitionLogger(ctx, e))
			if err != nil {
				s.stop()
				return nil, err
			}
			e.lc = lc

			for _, name := range d.Requires {
				req, ok := byName[name]
				if !ok {
					s.stop()
					return nil, fmt.Errorf("%s: %w: %s", d.Name, plan.ErrUnknownRequirement, name)
				}
				e.requires = append(e.requires, req)
			}
			if d.Destination != "" {
				parent := filepath.Dir(d.Destination)
				e.installAt = lastInDir[parent]
				lastInDir[parent] = e
			}

			byName[d.Name] = e
			s.order = append(s.order, e)
			entries = append(entries, e)
		}
		s.phases = append(s.phases, entries)
	}
	return s, nil
}

// cancel fails every entry that was never dispatched.
func (s *schedule) cancel(entries []*entry, cause error) {
	for _, e := range entries {
		if e.terminal() {
			continue
		}
		e.fail(provision.NewCancelledError(cause))
		close(e.done)
	}
}

// remaining returns the entries from phase i, index j onwards.
func (s *schedule) remaining(i, j int) []*entry {
	out := append([]*entry(nil), s.phases[i][j:]...)
	for _, phase := range s.phases[i+1:] {
		out = append(out, phase...)
	}
	return out
}

func (s *schedule) stop() {
	for _, e := range s.order {
		if e.lc != nil {
			e.lc.Stop()
		}
	}
}

// transitionLogger keeps the record state in step with the lifecycle and
// emits one log record per transition.
func (o *Orchestrator) transitionLogger(ctx context.Context, e *entry) provision.TransitionFunc {
	return func(from, to provision.State) {
		e.rec.State = to

		fields := []ports.Field{
			ports.F("name", e.desc.Name),
			ports.F("from", string(from)),
			ports.F("to", string(to)),
			ports.F("at", o.now().UTC().Format(time.RFC3339Nano)),
			ports.Err(e.err),
		}
		if to == provision.StateFailed {
			o.logger.Error(ctx, "descriptor transition", fields...)
			return
		}
		o.logger.Info(ctx, "descriptor transition", fields...)
	}
}
