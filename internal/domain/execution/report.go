package execution

import (
	"github.com/felixgeelhaar/provisioner/internal/domain/environment"
	"github.com/felixgeelhaar/provisioner/internal/domain/layout"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitConfiguration = 1
	ExitFailed        = 2
)

// Report is the outcome of one provisioning run.
type Report struct {
	RunID         string
	Records       []provision.Record // in install order
	Contributions []layout.Contribution
	Environment   environment.Environment
	Installed     int
	Failed        int
	Cancelled     bool
}

// newReport aggregates contributions once every descriptor is terminal.
// Contributions follow install order, not completion order, so the composed
// environment is the same for any worker count.
func newReport(runID string, s *schedule, settings plan.Settings, cancelled bool) *Report {
	r := &Report{RunID: runID, Cancelled: cancelled}
	for _, e := range s.order {
		r.Records = append(r.Records, e.rec.Clone())
		switch {
		case e.rec.Installed():
			r.Installed++
			r.Contributions = append(r.Contributions, e.contributions...)
		case e.rec.Failed():
			r.Failed++
		}
	}
	r.Environment = environment.Compose(r.Contributions, environment.Options{
		Separator: settings.Separator,
		Compat:    settings.CompatEnv,
	})
	return r
}

// ExitCode maps the report to a process exit code.
func (r *Report) ExitCode() int {
	if r.Failed > 0 || r.Installed < len(r.Records) {
		return ExitFailed
	}
	return ExitOK
}

// Success reports whether every descriptor ended installed.
func (r *Report) Success() bool {
	return r.ExitCode() == ExitOK
}

// Record returns the record of the named descriptor.
func (r *Report) Record(name string) (provision.Record, bool) {
	for _, rec := range r.Records {
		if rec.Name == name {
			return rec, true
		}
	}
	return provision.Record{}, false
}

// Failures returns the failed records in install order.
func (r *Report) Failures() []provision.Record {
	var out []provision.Record
	for _, rec := range r.Records {
		if rec.Failed() {
			out = append(out, rec)
		}
	}
	return out
}
