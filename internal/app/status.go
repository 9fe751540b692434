package app

import (
	"fmt"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/adapters/ledger"
	"github.com/felixgeelhaar/provisioner/internal/domain/plan"
)

// InstallState is what the install ledger says about one descriptor.
type InstallState string

// Install states.
const (
	StateInstalled InstallState = "installed"
	StateOutdated  InstallState = "outdated"
	StateMissing   InstallState = "not installed"
)

// DescriptorStatus pairs a fetched descriptor with its ledger entry.
type DescriptorStatus struct {
	Name     string
	Method   plan.Method
	Version  string // declared
	State    InstallState
	Recorded *ledger.Entry // nil when never installed
}

// StatusResult is the ledger view of a plan.
type StatusResult struct {
	Ledger      string
	Descriptors []DescriptorStatus

	// Orphaned are entries for descriptors the plan no longer declares.
	Orphaned []ledger.Entry
}

// Outdated reports whether any descriptor needs an apply to match the plan.
func (r *StatusResult) Outdated() bool {
	for _, d := range r.Descriptors {
		if d.State != StateInstalled {
			return true
		}
	}
	return false
}

// Status reads the install ledger and classifies every fetched descriptor
// of pl. An entry whose location, version, checksum or destination differs
// from the plan, or whose destination is gone, is outdated. Package manager
// descriptors are checked by dpkg at apply time and are not listed.
func (p *Provisioner) Status(pl *plan.Plan) (*StatusResult, error) {
	if err := pl.Validate(); err != nil {
		return nil, err
	}
	order, err := pl.Order()
	if err != nil {
		return nil, err
	}

	l := ledger.New(pl.Settings().StateDir, p.fs)
	res := &StatusResult{Ledger: l.Path()}

	for _, d := range order {
		if !d.NeedsFetch() {
			continue
		}
		st := DescriptorStatus{Name: d.Name, Method: d.Method, Version: d.Version, State: StateMissing}

		e, found, err := l.Lookup(d.Name)
		if err != nil {
			return nil, fmt.Errorf("reading install ledger: %w", err)
		}
		if found {
			st.Recorded = &e
			st.State = StateOutdated
			ok, err := l.Satisfies(d)
			if err != nil {
				return nil, fmt.Errorf("reading install ledger: %w", err)
			}
			if ok && (d.Destination == "" || p.fs.IsDir(d.Destination)) {
				st.State = StateInstalled
			}
		}
		res.Descriptors = append(res.Descriptors, st)
	}

	entries, err := l.Entries()
	if err != nil {
		return nil, fmt.Errorf("reading install ledger: %w", err)
	}
	for _, e := range entries {
		if _, ok := pl.Lookup(e.Name); !ok {
			res.Orphaned = append(res.Orphaned, e)
		}
	}
	return res, nil
}

// PrintStatus renders a StatusResult.
func (p *Provisioner) PrintStatus(r *StatusResult) {
	p.printf("%s %s\n\n", titleStyle.Render("Install ledger"), mutedStyle.Render(r.Ledger))

	width := 0
	for _, d := range r.Descriptors {
		width = max(width, len(d.Name))
	}
	for _, d := range r.Descriptors {
		p.printf("  %s %-*s  %s%s\n", stateIcon(d.State), width, d.Name, labelCaser.String(string(d.State)), recordedDetail(d))
	}

	if len(r.Orphaned) > 0 {
		p.printf("\n%s\n", mutedStyle.Render("Recorded but no longer in the plan:"))
		for _, e := range r.Orphaned {
			p.printf("  %s %s\n", e.Name, mutedStyle.Render(e.Destination))
		}
	}
}

func stateIcon(s InstallState) string {
	switch s {
	case StateInstalled:
		return successStyle.Render("✓")
	case StateOutdated:
		return errorStyle.Render("!")
	}
	return mutedStyle.Render("·")
}

func recordedDetail(d DescriptorStatus) string {
	if d.Recorded == nil {
		return ""
	}
	detail := " (run " + d.Recorded.RunID + ", " + d.Recorded.InstalledAt.Format(time.DateTime) + ")"
	if d.State == StateOutdated && d.Recorded.Version != d.Version {
		detail = fmt.Sprintf(" (recorded %s, declared %s)", orNone(d.Recorded.Version), orNone(d.Version))
	}
	return mutedStyle.Render(detail)
}

func orNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
