package provision

import "time"

// Status is the coarse, report-level view of a descriptor's lifecycle.
type Status string

// Install record statuses.
const (
	StatusPending   Status = "pending"
	StatusFetched   Status = "fetched"
	StatusInstalled Status = "installed"
	StatusFailed    Status = "failed"
)

// StatusFor maps a lifecycle state to its record status.
func StatusFor(s State) Status {
	switch s {
	case StateVerifying, StateInstalling:
		return StatusFetched
	case StateInstalled:
		return StatusInstalled
	case StateFailed:
		return StatusFailed
	case StatePending, StateFetching:
		return StatusPending
	}
	return StatusPending
}

// Record is the outcome of provisioning one descriptor. The orchestrator
// owns the live record; callers only ever see copies.
type Record struct {
	Name     string
	Method   string
	Position int // index in the plan's install order
	State    State
	Paths    []string // resolved install paths
	Err      error
	Attempts int  // fetch attempts made
	Reused   bool // satisfied without fetching or installing
	Started  time.Time
	Finished time.Time
}

// NewRecord creates a pending record.
func NewRecord(name, method string, position int) Record {
	return Record{
		Name:     name,
		Method:   method,
		Position: position,
		State:    StatePending,
	}
}

// Status returns the record status.
func (r Record) Status() Status {
	return StatusFor(r.State)
}

// Installed reports whether the descriptor ended installed.
func (r Record) Installed() bool {
	return r.State == StateInstalled
}

// Failed reports whether the descriptor ended failed.
func (r Record) Failed() bool {
	return r.State == StateFailed
}

// Kind returns the failure kind, empty unless failed.
func (r Record) Kind() Kind {
	return KindOf(r.Err)
}

// Diagnostics returns captured subprocess output for a failed record.
func (r Record) Diagnostics() string {
	return DiagnosticsOf(r.Err)
}

// Duration returns how long the descriptor took.
func (r Record) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.Paths = append([]string(nil), r.Paths...)
	return r
}
