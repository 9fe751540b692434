package plan

import (
	"os"
	"path/filepath"
	"time"
)

// NoRetries is the Retries value that disables fetch retries. A zero
// Retries means unset and takes the default.
const NoRetries = -1

// Settings are the run-wide knobs of a plan. CLI flags override them.
type Settings struct {
	Prefix       string        // base for relative destinations
	WorkDir      string        // temp artifacts and staging
	CacheDir     string        // verified artifact cache, empty disables it
	StateDir     string        // install ledger
	KeyringDir   string        // signed apt repository keys
	SourcesDir   string        // apt sources.list.d
	Workers      int           // concurrent descriptors per phase
	Retries      int           // fetch retries after the first attempt, NoRetries for none
	Backoff      time.Duration // initial retry interval
	FetchTimeout time.Duration // deadline of one download attempt
	Timeout      time.Duration // whole-run deadline, zero for none
	GracePeriod  time.Duration // SIGINT-to-kill delay on cancellation
	Separator    string        // search path separator
	Sudo         bool          // prefix apt/dpkg with sudo
	CompatEnv    bool          // also emit CMAKE_PREFIX_PATH and LD_LIBRARY_PATH
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Prefix:       "/opt",
		WorkDir:      filepath.Join(os.TempDir(), "provisioner"),
		StateDir:     "/var/lib/provisioner",
		KeyringDir:   "/etc/apt/keyrings",
		SourcesDir:   "/etc/apt/sources.list.d",
		Workers:      4,
		Retries:      3,
		Backoff:      time.Second,
		FetchTimeout: 30 * time.Minute,
		GracePeriod:  10 * time.Second,
		Separator:    ":",
	}
}

// normalize fills zero values from the defaults and maps negative Retries to
// NoRetries. Timeout, CacheDir, Sudo and CompatEnv keep their zero values.
func (s Settings) normalize() Settings {
	def := DefaultSettings()
	if s.Prefix == "" {
		s.Prefix = def.Prefix
	}
	if s.WorkDir == "" {
		s.WorkDir = def.WorkDir
	}
	if s.StateDir == "" {
		s.StateDir = def.StateDir
	}
	if s.KeyringDir == "" {
		s.KeyringDir = def.KeyringDir
	}
	if s.SourcesDir == "" {
		s.SourcesDir = def.SourcesDir
	}
	if s.Workers <= 0 {
		s.Workers = def.Workers
	}
	if s.Retries == 0 {
		s.Retries = def.Retries
	} else if s.Retries < 0 {
		s.Retries = NoRetries
	}
	if s.Backoff <= 0 {
		s.Backoff = def.Backoff
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = def.FetchTimeout
	}
	if s.GracePeriod <= 0 {
		s.GracePeriod = def.GracePeriod
	}
	if s.Separator == "" {
		s.Separator = def.Separator
	}
	return s
}

// RetryCount is the number of fetch retries after the first attempt.
func (s Settings) RetryCount() int {
	return max(s.Retries, 0)
}
