package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a plan file encoding.
type Format string

// Supported plan formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ErrUnsupportedFormat is returned for plan files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported plan format")

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s (use .yaml, .yml or .toml)", ErrUnsupportedFormat, path)
	}
}

type fileSettings struct {
	Prefix       string `yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	WorkDir      string `yaml:"work_dir,omitempty" toml:"work_dir,omitempty"`
	CacheDir     string `yaml:"cache_dir,omitempty" toml:"cache_dir,omitempty"`
	StateDir     string `yaml:"state_dir,omitempty" toml:"state_dir,omitempty"`
	KeyringDir   string `yaml:"keyring_dir,omitempty" toml:"keyring_dir,omitempty"`
	SourcesDir   string `yaml:"sources_dir,omitempty" toml:"sources_dir,omitempty"`
	Workers      *int   `yaml:"workers,omitempty" toml:"workers,omitempty"`
	Retries      *int   `yaml:"retries,omitempty" toml:"retries,omitempty"`
	Backoff      string `yaml:"backoff,omitempty" toml:"backoff,omitempty"`
	FetchTimeout string `yaml:"fetch_timeout,omitempty" toml:"fetch_timeout,omitempty"`
	Timeout      string `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	GracePeriod  string `yaml:"grace_period,omitempty" toml:"grace_period,omitempty"`
	Separator    string `yaml:"separator,omitempty" toml:"separator,omitempty"`
	Sudo         bool   `yaml:"sudo,omitempty" toml:"sudo,omitempty"`
	CompatEnv    bool   `yaml:"compat_env,omitempty" toml:"compat_env,omitempty"`
}

type fileDescriptor struct {
	Name         string   `yaml:"name" toml:"name"`
	Method       string   `yaml:"method" toml:"method"`
	Location     string   `yaml:"location" toml:"location"`
	Version      string   `yaml:"version,omitempty" toml:"version,omitempty"`
	Destination  string   `yaml:"destination,omitempty" toml:"destination,omitempty"`
	Checksum     string   `yaml:"checksum,omitempty" toml:"checksum,omitempty"`
	Requires     []string `yaml:"requires,omitempty" toml:"requires,omitempty"`
	Rename       string   `yaml:"rename,omitempty" toml:"rename,omitempty"`
	Installer    string   `yaml:"installer,omitempty" toml:"installer,omitempty"`
	Args         []string `yaml:"args,omitempty" toml:"args,omitempty"`
	Repository   string   `yaml:"repository,omitempty" toml:"repository,omitempty"`
	Keyring      string   `yaml:"keyring,omitempty" toml:"keyring,omitempty"`
	NoRecommends *bool    `yaml:"no_recommends,omitempty" toml:"no_recommends,omitempty"`
}

type planFile struct {
	Settings    fileSettings     `yaml:"settings,omitempty" toml:"settings,omitempty"`
	Descriptors []fileDescriptor `yaml:"descriptors" toml:"descriptors"`
}

// Load reads a plan file. The format follows the extension. Load does not
// validate the plan; call Validate before executing it.
func Load(path string) (*Plan, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, provision.NewConfigurationError([]string{err.Error()})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, provision.NewConfigurationError([]string{fmt.Sprintf("plan file not found: %s", path)})
		}
		return nil, provision.NewConfigurationError([]string{fmt.Sprintf("reading %s: %v", path, err)})
	}

	p, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	p.source = path
	return p, nil
}

// Parse decodes a plan document. Unknown keys are rejected.
func Parse(data []byte, format Format) (*Plan, error) {
	var raw planFile
	if err := decode(data, format, &raw); err != nil {
		return nil, provision.NewConfigurationError([]string{fmt.Sprintf("parsing %s plan: %v", format, err)})
	}

	settings, problems := raw.Settings.toSettings()
	if len(problems) > 0 {
		return nil, provision.NewConfigurationError(problems)
	}

	descriptors := make([]Descriptor, 0, len(raw.Descriptors))
	for _, fd := range raw.Descriptors {
		descriptors = append(descriptors, fd.toDescriptor())
	}

	return New(descriptors, settings), nil
}

func decode(data []byte, format Format, out *planFile) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(out)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func (fs fileSettings) toSettings() (Settings, []string) {
	s := DefaultSettings()
	var problems []string

	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, key, v string) {
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			problems = append(problems, fmt.Sprintf("settings.%s: invalid duration %q", key, v))
			return
		}
		*dst = d
	}

	setString(&s.Prefix, fs.Prefix)
	setString(&s.WorkDir, fs.WorkDir)
	setString(&s.CacheDir, fs.CacheDir)
	setString(&s.StateDir, fs.StateDir)
	setString(&s.KeyringDir, fs.KeyringDir)
	setString(&s.SourcesDir, fs.SourcesDir)
	setString(&s.Separator, fs.Separator)
	setDuration(&s.Backoff, "backoff", fs.Backoff)
	setDuration(&s.FetchTimeout, "fetch_timeout", fs.FetchTimeout)
	setDuration(&s.Timeout, "timeout", fs.Timeout)
	setDuration(&s.GracePeriod, "grace_period", fs.GracePeriod)

	if fs.Workers != nil {
		if *fs.Workers < 1 {
			problems = append(problems, fmt.Sprintf("settings.workers: must be at least 1, got %d", *fs.Workers))
		}
		s.Workers = *fs.Workers
	}
	if fs.Retries != nil {
		if *fs.Retries < 0 {
			problems = append(problems, fmt.Sprintf("settings.retries: must not be negative, got %d", *fs.Retries))
		}
		s.Retries = *fs.Retries
		if s.Retries == 0 {
			s.Retries = NoRetries
		}
	}
	if !filepath.IsAbs(s.Prefix) {
		problems = append(problems, fmt.Sprintf("settings.prefix: %q must be an absolute path", s.Prefix))
	}

	s.Sudo = fs.Sudo
	s.CompatEnv = fs.CompatEnv
	return s, problems
}

func (fd fileDescriptor) toDescriptor() Descriptor {
	method, err := ParseMethod(fd.Method)
	if err != nil {
		method = Method(fd.Method) // Validate reports it
	}

	noRecommends := true
	if fd.NoRecommends != nil {
		noRecommends = *fd.NoRecommends
	}

	return Descriptor{
		Name:         fd.Name,
		Method:       method,
		Location:     fd.Location,
		Version:      fd.Version,
		Destination:  fd.Destination,
		Checksum:     fd.Checksum,
		Requires:     fd.Requires,
		Rename:       fd.Rename,
		Installer:    fd.Installer,
		Args:         fd.Args,
		Repository:   fd.Repository,
		Keyring:      fd.Keyring,
		NoRecommends: noRecommends,
	}
}
