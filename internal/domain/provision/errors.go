package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a provisioning failure.
type Kind string

// Error kinds. Only KindConfiguration aborts a run; every other kind is
// captured on the failing descriptor's Record.
const (
	KindConfiguration Kind = "ConfigurationError"
	KindNetwork       Kind = "NetworkError"
	KindIntegrity     Kind = "IntegrityError"
	KindExtraction    Kind = "ExtractionError"
	KindSubprocess    Kind = "SubprocessError"
	KindLayout        Kind = "LayoutError"
	KindDependency    Kind = "DependencyError"
	KindCancelled     Kind = "CancelledError"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrNetwork       = &Error{Kind: KindNetwork}
	ErrIntegrity     = &Error{Kind: KindIntegrity}
	ErrExtraction    = &Error{Kind: KindExtraction}
	ErrSubprocess    = &Error{Kind: KindSubprocess}
	ErrLayout        = &Error{Kind: KindLayout}
	ErrDependency    = &Error{Kind: KindDependency}
	ErrCancelled     = &Error{Kind: KindCancelled}
)

// Error is a classified, user-facing provisioning error.
type Error struct {
	Kind        Kind     // Failure classification
	Descriptor  string   // Descriptor name, empty for plan-level errors
	Message     string   // User-friendly message
	Problems    []string // Individual findings (configuration errors)
	Suggestion  string   // Actionable hint
	Diagnostics string   // Captured subprocess output
	Underlying  error    // Wrapped cause
}

// Error returns the formatted error message.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Descriptor != "" {
		fmt.Fprintf(&b, "%s: ", e.Descriptor)
	}
	b.WriteString(e.Message)
	if e.Message == "" {
		b.WriteString(string(e.Kind))
	}
	if len(e.Problems) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Problems, "; "))
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}

	return b.String()
}

// Unwrap returns the underlying error for error chain support.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Format returns a fully formatted error with all details.
func (e *Error) Format() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Descriptor != "" {
		fmt.Fprintf(&b, "\n  Descriptor: %s", e.Descriptor)
	}
	for _, p := range e.Problems {
		fmt.Fprintf(&b, "\n  - %s", p)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n  Suggestion: %s", e.Suggestion)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, "\n  Cause: %v", e.Underlying)
	}
	if e.Diagnostics != "" {
		fmt.Fprintf(&b, "\n  Output:\n%s", indent(e.Diagnostics, "    "))
	}

	return b.String()
}

// WithDescriptor returns a copy of the error attributed to a descriptor.
func (e *Error) WithDescriptor(name string) *Error {
	cp := *e
	cp.Descriptor = name
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain. Context
// cancellation that was never classified reports KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return ""
}

// DiagnosticsOf returns captured subprocess output from err's chain.
func DiagnosticsOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Diagnostics
	}
	return ""
}

// NewConfigurationError reports an invalid plan.
func NewConfigurationError(problems []string) *Error {
	return &Error{
		Kind:       KindConfiguration,
		Message:    "provisioning plan is invalid",
		Problems:   problems,
		Suggestion: "Fix the listed descriptors and re-run 'provisioner validate'.",
	}
}

// NewNetworkError reports a fetch failure after the retry budget is spent.
func NewNetworkError(location string, attempts int, err error) *Error {
	return &Error{
		Kind:       KindNetwork,
		Message:    fmt.Sprintf("fetching %s failed after %d attempt(s)", location, attempts),
		Suggestion: "Check connectivity to the artifact host or pre-populate the cache directory.",
		Underlying: err,
	}
}

// NewIntegrityError reports a checksum mismatch.
func NewIntegrityError(location, expected, got string) *Error {
	return &Error{
		Kind:       KindIntegrity,
		Message:    fmt.Sprintf("checksum mismatch for %s: expected %s, got %s", location, expected, got),
		Suggestion: "The artifact changed upstream or was corrupted in transit; update the checksum only after verifying the new artifact.",
	}
}

// NewExtractionError reports an unsupported or corrupt archive.
func NewExtractionError(archive string, err error) *Error {
	return &Error{
		Kind:       KindExtraction,
		Message:    fmt.Sprintf("extracting %s failed", archive),
		Underlying: err,
	}
}

// NewSubprocessError reports a non-zero exit or a failure to launch.
func NewSubprocessError(commandLine string, exitCode int, diagnostics string, err error) *Error {
	msg := fmt.Sprintf("%s exited with code %d", commandLine, exitCode)
	if err != nil && exitCode == 0 {
		msg = fmt.Sprintf("%s could not be run", commandLine)
	}
	return &Error{
		Kind:        KindSubprocess,
		Message:     msg,
		Diagnostics: diagnostics,
		Underlying:  err,
	}
}

// NewLayoutError reports a destination missing after a successful install.
func NewLayoutError(destination string) *Error {
	return &Error{
		Kind:       KindLayout,
		Message:    fmt.Sprintf("destination %s does not exist after install", destination),
		Suggestion: "The installer reported success without populating its destination; check its flags.",
	}
}

// NewDependencyError reports a descriptor aborted because a requirement failed.
func NewDependencyError(requirement string) *Error {
	return &Error{
		Kind:    KindDependency,
		Message: fmt.Sprintf("requirement %q did not install", requirement),
	}
}

// NewCancelledError reports a descriptor stopped by run-level cancellation.
func NewCancelledError(err error) *Error {
	return &Error{
		Kind:       KindCancelled,
		Message:    "provisioning cancelled",
		Underlying: err,
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
