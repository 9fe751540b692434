// Package validation provides input validation for values that end up on
// package-manager command lines or in file system paths, preventing command
// injection and path traversal.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// Common validation errors.
var (
	ErrEmptyInput         = errors.New("input cannot be empty")
	ErrInvalidPackageName = errors.New("invalid package name")
	ErrInvalidVersion     = errors.New("invalid package version")
	ErrInvalidLocation    = errors.New("invalid location")
	ErrInvalidRepository  = errors.New("invalid apt repository line")
	ErrPathTraversal      = errors.New("path traversal detected")
	ErrInvalidPath        = errors.New("invalid path")
	ErrCommandInjection   = errors.New("potential command injection detected")
)

var (
	// packageNameRegex matches Debian package names.
	// Examples: "cmake", "libarrow-dev", "g++", "zlib1g-dev"
	packageNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._+-]*$`)

	// versionRegex matches Debian and release versions.
	// Examples: "18.1.0-1", "2:1.2.11.dfsg-2ubuntu9", "2.5.1+cpu", "1.20.1"
	versionRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9.+~:_-]*$`)

	// repositoryRegex matches one-line apt sources entries.
	// Example: "deb https://apache.jfrog.io/artifactory/arrow/ubuntu jammy main"
	repositoryRegex = regexp.MustCompile(`^deb(-src)? (\[[^\]]*\] )?https?://\S+ \S+( \S+)*$`)

	shellMetaChars = []string{";", "|", "&", "$", "`", "(", ")", "{", "}", "<", ">", "\n", "\r", "\\"}
)

// ValidatePackageName validates an apt package name.
func ValidatePackageName(name string) error {
	if name == "" {
		return ErrEmptyInput
	}

	if len(name) > 256 {
		return fmt.Errorf("%w: name too long (max 256 characters)", ErrInvalidPackageName)
	}

	if !packageNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidPackageName, name)
	}

	return nil
}

// ValidateVersion validates a version pin. An empty version is allowed and
// means "latest".
func ValidateVersion(version string) error {
	if version == "" || version == "latest" {
		return nil
	}

	if len(version) > 128 || !versionRegex.MatchString(version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}

	return nil
}

// ValidateLocation validates a fetch location: an http(s) or file URL, or an
// absolute local path.
func ValidateLocation(location string) error {
	if location == "" {
		return ErrEmptyInput
	}

	if len(location) > 2048 {
		return fmt.Errorf("%w: location too long", ErrInvalidLocation)
	}

	if containsControl(location) {
		return fmt.Errorf("%w: %q contains control characters", ErrCommandInjection, location)
	}

	if filepath.IsAbs(location) {
		return ValidatePath(location)
	}

	u, err := url.Parse(location)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("%w: %q has no host", ErrInvalidLocation, location)
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("%w: %q has no path", ErrInvalidLocation, location)
		}
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocation, u.Scheme)
	}

	if containsShellMeta(u.Host) {
		return fmt.Errorf("%w: %q contains shell metacharacters", ErrCommandInjection, location)
	}

	return nil
}

// ValidateRepository validates a one-line apt sources entry.
func ValidateRepository(line string) error {
	if line == "" {
		return ErrEmptyInput
	}

	if containsControl(line) || containsShellMeta(line) {
		return fmt.Errorf("%w: %q contains shell metacharacters", ErrCommandInjection, line)
	}

	if !repositoryRegex.MatchString(line) {
		return fmt.Errorf("%w: %q", ErrInvalidRepository, line)
	}

	return nil
}

// ValidatePath validates a file path and rejects traversal sequences.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyInput
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: path contains null byte", ErrInvalidPath)
	}

	if containsPathTraversal(path) {
		return fmt.Errorf("%w: %q contains traversal sequence", ErrPathTraversal, path)
	}

	return nil
}

// ValidatePathWithBase validates that path stays within basePath once cleaned.
func ValidatePathWithBase(path, basePath string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	cleanPath := filepath.Clean(path)
	cleanBase := filepath.Clean(basePath)

	if cleanPath != cleanBase && !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("%w: path %q escapes base directory %q", ErrPathTraversal, path, basePath)
	}

	return nil
}

func containsShellMeta(s string) bool {
	for _, char := range shellMetaChars {
		if strings.Contains(s, char) {
			return true
		}
	}
	return false
}

func containsControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

func containsPathTraversal(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return true
		}
	}

	lower := strings.ToLower(path)
	return strings.Contains(lower, "%2e%2e")
}
