//go:build e2e

// Package framework provides the E2E test infrastructure for provisioner.
package framework

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
)

// Environment is an isolated install root for one scenario: a prefix, a
// work directory and a state directory under a temp dir.
type Environment struct {
	t          *testing.T
	rootDir    string
	binaryPath string
}

var (
	buildOnce  sync.Once
	binaryPath string
	buildErr   error
)

// findProjectRoot locates the project root directory.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}

// buildBinary builds the provisioner binary once per test run.
func buildBinary(t *testing.T) (string, error) {
	buildOnce.Do(func() {
		root, err := findProjectRoot()
		if err != nil {
			buildErr = err
			return
		}

		binaryPath = filepath.Join(os.TempDir(), "provisioner-e2e-test")

		cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/provisioner")
		cmd.Dir = root

		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			buildErr = err
			t.Logf("Build stderr: %s", stderr.String())
		}
	})

	return binaryPath, buildErr
}

// NewEnvironment creates a new isolated test environment.
func NewEnvironment(t *testing.T) *Environment {
	t.Helper()

	binary, err := buildBinary(t)
	if err != nil {
		t.Fatalf("Failed to build binary: %v", err)
	}

	return &Environment{
		t:          t,
		rootDir:    t.TempDir(),
		binaryPath: binary,
	}
}

// RootDir returns the path to the test root directory.
func (e *Environment) RootDir() string {
	return e.rootDir
}

// BinaryPath returns the path to the built binary.
func (e *Environment) BinaryPath() string {
	return e.binaryPath
}

// Prefix returns the install prefix used by plans written with WritePlan.
func (e *Environment) Prefix() string {
	return filepath.Join(e.rootDir, "opt")
}

// WorkDir returns the work directory for temp artifacts and staging.
func (e *Environment) WorkDir() string {
	return filepath.Join(e.rootDir, "work")
}

// StateDir returns the install ledger directory.
func (e *Environment) StateDir() string {
	return filepath.Join(e.rootDir, "state")
}

// PlanPath returns the path WritePlan writes to.
func (e *Environment) PlanPath() string {
	return filepath.Join(e.rootDir, "plan.yaml")
}

// WritePlan writes a plan whose settings point into the environment.
// descriptors is the YAML list under the descriptors key.
func (e *Environment) WritePlan(descriptors string) string {
	e.t.Helper()

	content := fmt.Sprintf(`settings:
  prefix: %s
  work_dir: %s
  state_dir: %s
  retries: 0
  grace_period: 2s
descriptors:
%s`, e.Prefix(), e.WorkDir(), e.StateDir(), descriptors)

	if err := os.WriteFile(e.PlanPath(), []byte(content), 0o644); err != nil {
		e.t.Fatalf("Failed to write plan: %v", err)
	}
	return e.PlanPath()
}

// WriteFile writes content to a file in the test environment and returns
// its absolute path.
func (e *Environment) WriteFile(path string, content []byte, perm os.FileMode) string {
	e.t.Helper()

	fullPath := filepath.Join(e.rootDir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		e.t.Fatalf("Failed to create directory for %s: %v", fullPath, err)
	}
	if err := os.WriteFile(fullPath, content, perm); err != nil {
		e.t.Fatalf("Failed to write file %s: %v", fullPath, err)
	}
	return fullPath
}

// FileExists checks if a file exists in the test environment.
func (e *Environment) FileExists(path string) bool {
	_, err := os.Stat(filepath.Join(e.rootDir, path))
	return err == nil
}

// ReadFile reads a file from the test environment.
func (e *Environment) ReadFile(path string) string {
	e.t.Helper()

	fullPath := filepath.Join(e.rootDir, path)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		e.t.Fatalf("Failed to read file %s: %v", fullPath, err)
	}
	return string(content)
}
