package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
	"github.com/felixgeelhaar/provisioner/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with fresh flags. Commands share global
// state, so these tests do not run in parallel.
func run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()

	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)

	err := Execute()
	var exit *exitError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		code = exit.code
	default:
		t.Fatalf("unexpected error: %v", err)
	}
	return out.String(), errOut.String(), code
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type planFixture struct {
	root   string
	prefix string
	path   string
}

func writePlan(t *testing.T, checksum func(data []byte) string) planFixture {
	t.Helper()

	root := t.TempDir()
	data := testutil.NewArchiveBuilder().
		File("libtorch/include/torch/torch.h", "// torch").
		File("libtorch/lib/libtorch.so", "ELF").
		Zip(t)
	archive := testutil.WriteTempBytes(t, root, "libtorch-2.5.1.zip", data)

	f := planFixture{root: root, prefix: filepath.Join(root, "opt")}
	yaml := testutil.NewPlanBuilder().
		Setting("prefix", f.prefix).
		Setting("work_dir", filepath.Join(root, "work")).
		Setting("state_dir", filepath.Join(root, "state")).
		Setting("retries", 0).
		Descriptor(map[string]any{
			"name":        "libtorch",
			"method":      "archive-extract",
			"location":    archive,
			"destination": "libtorch",
			"checksum":    checksum(data),
			"rename":      "libtorch",
		}).
		YAML(t)
	f.path = testutil.WriteTempFile(t, root, "plan.yaml", yaml)
	return f
}

func sha(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

func wrongSum([]byte) string {
	return sha([]byte("not the archive"))
}

func TestVersionCmd(t *testing.T) {
	out, _, code := run(t, "version")

	assert.Zero(t, code)
	assert.Contains(t, out, "provisioner dev")
	assert.Contains(t, out, "commit: none")
}

func TestValidateCmd(t *testing.T) {
	f := writePlan(t, sha)

	out, _, code := run(t, "validate", "-p", f.path)

	assert.Zero(t, code)
	assert.Contains(t, out, "1. libtorch")
	assert.Contains(t, out, "Plan is valid")
}

func TestValidateCmd_JSON(t *testing.T) {
	f := writePlan(t, sha)

	out, _, code := run(t, "validate", "-p", f.path, "--json")
	require.Zero(t, code)

	var res validationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, []string{"libtorch"}, res.Order)
}

func TestValidateCmd_InvalidPlan(t *testing.T) {
	root := t.TempDir()
	yaml := testutil.NewPlanBuilder().
		Setting("prefix", filepath.Join(root, "opt")).
		Archive("a", "https://example.com/a.tgz", "shared", "").
		Archive("b", "https://example.com/b.tgz", "shared", "").
		YAML(t)
	path := testutil.WriteTempFile(t, root, "plan.yaml", yaml)

	_, errOut, code := run(t, "validate", "-p", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, `"a" and "b" share destination`)

	out, _, code := run(t, "validate", "-p", path, "--json")
	assert.Equal(t, 1, code)
	var res validationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Problems)
}

func TestValidateCmd_MissingPlan(t *testing.T) {
	_, errOut, code := run(t, "validate", "-p", filepath.Join(t.TempDir(), "absent.yaml"))

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "plan file not found")
}

func TestApplyCmd(t *testing.T) {
	f := writePlan(t, sha)
	envFile := filepath.Join(f.root, "native.env")

	out, _, code := run(t, "apply", "-p", f.path, "--workers", "1", "--env-file", envFile, "--env-format", "dotenv")

	require.Zero(t, code)
	assert.Contains(t, out, "1 installed, 0 failed")
	assert.Contains(t, out, "export NATIVE_LIBRARY_PATH='"+filepath.Join(f.prefix, "libtorch", "lib")+"'")

	data, err := os.ReadFile(envFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "NATIVE_INCLUDE_PATH="+filepath.Join(f.prefix, "libtorch", "include"))

	// The ledger now backs the env command.
	out, errOut, code := run(t, "env", "-p", f.path, "--strict")
	assert.Zero(t, code)
	assert.Empty(t, errOut)
	assert.Contains(t, out, "export NATIVE_BUILD_PREFIX_PATH='"+filepath.Join(f.prefix, "libtorch")+"'")
}

func TestApplyCmd_FailureExitCode(t *testing.T) {
	f := writePlan(t, wrongSum)

	out, _, code := run(t, "apply", "-p", f.path)

	assert.Equal(t, 2, code)
	assert.Contains(t, out, "0 installed, 1 failed")
	assert.Contains(t, out, "checksum mismatch")
	testutil.AssertNotExists(t, filepath.Join(f.prefix, "libtorch"))
}

func TestApplyCmd_UnknownEnvFormat(t *testing.T) {
	f := writePlan(t, sha)

	_, errOut, code := run(t, "apply", "-p", f.path, "--env-format", "xml")

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "xml")
	testutil.AssertNotExists(t, filepath.Join(f.prefix, "libtorch"))
}

func TestEnvCmd_NotInstalled(t *testing.T) {
	f := writePlan(t, sha)

	out, errOut, code := run(t, "env", "-p", f.path)
	assert.Zero(t, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "not installed: libtorch")

	_, _, code = run(t, "env", "-p", f.path, "--strict")
	assert.Equal(t, 2, code)
}

func TestFormatError(t *testing.T) {
	err := &provision.Error{
		Kind:       provision.KindSubprocess,
		Descriptor: "cmake",
		Message:    "apt-get install cmake exited with code 100",
		Suggestion: "Refresh the package index.",
		Underlying: errors.New("exit status 100"),
	}

	msg := formatError(err)
	assert.Contains(t, msg, "cmake: apt-get install cmake exited with code 100")
	assert.Contains(t, msg, "Suggestion: Refresh the package index.")
	assert.NotContains(t, msg, "Technical details")

	verbose = true
	defer func() { verbose = false }()
	assert.Contains(t, formatError(err), "Technical details: exit status 100")

	assert.Equal(t, "plain", formatError(errors.New("plain")))
}

func TestFormatError_ListsProblems(t *testing.T) {
	err := provision.NewConfigurationError([]string{"first", "second"})

	msg := formatError(err)
	assert.Contains(t, msg, "\n  - first")
	assert.Contains(t, msg, "\n  - second")
}

func TestPrintErrorTo(t *testing.T) {
	var buf bytes.Buffer
	printErrorTo(&buf, errors.New("boom"))
	assert.Equal(t, "Error: boom\n", buf.String())
}

func TestApplyCmd_RejectsOutOfRangeFlags(t *testing.T) {
	f := writePlan(t, sha)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"zero workers", []string{"--workers", "0"}, "--workers: must be at least 1, got 0"},
		{"negative workers", []string{"--workers=-2"}, "--workers: must be at least 1, got -2"},
		{"negative retries", []string{"--retries=-1"}, "--retries: must not be negative"},
		{"negative timeout", []string{"--timeout=-1s"}, "--timeout: must not be negative"},
		{"negative fetch timeout", []string{"--fetch-timeout=-5s"}, "--fetch-timeout: must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"apply", "-p", f.path}, tt.args...)
			_, errOut, code := run(t, args...)

			assert.Equal(t, 1, code)
			assert.Contains(t, errOut, tt.want)
			assert.NoDirExists(t, filepath.Join(f.prefix, "libtorch"), "nothing is installed")
		})
	}
}

func TestStatusCmd(t *testing.T) {
	f := writePlan(t, sha)

	out, _, code := run(t, "status", "-p", f.path)
	assert.Zero(t, code)
	assert.Contains(t, out, "libtorch")
	assert.Contains(t, out, "Not Installed")

	_, _, code = run(t, "status", "-p", f.path, "--check")
	assert.Equal(t, 2, code)

	_, _, code = run(t, "apply", "-p", f.path)
	require.Zero(t, code)

	out, _, code = run(t, "status", "-p", f.path, "--check")
	assert.Zero(t, code)
	assert.Contains(t, out, "Installed")
	assert.NotContains(t, out, "Not Installed")
}
