package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePackageName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "simple name", input: "cmake", wantErr: nil},
		{name: "with hyphen", input: "libarrow-dev", wantErr: nil},
		{name: "with plus", input: "g++", wantErr: nil},
		{name: "numeric", input: "zlib1g-dev", wantErr: nil},

		{name: "empty", input: "", wantErr: ErrEmptyInput},
		{name: "with semicolon", input: "git;rm -rf", wantErr: ErrInvalidPackageName},
		{name: "with dollar", input: "git$PATH", wantErr: ErrInvalidPackageName},
		{name: "with space", input: "git repo", wantErr: ErrInvalidPackageName},
		{name: "starts with hyphen", input: "-y", wantErr: ErrInvalidPackageName},
		{name: "too long", input: strings.Repeat("a", 300), wantErr: ErrInvalidPackageName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePackageName(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateVersion(t *testing.T) {
	valid := []string{"", "latest", "18.1.0-1", "2:1.2.11.dfsg-2ubuntu9", "2.5.1+cpu", "1.0~rc1"}
	for _, v := range valid {
		assert.NoError(t, ValidateVersion(v), v)
	}

	invalid := []string{"1.0; reboot", "$(id)", "-1", "1 2"}
	for _, v := range invalid {
		assert.ErrorIs(t, ValidateVersion(v), ErrInvalidVersion, v)
	}
}

func TestValidateLocation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "https", input: "https://download.pytorch.org/libtorch/cpu/libtorch-cxx11-abi-shared-with-deps-2.5.1%2Bcpu.zip"},
		{name: "http", input: "http://mirror.local/onnxruntime.tgz"},
		{name: "file url", input: "file:///var/cache/artifacts/aws.zip"},
		{name: "absolute path", input: "/var/cache/artifacts/aws.zip"},

		{name: "empty", input: "", wantErr: ErrEmptyInput},
		{name: "ftp", input: "ftp://example.com/a.tgz", wantErr: ErrInvalidLocation},
		{name: "relative", input: "artifacts/a.tgz", wantErr: ErrInvalidLocation},
		{name: "no host", input: "https:///a.tgz", wantErr: ErrInvalidLocation},
		{name: "newline", input: "https://example.com/a\n.tgz", wantErr: ErrCommandInjection},
		{name: "traversal", input: "/var/cache/../../etc/shadow", wantErr: ErrPathTraversal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLocation(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateRepository(t *testing.T) {
	assert.NoError(t, ValidateRepository("deb https://apache.jfrog.io/artifactory/arrow/ubuntu jammy main"))
	assert.NoError(t, ValidateRepository("deb [arch=amd64] https://packages.example.com/apt stable main contrib"))

	assert.ErrorIs(t, ValidateRepository(""), ErrEmptyInput)
	assert.ErrorIs(t, ValidateRepository("rpm https://example.com x"), ErrInvalidRepository)
	assert.ErrorIs(t, ValidateRepository("deb https://example.com jammy main; curl evil"), ErrCommandInjection)
}

func TestValidatePathWithBase(t *testing.T) {
	assert.NoError(t, ValidatePathWithBase("/opt/libtorch/lib", "/opt/libtorch"))
	assert.NoError(t, ValidatePathWithBase("/opt/libtorch", "/opt/libtorch"))

	assert.ErrorIs(t, ValidatePathWithBase("/opt/libtorch-evil", "/opt/libtorch"), ErrPathTraversal)
	assert.ErrorIs(t, ValidatePathWithBase("/opt/libtorch/../etc", "/opt/libtorch"), ErrPathTraversal)
	assert.ErrorIs(t, ValidatePath("a\x00b"), ErrInvalidPath)
}
