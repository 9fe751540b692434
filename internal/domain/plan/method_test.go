package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	t.Parallel()

	tests := map[string]Method{
		"apt-package":        MethodAptPackage,
		"AptPackage":         MethodAptPackage,
		"apt_repo_bootstrap": MethodAptRepoBootstrap,
		"ArchiveExtract":     MethodArchiveExtract,
		" self-installer ":   MethodSelfInstaller,
	}
	for in, want := range tests {
		got, err := ParseMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseMethod("brew")
	assert.Error(t, err)
}

func TestMethod_Properties(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, MethodAptRepoBootstrap.Phase())
	assert.Equal(t, 1, MethodAptPackage.Phase())
	assert.True(t, MethodArchiveExtract.NeedsDestination())
	assert.False(t, MethodAptPackage.NeedsDestination())
	assert.True(t, MethodAptRepoBootstrap.UsesPackageManager())
	assert.False(t, MethodSelfInstaller.UsesPackageManager())
	assert.False(t, Method("pip").Valid())
}

func TestDescriptor_ArtifactName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "libtorch-2.5.1+cpu.zip", Descriptor{Location: "https://download.pytorch.org/libtorch/cpu/libtorch-2.5.1%2Bcpu.zip"}.ArtifactName())
	assert.Equal(t, "a.tgz", Descriptor{Location: "https://h/a.tgz?token=x"}.ArtifactName())
	assert.Equal(t, "x.tar", Descriptor{Location: "/srv/mirror/x.tar"}.ArtifactName())
	assert.Equal(t, "fallback", Descriptor{Name: "fallback", Location: "https://h/"}.ArtifactName())
	assert.Equal(t, "fallback", Descriptor{Name: "fallback", Location: "https://h"}.ArtifactName())
}
