package environment

import (
	"testing"

	"github.com/felixgeelhaar/provisioner/internal/domain/layout"
	"github.com/stretchr/testify/assert"
)

func cppContributions() []layout.Contribution {
	return []layout.Contribution{
		{Kind: layout.CMakePrefix, Path: "/opt/libtorch", Descriptor: "libtorch"},
		{Kind: layout.IncludeDir, Path: "/opt/libtorch/include", Descriptor: "libtorch"},
		{Kind: layout.LibDir, Path: "/opt/libtorch/lib", Descriptor: "libtorch"},
		{Kind: layout.CMakePrefix, Path: "/opt/onnxruntime", Descriptor: "onnxruntime"},
		{Kind: layout.IncludeDir, Path: "/opt/onnxruntime/include", Descriptor: "onnxruntime"},
		{Kind: layout.LibDir, Path: "/opt/onnxruntime/lib", Descriptor: "onnxruntime"},
		{Kind: layout.BinDir, Path: "/opt/rust/bin", Descriptor: "rustup"},
	}
}

func TestCompose_InstallOrder(t *testing.T) {
	t.Parallel()

	env := Compose(cppContributions(), Options{})

	assert.Equal(t, map[string]string{
		BuildPrefixPath: "/opt/libtorch:/opt/onnxruntime",
		LibraryPath:     "/opt/libtorch/lib:/opt/onnxruntime/lib",
		IncludePath:     "/opt/libtorch/include:/opt/onnxruntime/include",
		BinPath:         "/opt/rust/bin",
	}, env.Map())

	names := make([]string, 0, env.Len())
	for _, v := range env.Variables() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{BuildPrefixPath, LibraryPath, IncludePath, BinPath}, names)
}

func TestCompose_CompatAliases(t *testing.T) {
	t.Parallel()

	env := Compose(cppContributions(), Options{Compat: true, Separator: ","})

	v, ok := env.Get(CMakePrefixPath)
	assert.True(t, ok)
	assert.Equal(t, "/opt/libtorch;/opt/onnxruntime", v)

	v, _ = env.Get(LDLibraryPath)
	assert.Equal(t, "/opt/libtorch/lib:/opt/onnxruntime/lib", v)

	v, _ = env.Get(LibraryPath)
	assert.Equal(t, "/opt/libtorch/lib,/opt/onnxruntime/lib", v, "custom separator applies to NATIVE_* only")
}

func TestCompose_DeduplicatesKeepingFirst(t *testing.T) {
	t.Parallel()

	env := Compose([]layout.Contribution{
		{Kind: layout.LibDir, Path: "/opt/b/lib"},
		{Kind: layout.LibDir, Path: "/opt/a/lib"},
		{Kind: layout.LibDir, Path: "/opt/b/lib/"},
	}, Options{})

	v, _ := env.Get(LibraryPath)
	assert.Equal(t, "/opt/b/lib:/opt/a/lib", v)
}

func TestCompose_EmptyOmitsVariables(t *testing.T) {
	t.Parallel()

	env := Compose(nil, Options{Compat: true})
	assert.Zero(t, env.Len())
	_, ok := env.Get(BuildPrefixPath)
	assert.False(t, ok)
}
