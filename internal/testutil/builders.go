package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// ArchiveEntry is one member of a test archive.
type ArchiveEntry struct {
	Name string
	Body string
	Mode int64
	Dir  bool
	Link string // symlink target
}

// ArchiveBuilder builds in-memory tar.gz, tar and zip archives.
type ArchiveBuilder struct {
	entries []ArchiveEntry
}

// NewArchiveBuilder creates an empty archive builder.
func NewArchiveBuilder() *ArchiveBuilder {
	return &ArchiveBuilder{}
}

// File adds a regular file with mode 0644.
func (b *ArchiveBuilder) File(name, body string) *ArchiveBuilder {
	return b.Add(ArchiveEntry{Name: name, Body: body, Mode: 0o644})
}

// Executable adds a regular file with mode 0755.
func (b *ArchiveBuilder) Executable(name, body string) *ArchiveBuilder {
	return b.Add(ArchiveEntry{Name: name, Body: body, Mode: 0o755})
}

// Dir adds a directory entry.
func (b *ArchiveBuilder) Dir(name string) *ArchiveBuilder {
	return b.Add(ArchiveEntry{Name: name, Dir: true, Mode: 0o755})
}

// Symlink adds a symbolic link.
func (b *ArchiveBuilder) Symlink(name, target string) *ArchiveBuilder {
	return b.Add(ArchiveEntry{Name: name, Link: target, Mode: 0o777})
}

// Add appends an arbitrary entry.
func (b *ArchiveBuilder) Add(e ArchiveEntry) *ArchiveBuilder {
	b.entries = append(b.entries, e)
	return b
}

// Tar returns an uncompressed tar archive.
func (b *ArchiveBuilder) Tar(t testing.TB) []byte {
	t.Helper()

	var buf bytes.Buffer
	b.writeTar(t, &buf)
	return buf.Bytes()
}

// TarGz returns a gzip-compressed tar archive.
func (b *ArchiveBuilder) TarGz(t testing.TB) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	b.writeTar(t, gw)
	require.NoError(t, gw.Close(), "closing gzip writer")
	return buf.Bytes()
}

func (b *ArchiveBuilder) writeTar(t testing.TB, w io.Writer) {
	t.Helper()

	tw := tar.NewWriter(w)
	for _, e := range b.entries {
		hdr := &tar.Header{Name: e.Name, Mode: e.Mode}
		switch {
		case e.Dir:
			hdr.Typeflag = tar.TypeDir
		case e.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		}
		require.NoError(t, tw.WriteHeader(hdr), "writing tar header %s", e.Name)
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.Body))
			require.NoError(t, err, "writing tar body %s", e.Name)
		}
	}
	require.NoError(t, tw.Close(), "closing tar writer")
}

// Zip returns a zip archive.
func (b *ArchiveBuilder) Zip(t testing.TB) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range b.entries {
		hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		switch {
		case e.Dir:
			if hdr.Name[len(hdr.Name)-1] != '/' {
				hdr.Name += "/"
			}
			hdr.SetMode(os.ModeDir | 0o755)
		case e.Link != "":
			hdr.SetMode(os.ModeSymlink | 0o777)
		default:
			hdr.SetMode(fileMode(e.Mode))
		}
		fw, err := zw.CreateHeader(hdr)
		require.NoError(t, err, "writing zip header %s", e.Name)

		body := e.Body
		if e.Link != "" {
			body = e.Link
		}
		if !e.Dir {
			_, err = fw.Write([]byte(body))
			require.NoError(t, err, "writing zip body %s", e.Name)
		}
	}
	require.NoError(t, zw.Close(), "closing zip writer")
	return buf.Bytes()
}

// PlanBuilder builds plan YAML documents.
type PlanBuilder struct {
	settings    map[string]any
	descriptors []map[string]any
}

// NewPlanBuilder creates an empty plan builder.
func NewPlanBuilder() *PlanBuilder {
	return &PlanBuilder{settings: map[string]any{}}
}

// Setting sets one settings key.
func (b *PlanBuilder) Setting(key string, value any) *PlanBuilder {
	b.settings[key] = value
	return b
}

// AptPackage adds an apt-package descriptor.
func (b *PlanBuilder) AptPackage(name string, requires ...string) *PlanBuilder {
	d := map[string]any{"name": name, "method": "apt-package", "location": name}
	if len(requires) > 0 {
		d["requires"] = requires
	}
	return b.Descriptor(d)
}

// Archive adds an archive-extract descriptor.
func (b *PlanBuilder) Archive(name, location, destination, checksum string) *PlanBuilder {
	d := map[string]any{"name": name, "method": "archive-extract", "location": location, "destination": destination}
	if checksum != "" {
		d["checksum"] = checksum
	}
	return b.Descriptor(d)
}

// Descriptor adds a raw descriptor mapping.
func (b *PlanBuilder) Descriptor(d map[string]any) *PlanBuilder {
	b.descriptors = append(b.descriptors, d)
	return b
}

// YAML renders the plan.
func (b *PlanBuilder) YAML(t testing.TB) string {
	t.Helper()

	doc := map[string]any{"descriptors": b.descriptors}
	if len(b.settings) > 0 {
		doc["settings"] = b.settings
	}
	out, err := yaml.Marshal(doc)
	require.NoError(t, err, "marshaling plan")
	return string(out)
}

func fileMode(mode int64) os.FileMode {
	if mode == 0 {
		return 0o644
	}
	return os.FileMode(mode).Perm()
}
