package installer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/provisioner/internal/domain/provision"
)

// Archive formats.
const (
	FormatTarGz = "tar.gz"
	FormatTar   = "tar"
	FormatZip   = "zip"
)

// maxExtractedBytes bounds the total bytes written by one extraction.
const maxExtractedBytes int64 = 32 << 30

// Extraction errors, wrapped into an ExtractionError.
var (
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrUnsafeEntry        = errors.New("archive entry escapes the destination")
	ErrArchiveTooLarge    = errors.New("archive exceeds the extraction size limit")
)

// DetectFormat sniffs the archive format from magic bytes, falling back to
// the file extension.
func DetectFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }() // read-only

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, []byte{0x1f, 0x8b}):
		return FormatTarGz, nil
	case bytes.HasPrefix(head, []byte("PK\x03\x04")), bytes.HasPrefix(head, []byte("PK\x05\x06")):
		return FormatZip, nil
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return FormatTar, nil
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(path))
}

// Extract unpacks archive into dir, which must exist. Entries that would land
// outside dir, through their name or a link target, are rejected. Errors are
// ExtractionErrors, or CancelledError when ctx ends between entries.
func Extract(ctx context.Context, archive, dir string) error {
	format, err := DetectFormat(archive)
	if err != nil {
		return provision.NewExtractionError(archive, err)
	}

	x := &extractor{ctx: ctx, root: filepath.Clean(dir), budget: maxExtractedBytes}
	switch format {
	case FormatTarGz:
		err = x.tarGz(archive)
	case FormatTar:
		err = x.tarFile(archive)
	case FormatZip:
		err = x.zip(archive)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return provision.NewCancelledError(ctxErr)
		}
		return provision.NewExtractionError(archive, err)
	}
	return nil
}

type extractor struct {
	ctx    context.Context
	root   string
	budget int64
}

func (x *extractor) tarGz(archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // read-only

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	return x.tar(tar.NewReader(gz))
}

func (x *extractor) tarFile(archive string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // read-only

	return x.tar(tar.NewReader(f))
}

func (x *extractor) tar(tr *tar.Reader) error {
	for {
		if err := x.ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := x.target(hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := x.writeFile(target, tr, hdr.Size, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := x.symlink(target, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			src, err := x.target(hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Link(src, target); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// metadata only
		default:
			return fmt.Errorf("%w: %s has unsupported type %q", ErrUnsupportedArchive, hdr.Name, hdr.Typeflag)
		}
	}
}

func (x *extractor) zip(archive string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer func() { _ = zr.Close() }() // read-only

	for _, zf := range zr.File {
		if err := x.ctx.Err(); err != nil {
			return err
		}

		target, err := x.target(zf.Name)
		if err != nil {
			return err
		}

		mode := zf.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode&os.ModeSymlink != 0:
			link, err := readZipLink(zf)
			if err != nil {
				return err
			}
			if err := x.symlink(target, link); err != nil {
				return err
			}
		default:
			rc, err := zf.Open()
			if err != nil {
				return fmt.Errorf("opening %s: %w", zf.Name, err)
			}
			err = x.writeFile(target, rc, int64(zf.UncompressedSize64), mode)
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// target maps an entry name to a path inside the root. Names that climb out
// of the root, and paths that would be written through an already extracted
// symlink, are rejected.
func (x *extractor) target(name string) (string, error) {
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s is absolute", ErrUnsafeEntry, name)
	}
	target := filepath.Join(x.root, filepath.FromSlash(name))
	if !withinRoot(x.root, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeEntry, name)
	}

	for dir := filepath.Dir(target); dir != x.root && withinRoot(x.root, dir); dir = filepath.Dir(dir) {
		if fi, err := os.Lstat(dir); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: %s traverses symlink %s", ErrUnsafeEntry, name, filepath.Base(dir))
		}
	}
	return target, nil
}

func (x *extractor) symlink(target, link string) error {
	resolved := link
	if !filepath.IsAbs(link) {
		resolved = filepath.Join(filepath.Dir(target), link)
	}
	if filepath.IsAbs(link) || !withinRoot(x.root, resolved) {
		return fmt.Errorf("%w: link %s -> %s", ErrUnsafeEntry, strings.TrimPrefix(target, x.root+string(filepath.Separator)), link)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.Symlink(link, target)
}

func (x *extractor) writeFile(target string, r io.Reader, size int64, mode os.FileMode) (err error) {
	if size > x.budget {
		return ErrArchiveTooLarge
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(r, x.budget+1))
	if err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(target), err)
	}
	x.budget -= n
	if x.budget < 0 {
		return ErrArchiveTooLarge
	}
	return nil
}

func readZipLink(zf *zip.File) (string, error) {
	rc, err := zf.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// withinRoot reports whether path is root or below it.
func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
