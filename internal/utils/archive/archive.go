package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	rpmutils "github.com/sassoftware/go-rpmutils"
	"github.com/ulikunitz/xz"

	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
)

// Format identifies how an artifact is unpacked.
type Format string

const (
	FormatTar    Format = "tar"
	FormatTarGz  Format = "tar.gz"
	FormatTarXz  Format = "tar.xz"
	FormatTarZst Format = "tar.zst"
	FormatTarBz2 Format = "tar.bz2"
	FormatZip    Format = "zip"
	FormatRPM    Format = "rpm"
	// FormatPlain artifacts are copied unchanged.
	FormatPlain Format = "plain"
)

// ErrUnsafePath is returned for entries that would land outside the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// DetectFormat picks the format from the file name.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return FormatTarBz2
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	case strings.HasSuffix(lower, ".zip"), strings.HasSuffix(lower, ".whl"):
		return FormatZip
	case strings.HasSuffix(lower, ".rpm"):
		return FormatRPM
	default:
		return FormatPlain
	}
}

// Extract unpacks src into destDir, creating destDir if needed. The format is
// derived from name, which is usually the base name of the download URL.
func Extract(src, name, destDir string) error {
	log := logger.Logger()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create extraction dir %s: %w", destDir, err)
	}

	format := DetectFormat(name)
	log.Debugf("extracting %s (%s) into %s", name, format, destDir)

	switch format {
	case FormatZip:
		return extractZip(src, destDir)
	case FormatRPM:
		return extractRPM(src, destDir)
	case FormatPlain:
		return copyPlain(src, filepath.Join(destDir, filepath.Base(name)))
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case FormatTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create xz reader: %w", err)
		}
		r = xr
	case FormatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	case FormatTarBz2:
		br, err := bzip2.NewReader(f, nil)
		if err != nil {
			return fmt.Errorf("failed to create bzip2 reader: %w", err)
		}
		defer br.Close()
		r = br
	}
	return extractTar(r, destDir)
}

// destination is an extraction root. Entry paths are resolved against the
// tree already on disk, so symlinks extracted earlier cannot redirect later
// entries outside of it.
type destination struct {
	dir  string
	real string
}

func newDestination(dir string) (*destination, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve extraction dir %s: %w", dir, err)
	}
	return &destination{dir: filepath.Clean(dir), real: resolved}, nil
}

// join resolves an archive entry name to its real location under the
// destination.
func (d *destination) join(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	if cleaned == "." {
		return d.real, nil
	}

	// Walk up to the deepest parent that exists and resolve its symlinks.
	parent := filepath.Join(d.dir, filepath.Dir(cleaned))
	var missing []string
	for parent != d.dir {
		if _, err := os.Lstat(parent); err == nil {
			break
		}
		missing = append([]string{filepath.Base(parent)}, missing...)
		parent = filepath.Dir(parent)
	}
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", parent, err)
	}
	resolved := filepath.Join(append([]string{realParent}, missing...)...)
	if !d.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(resolved, filepath.Base(cleaned)), nil
}

func (d *destination) contains(path string) bool {
	rel, err := filepath.Rel(d.real, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// checkLinkTarget rejects symlink targets that leave the destination by name.
func (d *destination) checkLinkTarget(linkPath, target string) error {
	if filepath.IsAbs(target) || !d.contains(filepath.Join(filepath.Dir(linkPath), target)) {
		return fmt.Errorf("%w: link %s -> %s", ErrUnsafePath, linkPath, target)
	}
	return nil
}

// checkLink removes a freshly created link whose real target turned out to
// be outside the destination.
func (d *destination) checkLink(linkPath, target string) error {
	resolved, err := filepath.EvalSymlinks(linkPath)
	if err != nil {
		// dangling for now; anything written through it is checked by join
		return nil
	}
	if !d.contains(resolved) {
		_ = os.Remove(linkPath)
		return fmt.Errorf("%w: link %s -> %s", ErrUnsafePath, linkPath, target)
	}
	return nil
}

// replaceable removes an existing symlink at target so writes never follow it.
func replaceable(target string) {
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		_ = os.Remove(target)
	}
}

func extractTar(r io.Reader, destDir string) error {
	dest, err := newDestination(destDir)
	if err != nil {
		return err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		target, err := dest.join(hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(hdr.FileInfo().Mode())); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			replaceable(target)
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := dest.checkLinkTarget(target, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create dir for %s: %w", target, err)
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", target, err)
			}
			if err := dest.checkLink(target, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			linkSrc, err := dest.join(hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("failed to create dir for %s: %w", target, err)
			}
			_ = os.Remove(target)
			if err := os.Link(linkSrc, target); err != nil {
				return fmt.Errorf("failed to create hard link %s: %w", target, err)
			}
			if err := dest.checkLink(target, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
			// pax metadata only
		default:
			logger.Logger().Debugf("skipping tar entry %s of type %c", hdr.Name, hdr.Typeflag)
		}
	}
}

func extractZip(src, destDir string) error {
	dest, err := newDestination(destDir)
	if err != nil {
		return err
	}
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, err := dest.join(zf.Name)
		if err != nil {
			return err
		}
		mode := zf.Mode()
		if mode.IsDir() {
			if err := os.MkdirAll(target, dirMode(mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", target, err)
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("failed to open zip entry %s: %w", zf.Name, err)
		}
		replaceable(target)
		err = writeFile(target, rc, mode)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractRPM(src, destDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open rpm: %w", err)
	}
	defer f.Close()

	rpm, err := rpmutils.ReadRpm(f)
	if err != nil {
		return fmt.Errorf("failed to read rpm %s: %w", src, err)
	}
	if err := rpm.ExpandPayload(destDir); err != nil {
		return fmt.Errorf("failed to expand rpm payload: %w", err)
	}
	return nil
}

func copyPlain(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()
	return writeFile(dst, f, 0644)
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", target, err)
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return out.Close()
}

func dirMode(mode os.FileMode) os.FileMode {
	if perm := mode.Perm(); perm != 0 {
		return perm | 0700
	}
	return 0755
}

// SourceRoot returns the single top-level directory of an extracted tree,
// or dir itself when the archive had several top-level entries.
func SourceRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
