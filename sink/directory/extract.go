package directory

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"
)

// extractLayer applies one layer's tar contents (already on disk at
// blobPath from the blob store) to this sink's extraction targets, per
// Mode.
func (s *Sink) extractLayer(blobPath string, d digest.Digest) error {
	switch s.mode {
	case ModeExpand:
		if err := s.unpackLiteral(blobPath, filepath.Join(s.root, "layers", d.Encoded())); err != nil {
			return err
		}
		return s.unpackMerged(blobPath, s.mergedDir())
	case ModeBundle:
		return s.unpackMerged(blobPath, filepath.Join(s.mergedDir(), "rootfs"))
	case ModeMounts:
		return s.unpackOverlay(blobPath, filepath.Join(s.root, "layers", d.Encoded()))
	default:
		return nil
	}
}

// unpackLiteral extracts every member as-is, including whiteout marker
// files themselves, into a directory scoped to this one layer.
func (s *Sink) unpackLiteral(blobPath, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return walkTar(blobPath, func(hdr *tar.Header, tr *tar.Reader) error {
		return writeEntry(dest, hdr, tr)
	})
}

// unpackMerged applies one layer on top of dest's existing contents. A
// whiteout's target (and, for an opaque marker, the directory's entire
// existing contents) is deleted before any of this layer's regular
// entries are written under that path, so that a later layer's deletion
// or replacement of an earlier layer's path always takes effect
// (spec.md §8 invariant 6).
func (s *Sink) unpackMerged(blobPath, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	// First walk: apply every whiteout; second walk: write the entries.
	if err := walkTar(blobPath, func(hdr *tar.Header, tr *tar.Reader) error {
		dir, base := filepath.Split(filepath.Clean(hdr.Name))
		if base == whiteoutOpaque {
			return clearDir(filepath.Join(dest, dir))
		}
		if strings.HasPrefix(base, whiteoutPrefix) {
			return os.RemoveAll(filepath.Join(dest, dir, strings.TrimPrefix(base, whiteoutPrefix)))
		}
		return nil
	}); err != nil {
		return err
	}
	return walkTar(blobPath, func(hdr *tar.Header, tr *tar.Reader) error {
		_, base := filepath.Split(filepath.Clean(hdr.Name))
		if strings.HasPrefix(base, whiteoutPrefix) {
			return nil
		}
		return writeEntry(dest, hdr, tr)
	})
}

// unpackOverlay extracts one layer into its own lowerdir, translating
// OCI whiteout markers into the char-device(0,0) / trusted.overlay.opaque
// xattr form the overlay filesystem driver expects natively, so the
// output directories are usable directly as `mount -t overlay lowerdir=`.
func (s *Sink) unpackOverlay(blobPath, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return walkTar(blobPath, func(hdr *tar.Header, tr *tar.Reader) error {
		name := filepath.Clean(hdr.Name)
		dir, base := filepath.Split(name)
		target := filepath.Join(dest, name)

		if base == whiteoutOpaque {
			opaqueDir := filepath.Join(dest, dir)
			if err := os.MkdirAll(opaqueDir, 0o755); err != nil {
				return err
			}
			return unix.Setxattr(opaqueDir, "trusted.overlay.opaque", []byte("y"), 0)
		}
		if strings.HasPrefix(base, whiteoutPrefix) {
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.RemoveAll(target)
			return unix.Mknod(target, unix.S_IFCHR|0o644, 0)
		}
		return writeEntry(dest, hdr, tr)
	})
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func walkTar(blobPath string, fn func(*tar.Header, *tar.Reader) error) error {
	f, err := os.Open(blobPath)
	if err != nil {
		return fmt.Errorf("directory sink: open %s: %w", blobPath, err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("directory sink: read tar %s: %w", blobPath, err)
		}
		if err := fn(hdr, tr); err != nil {
			return fmt.Errorf("directory sink: apply %s from %s: %w", hdr.Name, blobPath, err)
		}
	}
}

// writeEntry materializes one ordinary tar entry at dest/<hdr.Name>,
// deleting whatever was previously there first so a later layer can
// replace a file with a directory (or vice versa) cleanly.
func writeEntry(dest string, hdr *tar.Header, tr *tar.Reader) error {
	target := filepath.Join(dest, filepath.Clean(hdr.Name))
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode))
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.RemoveAll(target)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.RemoveAll(target)
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeLink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		os.RemoveAll(target)
		return os.Link(filepath.Join(dest, filepath.Clean(hdr.Linkname)), target)
	default:
		// Device nodes, fifos, and similar are not needed for the layer
		// content this sink extracts; skip rather than fail the run.
		return nil
	}
}
