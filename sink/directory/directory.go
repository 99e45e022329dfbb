// Package directory implements the Directory, OCI-Bundle, and Mounts
// Writer sinks (spec.md §4.9). All three share one content-addressable
// blob store (blobs/<algorithm>/<encoded-digest>, deduplicated across
// every image ever written to the same root) and differ only in what
// they additionally extract: ModePlain writes just the blob store and a
// manifest record, ModeExpand also unpacks a per-layer literal view and a
// whiteout-resolved merged view, ModeBundle narrows the merged view to
// one image plus a synthesized OCI runtime config.json, and ModeMounts
// extracts per-layer overlay-ready lowerdirs with no merged view.
//
// Grounded on scheme/ocidir/ocidir.go's oci-layout/index.json
// read-modify-write and valid() checks, adapted from the registry
// OCI-layout scheme onto catalog.json + extracted-filesystem semantics.
// The exclusive-lock guard around catalog.json is grounded on
// pkg/util/fs/lock/lock.go's unix.Flock wrapping (from the apptainer
// example), since ocidir.go assumes an unshared directory while spec.md
// §5 "Shared resources" requires catalog.json to stay safe across
// concurrent writers targeting the same directory.
package directory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"

	"github.com/shakenfist/occystrap/types/element"
)

// Mode selects which of spec.md §4.9's three writers a Sink behaves as.
type Mode int

const (
	// ModePlain writes only the blob store and manifest record.
	ModePlain Mode = iota
	// ModeExpand additionally unpacks each layer under layers/<digest>/
	// (whiteouts kept literal) and builds a whiteout-resolved merged view
	// under the manifest's own directory.
	ModeExpand
	// ModeBundle restricts the merged view to a single image, writing it
	// to rootfs/ beside a synthesized OCI runtime config.json.
	ModeBundle
	// ModeMounts extracts each layer to its own overlay-ready lowerdir,
	// converting OCI whiteout markers to overlay's native form.
	ModeMounts
)

const catalogFile = "catalog.json"
const whiteoutPrefix = ".wh."
const whiteoutOpaque = ".wh..wh..opq"

// CatalogEntry records one image written into a shared directory root.
type CatalogEntry struct {
	Name         string `json:"name"`
	ManifestFile string `json:"manifest_file"`
}

// Catalog is catalog.json's contents.
type Catalog struct {
	Manifests []CatalogEntry `json:"manifests"`
}

// ManifestRecord is the per-image summary this sink writes: manifest.json
// by default, or manifest-<name>-<tag>.json under WithUniqueNames.
type ManifestRecord struct {
	Config   string   `json:"config"`
	RepoTags []string `json:"repo_tags,omitempty"`
	Layers   []string `json:"layers"`
}

// Sink writes one image under root, per Mode.
type Sink struct {
	root        string
	mode        Mode
	uniqueNames bool
	image       string
	tag         string

	configBytes  []byte
	configDigest digest.Digest
	layerBlobs   []string // blob paths, apply order
}

// Opt configures New.
type Opt func(*Sink)

// WithImageRef names the image for unique_names manifest naming and
// RepoTags; tag may be empty.
func WithImageRef(name, tag string) Opt {
	return func(s *Sink) { s.image, s.tag = name, tag }
}

// WithUniqueNames stores this image's manifest as manifest-<name>-<tag>.json
// and records it in catalog.json, instead of overwriting a single
// manifest.json, so a shared directory root can hold several images with
// their layer blobs deduplicated across all of them.
func WithUniqueNames() Opt {
	return func(s *Sink) { s.uniqueNames = true }
}

// New builds a Sink writing under root in the given Mode.
func New(root string, mode Mode, opts ...Opt) *Sink {
	s := &Sink{root: root, mode: mode}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Want always admits; the blob store dedups by digest on write rather
// than declining elements up front.
func (s *Sink) Want(digest.Digest) bool { return true }

func (s *Sink) blobPath(d digest.Digest) string {
	return filepath.Join("blobs", d.Algorithm().String(), d.Encoded())
}

// writeBlob stores data content-addressably, skipping the write (after
// draining the reader) if the blob already exists — shared with another
// image in this root, or left over from a prior run of this one.
func (s *Sink) writeBlob(d digest.Digest, r io.Reader) (string, error) {
	rel := s.blobPath(d)
	abs := filepath.Join(s.root, rel)
	if _, err := os.Stat(abs); err == nil {
		io.Copy(io.Discard, r)
		return rel, nil
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("directory sink: mkdir %s: %w", filepath.Dir(abs), err)
	}
	tmp := abs + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("directory sink: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("directory sink: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("directory sink: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		return "", fmt.Errorf("directory sink: rename %s: %w", tmp, err)
	}
	return rel, nil
}

// Accept stores the element's blob and, in every Mode but ModePlain,
// extracts Layer elements per the mode's extraction rule.
func (s *Sink) Accept(e element.Element) error {
	rel, err := s.writeBlob(e.Digest, e.Handle)
	if err != nil {
		return err
	}

	switch e.Type {
	case element.Config:
		data, err := os.ReadFile(filepath.Join(s.root, rel))
		if err != nil {
			return fmt.Errorf("directory sink: reread config: %w", err)
		}
		s.configBytes = data
		s.configDigest = e.Digest
	case element.Layer:
		s.layerBlobs = append(s.layerBlobs, rel)
		if s.mode != ModePlain {
			if err := s.extractLayer(filepath.Join(s.root, rel), e.Digest); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("directory sink: unknown element type %v", e.Type)
	}
	return nil
}

// Finalize writes the manifest record (and catalog.json entry, under
// WithUniqueNames), then the bundle's config.json in ModeBundle.
func (s *Sink) Finalize() error {
	base := s.manifestBaseName()
	manifestName := "manifest.json"
	if s.uniqueNames {
		manifestName = base + ".json"
	}

	var repoTags []string
	if s.image != "" {
		name := s.image
		if s.tag != "" {
			name += ":" + s.tag
		}
		repoTags = []string{name}
	}
	rec := ManifestRecord{
		Config:   s.blobPath(s.configDigest),
		RepoTags: repoTags,
		Layers:   append([]string(nil), s.layerBlobs...),
	}
	recBytes, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("directory sink: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, manifestName), recBytes, 0o644); err != nil {
		return fmt.Errorf("directory sink: write %s: %w", manifestName, err)
	}

	if s.uniqueNames {
		if err := s.updateCatalog(manifestName); err != nil {
			return err
		}
	}

	if s.mode == ModeBundle {
		return s.writeBundleConfig()
	}
	return nil
}

func (s *Sink) manifestBaseName() string {
	if s.image == "" {
		return "manifest"
	}
	name := "manifest-" + sanitizeName(s.image)
	if s.tag != "" {
		name += "-" + sanitizeName(s.tag)
	}
	return name
}

func (s *Sink) mergedDir() string {
	return filepath.Join(s.root, s.manifestBaseName())
}

func sanitizeName(s string) string {
	return strings.NewReplacer("/", "_", ":", "_", "@", "_").Replace(s)
}

// updateCatalog read-modify-writes catalog.json under an exclusive
// flock, so multiple processes targeting the same directory root don't
// race each other's entries.
func (s *Sink) updateCatalog(manifestName string) error {
	path := filepath.Join(s.root, catalogFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, ferr := os.Create(path)
		if ferr != nil {
			return fmt.Errorf("directory sink: create %s: %w", catalogFile, ferr)
		}
		f.Close()
	}

	fd, err := unix.Open(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("directory sink: open %s: %w", catalogFile, err)
	}
	defer unix.Close(fd)
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("directory sink: lock %s: %w", catalogFile, err)
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("directory sink: read %s: %w", catalogFile, err)
	}
	var cat Catalog
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cat); err != nil {
			return fmt.Errorf("directory sink: parse %s: %w", catalogFile, err)
		}
	}

	name := s.image
	if s.tag != "" {
		name += ":" + s.tag
	}
	replaced := false
	for i, e := range cat.Manifests {
		if e.Name == name {
			cat.Manifests[i].ManifestFile = manifestName
			replaced = true
			break
		}
	}
	if !replaced {
		cat.Manifests = append(cat.Manifests, CatalogEntry{Name: name, ManifestFile: manifestName})
	}
	sort.Slice(cat.Manifests, func(i, j int) bool { return cat.Manifests[i].Name < cat.Manifests[j].Name })

	out, err := json.MarshalIndent(cat, "", "  ")
	if err != nil {
		return fmt.Errorf("directory sink: marshal %s: %w", catalogFile, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("directory sink: write %s: %w", catalogFile, err)
	}
	return nil
}
