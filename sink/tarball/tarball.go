// Package tarball implements the Tarball Writer Sink (spec.md §4.8): a
// "docker save" v1.2 layout — manifest.json, the config JSON, and one
// `<layer-digest>/layer.tar` per layer — written to a single output tar.
// The outer container always uses USTAR (spec.md §4.6's "outer tarballs
// ... always use USTAR without scanning"); only mutating filters that
// re-tar layer *contents* need the narrowest-format scan.
package tarball

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/types/dockerspec"
	"github.com/shakenfist/occystrap/types/element"
)

// Sink writes one image to path in docker-save v1.2 format.
type Sink struct {
	path     string
	repoTags []string

	f          *os.File
	tw         *tar.Writer
	configName string
	layerNames []string
}

// Opt configures New.
type Opt func(*Sink)

// WithRepoTags records the RepoTags field manifest.json carries, e.g.
// ["myrepo/myimage:latest"].
func WithRepoTags(tags ...string) Opt {
	return func(s *Sink) { s.repoTags = tags }
}

// New builds a Sink writing to path.
func New(path string, opts ...Opt) *Sink {
	s := &Sink{path: path}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Want always admits: the tarball writer never dedups layers against
// prior output.
func (s *Sink) Want(digest.Digest) bool { return true }

func (s *Sink) open() error {
	if s.tw != nil {
		return nil
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("tarball sink: create %s: %w", s.path, err)
	}
	s.f = f
	s.tw = tar.NewWriter(f)
	return nil
}

// Accept writes a Config element as "<digest-hex>.json" and a Layer
// element as "<digest-hex>/layer.tar", streaming bytes as they arrive.
func (s *Sink) Accept(e element.Element) error {
	if err := s.open(); err != nil {
		return err
	}

	switch e.Type {
	case element.Config:
		name := e.Digest.Encoded() + ".json"
		if err := s.writeMember(name, e.Handle, e.Size); err != nil {
			return err
		}
		s.configName = name
	case element.Layer:
		dir := e.Digest.Encoded()
		if err := s.writeMember(dir+"/VERSION", nil, 0); err != nil {
			return err
		}
		if err := s.writeMemberBytes(dir+"/json", []byte("{}")); err != nil {
			return err
		}
		if err := s.writeMember(dir+"/layer.tar", e.Handle, e.Size); err != nil {
			return err
		}
		s.layerNames = append(s.layerNames, dir+"/layer.tar")
	default:
		return fmt.Errorf("tarball sink: unknown element type %v", e.Type)
	}
	return nil
}

func (s *Sink) writeMemberBytes(name string, data []byte) error {
	return s.writeMember(name, bytes.NewReader(data), int64(len(data)))
}

func (s *Sink) writeMember(name string, r io.Reader, size int64) error {
	hdr := &tar.Header{
		Name:   name,
		Mode:   0644,
		Size:   size,
		Format: tar.FormatUSTAR,
	}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tarball sink: write header %s: %w", name, err)
	}
	if r == nil {
		return nil
	}
	if _, err := io.Copy(s.tw, r); err != nil {
		return fmt.Errorf("tarball sink: write body %s: %w", name, err)
	}
	return nil
}

// Finalize writes manifest.json and closes the output file.
func (s *Sink) Finalize() error {
	if err := s.open(); err != nil {
		return err
	}
	manifest := dockerspec.SaveManifest{{
		Config:   s.configName,
		RepoTags: s.repoTags,
		Layers:   s.layerNames,
	}}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("tarball sink: marshal manifest.json: %w", err)
	}
	if err := s.writeMemberBytes("manifest.json", manifestBytes); err != nil {
		return err
	}
	if err := s.tw.Close(); err != nil {
		return fmt.Errorf("tarball sink: close tar: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("tarball sink: close %s: %w", s.path, err)
	}
	return nil
}
