// Package tarball implements the Saved-Tarball Reader Source (spec.md
// §4.4): opens a file, classifies it as an OCI Image Layout or legacy
// content-addressable "docker save" tar, and emits Config then Layers in
// manifest order. Parsing itself lives in internal/tarstream, shared with
// source/daemon's live export stream.
package tarball

import (
	"fmt"
	"os"

	"github.com/shakenfist/occystrap/internal/tarstream"
	"github.com/shakenfist/occystrap/types/element"
)

// Source reads one image from a tar file on disk.
type Source struct {
	path string
}

// New builds a Source reading from path.
func New(path string) *Source {
	return &Source{path: path}
}

// Run opens the file and streams its contents to consumer.
func (s *Source) Run(consumer element.Consumer) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("tarball source: open %s: %w", s.path, err)
	}
	defer f.Close()

	if err := tarstream.Parse(f, consumer); err != nil {
		return fmt.Errorf("tarball source: %s: %w", s.path, err)
	}
	return nil
}
