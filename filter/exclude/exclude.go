// Package exclude implements the exclude Filter (spec.md §4.5): tar
// members whose path matches any of a configured glob pattern list are
// dropped from each Layer, the layer's digest is recomputed, and the
// buffered Config's rootfs.diff_ids is patched to match — otherwise
// identical to filter/normalize's buffer-then-patch shape, since both
// are "recompute digest, rewrite config" filters per spec.md §4.5.
package exclude

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"archive/tar"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/internal/globmatch"
	"github.com/shakenfist/occystrap/internal/tarwire"
	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/ocispec"
)

// Filter drops tar members matching any of Patterns from each Layer.
type Filter struct {
	element.BaseFilter
	patterns []*globmatch.Pattern

	haveConfig  bool
	configElem  element.Element
	configBytes []byte
	newDiffIDs  []digest.Digest
}

// Opt configures New.
type Opt func(*Filter)

// WithPatterns sets the glob patterns (double-star supported) whose
// matches are dropped from every layer.
func WithPatterns(patterns ...string) Opt {
	return func(f *Filter) { f.patterns = globmatch.CompileAll(patterns) }
}

// New builds an exclude Filter wrapping next.
func New(next element.Consumer, opts ...Opt) *Filter {
	f := &Filter{}
	f.Next = next
	for _, o := range opts {
		o(f)
	}
	return f
}

// Accept buffers the Config element until Finalize and rewrites+delegates
// each Layer element immediately, dropping matched members.
func (f *Filter) Accept(e element.Element) error {
	switch e.Type {
	case element.Config:
		data, err := io.ReadAll(e.Handle)
		if err != nil {
			return fmt.Errorf("exclude filter: read config: %w", err)
		}
		f.haveConfig = true
		f.configElem = e
		f.configBytes = data
		return nil
	case element.Layer:
		var buf bytes.Buffer
		d, err := tarwire.Rewrite(e.Handle, &buf, f.filterHeader)
		if err != nil {
			return fmt.Errorf("exclude filter: rewrite layer: %w", err)
		}
		f.newDiffIDs = append(f.newDiffIDs, d)
		ne := e
		ne.Digest = d
		ne.Handle = bytes.NewReader(buf.Bytes())
		ne.Size = int64(buf.Len())
		return f.Next.Accept(ne)
	default:
		return fmt.Errorf("exclude filter: unknown element type %v", e.Type)
	}
}

func (f *Filter) filterHeader(hdr *tar.Header) (*tar.Header, bool, error) {
	name := filepath.Clean(hdr.Name)
	if globmatch.MatchAny(f.patterns, name) {
		return hdr, false, nil
	}
	return hdr, true, nil
}

// Finalize patches the buffered Config's rootfs.diff_ids, emits it, then
// delegates.
func (f *Filter) Finalize() error {
	if f.haveConfig {
		patched, d, err := f.patchConfig()
		if err != nil {
			return err
		}
		ne := f.configElem
		ne.Digest = d
		ne.Handle = bytes.NewReader(patched)
		ne.Size = int64(len(patched))
		if err := f.Next.Accept(ne); err != nil {
			return fmt.Errorf("exclude filter: emit patched config: %w", err)
		}
	}
	return f.Next.Finalize()
}

func (f *Filter) patchConfig() ([]byte, digest.Digest, error) {
	var img ocispec.Image
	if err := json.Unmarshal(f.configBytes, &img); err != nil {
		return nil, "", fmt.Errorf("exclude filter: parse config: %w", err)
	}
	diffIDs := make([]digest.Digest, len(f.newDiffIDs))
	copy(diffIDs, f.newDiffIDs)
	img.RootFS.DiffIDs = diffIDs
	out, err := json.Marshal(img)
	if err != nil {
		return nil, "", fmt.Errorf("exclude filter: marshal patched config: %w", err)
	}
	return out, digest.FromBytes(out), nil
}
