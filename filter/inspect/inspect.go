// Package inspect implements the inspect Filter (spec.md §4.5): a pure
// passthrough that appends one JSON line per Layer (digest, size,
// human-readable size, created_by from the config's history, repo tags)
// to a configured file, in Finalize once the Config element has supplied
// the history to correlate against. Useful between other filters to
// measure their effect on layer count/size.
//
// Grounded on no direct teacher analogue; built against spec.md's filter
// contract in the teacher's functional-options/embedded-default shape.
package inspect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"

	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/ocispec"
)

// layerRecord is one line this filter appends to its output.
type layerRecord struct {
	Digest    string   `json:"digest"`
	Size      int64    `json:"size"`
	HumanSize string   `json:"human_size"`
	CreatedBy string   `json:"created_by,omitempty"`
	RepoTags  []string `json:"repo_tags,omitempty"`
}

// Filter records layer metadata as elements pass through unchanged.
type Filter struct {
	element.BaseFilter
	out      io.Writer
	closer   io.Closer
	repoTags []string

	layers     []layerRecord
	createdBys []string
}

// Opt configures New.
type Opt func(*Filter)

// WithOutputFile appends JSON lines to path, created if missing.
func WithOutputFile(path string) Opt {
	return func(f *Filter) {
		fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			// Deferred: surfaced on first Finalize call via f.out being nil.
			f.out = nil
			return
		}
		f.out = fh
		f.closer = fh
	}
}

// WithWriter sets the output writer directly (used by tests; the CLI
// always goes through WithOutputFile).
func WithWriter(w io.Writer) Opt {
	return func(f *Filter) { f.out = w }
}

// WithRepoTags records RepoTags on every emitted line.
func WithRepoTags(tags ...string) Opt {
	return func(f *Filter) { f.repoTags = tags }
}

// New builds an inspect Filter wrapping next.
func New(next element.Consumer, opts ...Opt) *Filter {
	f := &Filter{}
	f.Next = next
	for _, o := range opts {
		o(f)
	}
	return f
}

// Accept records the Layer's digest/size and delegates unchanged, or
// parses the Config's history (without consuming its bytes) to supply
// each layer's created_by before delegating it unchanged.
func (f *Filter) Accept(e element.Element) error {
	switch e.Type {
	case element.Layer:
		f.layers = append(f.layers, layerRecord{Digest: e.Digest.String(), Size: e.Size})
		return f.Next.Accept(e)
	case element.Config:
		data, err := io.ReadAll(e.Handle)
		if err != nil {
			return fmt.Errorf("inspect filter: read config: %w", err)
		}
		f.recordHistory(data)
		e.Handle = bytes.NewReader(data)
		return f.Next.Accept(e)
	default:
		return fmt.Errorf("inspect filter: unknown element type %v", e.Type)
	}
}

// recordHistory extracts each non-empty-layer history entry's CreatedBy
// in order; OCI image configs list history 1:1 with diff_ids once
// EmptyLayer entries are filtered out.
func (f *Filter) recordHistory(configBytes []byte) {
	var img ocispec.Image
	if err := json.Unmarshal(configBytes, &img); err != nil {
		return
	}
	for _, h := range img.History {
		if h.EmptyLayer {
			continue
		}
		f.createdBys = append(f.createdBys, h.CreatedBy)
	}
}

// Finalize writes one JSON line per layer, zipping in created_by where
// history was available, then delegates.
func (f *Filter) Finalize() error {
	if f.out == nil {
		return fmt.Errorf("inspect filter: no output configured")
	}
	for i, rec := range f.layers {
		if i < len(f.createdBys) {
			rec.CreatedBy = f.createdBys[i]
		}
		rec.HumanSize = units.HumanSize(float64(rec.Size))
		rec.RepoTags = f.repoTags
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("inspect filter: marshal record: %w", err)
		}
		if _, err := f.out.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("inspect filter: write record: %w", err)
		}
	}
	if f.closer != nil {
		if err := f.closer.Close(); err != nil {
			return fmt.Errorf("inspect filter: close output: %w", err)
		}
	}
	return f.Next.Finalize()
}
