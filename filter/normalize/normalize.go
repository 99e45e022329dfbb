// Package normalize implements the normalize-timestamps Filter
// (spec.md §4.5): every Layer's tar member mtime is rewritten to a fixed
// value and any atime/ctime is cleared, its digest is recomputed, and the buffered Config's
// rootfs.diff_ids and history.created fields are patched to match before
// it is emitted last, per the Open Question decision that a mutating
// filter must buffer Config until every Layer has been seen (DESIGN.md).
//
// Grounded on no direct teacher analogue (the teacher never rewrites tar
// content); built against spec.md's filter contract using
// internal/tarwire for the re-tar/digest step and the teacher's
// functional-options/embedded-default shape (scheme/ocidir's Opts/config
// pattern) for configuration.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"archive/tar"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/internal/tarwire"
	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/ocispec"
)

// Filter rewrites every Layer's tar member timestamps to a fixed value.
type Filter struct {
	element.BaseFilter
	ts time.Time

	haveConfig  bool
	configElem  element.Element
	configBytes []byte
	newDiffIDs  []digest.Digest
}

// Opt configures New.
type Opt func(*Filter)

// WithTimestamp sets the fixed Unix epoch seconds every rewritten
// mtime is set to (default 0).
func WithTimestamp(ts int64) Opt {
	return func(f *Filter) { f.ts = time.Unix(ts, 0) }
}

// New builds a normalize-timestamps Filter wrapping next.
func New(next element.Consumer, opts ...Opt) *Filter {
	f := &Filter{ts: time.Unix(0, 0)}
	f.Next = next
	for _, o := range opts {
		o(f)
	}
	return f
}

// Accept buffers the Config element until Finalize and rewrites+delegates
// each Layer element immediately.
func (f *Filter) Accept(e element.Element) error {
	switch e.Type {
	case element.Config:
		data, err := io.ReadAll(e.Handle)
		if err != nil {
			return fmt.Errorf("normalize filter: read config: %w", err)
		}
		f.haveConfig = true
		f.configElem = e
		f.configBytes = data
		return nil
	case element.Layer:
		var buf bytes.Buffer
		d, err := tarwire.Rewrite(e.Handle, &buf, f.normalizeHeader)
		if err != nil {
			return fmt.Errorf("normalize filter: rewrite layer: %w", err)
		}
		f.newDiffIDs = append(f.newDiffIDs, d)
		ne := e
		ne.Digest = d
		ne.Handle = bytes.NewReader(buf.Bytes())
		ne.Size = int64(buf.Len())
		return f.Next.Accept(ne)
	default:
		return fmt.Errorf("normalize filter: unknown element type %v", e.Type)
	}
}

func (f *Filter) normalizeHeader(hdr *tar.Header) (*tar.Header, bool, error) {
	// AccessTime/ChangeTime are left zero rather than set to f.ts: USTAR
	// has no atime/ctime fields, so archive/tar refuses to write a USTAR
	// header carrying a non-zero value for either, forcing every member
	// to PAX and inflating output for no normalization benefit.
	hdr.ModTime = f.ts
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	return hdr, true, nil
}

// Finalize patches the buffered Config's rootfs.diff_ids and every
// history entry's Created time to f.ts, emits it, then delegates.
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
			return fmt.Errorf("normalize filter: emit patched config: %w", err)
		}
	}
	return f.Next.Finalize()
}

func (f *Filter) patchConfig() ([]byte, digest.Digest, error) {
	var img ocispec.Image
	if err := json.Unmarshal(f.configBytes, &img); err != nil {
		return nil, "", fmt.Errorf("normalize filter: parse config: %w", err)
	}
	diffIDs := make([]digest.Digest, len(f.newDiffIDs))
	copy(diffIDs, f.newDiffIDs)
	img.RootFS.DiffIDs = diffIDs
	for i := range img.History {
		ts := f.ts
		img.History[i].Created = &ts
	}
	out, err := json.Marshal(img)
	if err != nil {
		return nil, "", fmt.Errorf("normalize filter: marshal patched config: %w", err)
	}
	return out, digest.FromBytes(out), nil
}
