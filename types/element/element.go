// Package element defines the Image Element tagged union that flows
// through the pipeline (spec.md §3 "Image Element") and the Consumer
// contract every filter and sink implements (spec.md §4.1).
package element

import (
	"io"

	digest "github.com/opencontainers/go-digest"
)

// Type tags an Element as a config document or a layer tar stream.
type Type int

const (
	// Config is a single JSON document describing the image.
	Config Type = iota
	// Layer is a (possibly compressed on the wire, always uncompressed by
	// the time a Source hands it to a Consumer) tar archive.
	Layer
)

func (t Type) String() string {
	switch t {
	case Config:
		return "config"
	case Layer:
		return "layer"
	default:
		return "unknown"
	}
}

// Handle is the byte stream backing one Element. It is only valid for the
// duration of the Accept call that receives it; a Consumer that needs to
// retain the bytes must copy them to a scratch file before returning.
type Handle = io.Reader

// Element is one unit handed from a Source through zero or more Filters
// to a Sink.
type Element struct {
	Type Type
	// Name is a path-like identifier the sink uses to place the element
	// in its output (e.g. "<sha256>.json" or "blobs/sha256/<digest>").
	// Filters that mutate bytes rename the element to match the new digest.
	Name string
	// Handle streams the element's bytes. For Layer elements this is
	// always the decompressed tar content; compression is chosen by sinks
	// on egress, never carried between pipeline stages.
	Handle Handle
	// Digest is the element's declared content digest: the diffID for a
	// Layer (SHA256 of the decompressed tar), or the config digest for a
	// Config. It is empty until a Source or mutating Filter has computed it.
	Digest digest.Digest
	// MediaType is the element's declared media type as seen by the
	// source (config JSON media type, or the layer's OCI/Docker media
	// type prior to any recompression a sink performs).
	MediaType string
	// Size is the declared size in bytes, when known up front; -1 if unknown.
	Size int64
}

// Consumer is the uniform interface every Filter and Sink implements
// (spec.md §4.1). A Filter wraps another Consumer and decorates Accept;
// a Sink terminates the chain.
type Consumer interface {
	// Accept receives one Element. Implementations that need to retain
	// handle bytes beyond the call must copy them out first.
	Accept(e Element) error
	// Want is called by a Source before it pulls a Layer's bytes, letting
	// the consumer chain skip blobs it already holds (e.g. registry
	// pusher dedup) or has no interest in. A nil digest (declared digest
	// not yet known) must return true.
	Want(d digest.Digest) bool
	// Finalize is called exactly once, innermost (Sink) first, after the
	// Source has emitted every Element. It writes out whatever summary
	// document (manifest, index, catalog) ties the elements together.
	Finalize() error
}

// BaseFilter is embedded by concrete filters to get pass-through defaults
// for Want and Finalize; filters only override what they need to change.
// This mirrors the teacher's functional-options/embedded-default config
// pattern (scheme/ocidir's `config` struct) applied to the decorator chain.
type BaseFilter struct {
	Next Consumer
}

// SetNext assigns the consumer this filter delegates to. Called by
// pipeline.Pipeline.Run while wiring the chain; exported so filter
// packages never need their own plumbing for it.
func (b *BaseFilter) SetNext(next Consumer) {
	b.Next = next
}

// Accept delegates unchanged. Concrete filters override this.
func (b *BaseFilter) Accept(e Element) error {
	return b.Next.Accept(e)
}

// Want delegates to the wrapped consumer.
func (b *BaseFilter) Want(d digest.Digest) bool {
	return b.Next.Want(d)
}

// Finalize delegates to the wrapped consumer. Concrete filters that
// accumulate state override this to flush before or after delegating,
// per spec.md §5(e): inner (sink) finalizes before outer filters.
func (b *BaseFilter) Finalize() error {
	return b.Next.Finalize()
}
