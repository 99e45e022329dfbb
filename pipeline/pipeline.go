// Package pipeline wires a Source, an ordered chain of Filters, and a
// Sink into the single run described in spec.md §4.1: the source emits
// elements, each flows through the filter chain to the sink, and
// Finalize is called inner-to-outer once the source is drained.
package pipeline

import (
	"fmt"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/types/element"
)

// Source emits elements to a Consumer chain. Implementations are
// source/registry, source/daemon, and source/tarball.
type Source interface {
	// Run drains the source into consumer, calling consumer.Want before
	// pulling any layer bytes and consumer.Accept for every element.
	// It does not call Finalize; Pipeline.Run does that once, after Run
	// returns, on the whole chain from sink outward.
	Run(consumer element.Consumer) error
}

// Filter decorates a Consumer, named so the CLI's filter grammar (spec.md
// §6) can build a chain by name without every filter package needing to
// know about its neighbors.
type Filter interface {
	element.Consumer
}

// Pipeline composes one Source, zero or more Filters (applied in the
// order given — the Source feeds the first Filter, the last Filter wraps
// the Sink), and one Sink.
type Pipeline struct {
	Source  Source
	Filters []Filter
	Sink    element.Consumer
}

// New builds a Pipeline. Filters are given in application order: the
// first filter's Accept runs first on an element coming from Source.
func New(src Source, sink element.Consumer, filters ...Filter) *Pipeline {
	return &Pipeline{Source: src, Filters: filters, Sink: sink}
}

// head returns the Consumer the Source should drive into: the outermost
// filter if any are configured, else the Sink directly.
func (p *Pipeline) head() element.Consumer {
	if len(p.Filters) == 0 {
		return p.Sink
	}
	return p.Filters[0]
}

// linker is satisfied by any filter embedding element.BaseFilter; Run
// uses it to assign what each filter's Next points to while wiring the
// chain, without needing the concrete filter type.
type linker interface {
	SetNext(element.Consumer)
}

// Run drains the Source through the Filter chain into the Sink, then
// calls Finalize once on the outermost element of the chain. Every
// filter's Finalize ends by delegating to its Next (filters that hold
// state back, such as normalize and exclude, first emit it downstream),
// so that single call reaches the Sink, and the Sink's Finalize returns
// before any filter's does — without Pipeline needing to know which
// filters accumulate state.
func (p *Pipeline) Run() error {
	next := p.Sink
	for i := len(p.Filters) - 1; i >= 0; i-- {
		f := p.Filters[i]
		if l, ok := f.(linker); ok {
			l.SetNext(next)
		}
		next = f
	}

	if err := p.Source.Run(p.head()); err != nil {
		return fmt.Errorf("pipeline: source run: %w", err)
	}

	if err := p.head().Finalize(); err != nil {
		return fmt.Errorf("pipeline: finalize: %w", err)
	}
	return nil
}

// wantAll is a Consumer helper used by Sinks that never dedup layers
// (tarball/directory/daemon writers): every digest is wanted.
func wantAll(digest.Digest) bool { return true }

// WantAll is exported so sink packages can embed the trivial admission
// policy without repeating the one-liner.
var WantAll = wantAll
