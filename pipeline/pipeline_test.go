package pipeline

import (
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/types/element"
)

// fakeSource emits a fixed element sequence, recording which consumer it
// was handed so tests can assert filters are wired ahead of the sink.
type fakeSource struct {
	elems []element.Element
}

func (s *fakeSource) Run(consumer element.Consumer) error {
	for _, e := range s.elems {
		if !consumer.Want(e.Digest) {
			continue
		}
		if err := consumer.Accept(e); err != nil {
			return err
		}
	}
	return nil
}

// recordingSink collects every accepted element and counts Finalize calls.
type recordingSink struct {
	accepted []element.Element
	finals   int
}

func (s *recordingSink) Accept(e element.Element) error {
	s.accepted = append(s.accepted, e)
	return nil
}
func (s *recordingSink) Want(digest.Digest) bool { return true }
func (s *recordingSink) Finalize() error {
	s.finals++
	return nil
}

// upperFilter renames every element, uppercasing its Name, and records its
// own finalize order relative to the chain via the shared order slice.
type upperFilter struct {
	element.BaseFilter
	order *[]string
	tag   string
}

func (f *upperFilter) Accept(e element.Element) error {
	e.Name = e.Name + "!"
	return f.Next.Accept(e)
}

func (f *upperFilter) Finalize() error {
	if err := f.Next.Finalize(); err != nil {
		return err
	}
	*f.order = append(*f.order, f.tag)
	return nil
}

func TestRunDeliversElementsThroughFilterChain(t *testing.T) {
	src := &fakeSource{elems: []element.Element{
		{Type: element.Config, Name: "cfg.json"},
		{Type: element.Layer, Name: "layer1"},
	}}
	sink := &recordingSink{}
	var order []string
	f1 := &upperFilter{order: &order, tag: "f1"}
	f2 := &upperFilter{order: &order, tag: "f2"}

	p := New(src, sink, f1, f2)
	if err := p.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sink.accepted) != 2 {
		t.Fatalf("accepted %d elements, want 2", len(sink.accepted))
	}
	if sink.accepted[0].Name != "cfg.json!!" {
		t.Fatalf("name = %q, want double-bang suffix from both filters", sink.accepted[0].Name)
	}
}

func TestRunFinalizesInnerToOuter(t *testing.T) {
	src := &fakeSource{elems: []element.Element{{Type: element.Layer, Name: "a"}}}
	sink := &recordingSink{}
	var order []string
	f1 := &upperFilter{order: &order, tag: "outer"}
	f2 := &upperFilter{order: &order, tag: "inner"}

	p := New(src, sink, f1, f2)
	if err := p.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sink.finals != 1 {
		t.Fatalf("sink finalized %d times, want 1", sink.finals)
	}
	if len(order) != 2 || order[0] != "inner" || order[1] != "outer" {
		t.Fatalf("finalize order = %v, want [inner outer]", order)
	}
}

func TestRunWithNoFilters(t *testing.T) {
	src := &fakeSource{elems: []element.Element{{Type: element.Config, Name: "cfg.json"}}}
	sink := &recordingSink{}
	p := New(src, sink)
	if err := p.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.accepted) != 1 || sink.accepted[0].Name != "cfg.json" {
		t.Fatalf("accepted = %v", sink.accepted)
	}
	if sink.finals != 1 {
		t.Fatalf("finals = %d, want 1", sink.finals)
	}
}
