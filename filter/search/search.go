// Package search implements the search Filter (spec.md §4.5): for each
// Layer, tar-member names are scanned against a glob or regex pattern
// and matches are printed to a configured writer, one line per match in
// the format "<layer-digest> <member-path>" (scenario S4). Elements are
// always delegated unchanged; search never rewrites bytes or digests.
package search

import (
	"archive/tar"
	"fmt"
	"io"
	"regexp"

	"github.com/shakenfist/occystrap/internal/globmatch"
	"github.com/shakenfist/occystrap/types/element"
)

// matcher abstracts the two pattern styles search supports.
type matcher interface {
	Match(name string) bool
}

type globMatcher struct{ pattern *globmatch.Pattern }

func (m globMatcher) Match(name string) bool { return m.pattern.Match(name) }

type regexMatcher struct{ re *regexp.Regexp }

func (m regexMatcher) Match(name string) bool { return m.re.MatchString(name) }

// Filter scans each Layer's member names against Pattern and prints hits.
type Filter struct {
	element.BaseFilter
	out            io.Writer
	match          matcher
	scriptFriendly bool
}

// Opt configures New.
type Opt func(*Filter)

// WithGlobPattern matches tar-member names against a double-star-aware
// glob pattern (spec.md §4.5's default "pattern=<glob>" form).
func WithGlobPattern(pattern string) Opt {
	return func(f *Filter) { f.match = globMatcher{globmatch.Compile(pattern)} }
}

// WithRegexPattern matches tar-member names against a regular expression
// (spec.md §4.5's "regex=true" form).
func WithRegexPattern(pattern string) Opt {
	return func(f *Filter) {
		f.match = regexMatcher{regexp.MustCompile(pattern)}
	}
}

// WithWriter sets the destination for match lines (defaults to os.Stdout
// via the CLI layer; tests set this directly).
func WithWriter(w io.Writer) Opt {
	return func(f *Filter) { f.out = w }
}

// WithScriptFriendly drops the layer-digest column, printing only the
// member path so output can be piped straight into another tool
// (spec.md §4.5's "script_friendly=true" option; the exact output shape
// is left to us by the spec, so we choose the narrowest pipe-friendly
// form: one bare path per line, nothing else).
func WithScriptFriendly() Opt {
	return func(f *Filter) { f.scriptFriendly = true }
}

// New builds a search Filter wrapping next.
func New(next element.Consumer, opts ...Opt) *Filter {
	f := &Filter{}
	f.Next = next
	for _, o := range opts {
		o(f)
	}
	return f
}

// Accept scans Layer members for matches, printing each one, then
// delegates the element unchanged. Config elements pass straight
// through untouched.
func (f *Filter) Accept(e element.Element) error {
	if e.Type != element.Layer || f.match == nil {
		return f.Next.Accept(e)
	}

	pr, pw := io.Pipe()
	tee := io.TeeReader(e.Handle, pw)
	tr := tar.NewReader(tee)
	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				// Pass on whatever follows the end-of-archive marker too,
				// so downstream receives every byte of the layer.
				if _, err := io.Copy(io.Discard, tee); err != nil {
					errCh <- fmt.Errorf("search filter: read layer: %w", err)
					return
				}
				errCh <- nil
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("search filter: read layer: %w", err)
				return
			}
			if f.match.Match(hdr.Name) {
				if err := f.printMatch(e, hdr.Name); err != nil {
					errCh <- err
					return
				}
			}
		}
	}()

	ne := e
	ne.Handle = pr
	if err := f.Next.Accept(ne); err != nil {
		io.Copy(io.Discard, pr) //nolint:errcheck // drain so the scanning goroutine's writes don't block
		return err
	}
	io.Copy(io.Discard, pr) //nolint:errcheck // drain anything downstream left unread
	return <-errCh
}

func (f *Filter) printMatch(e element.Element, name string) error {
	if f.scriptFriendly {
		_, err := fmt.Fprintln(f.out, name)
		return err
	}
	_, err := fmt.Fprintf(f.out, "%s %s\n", e.Digest.String(), name)
	return err
}
