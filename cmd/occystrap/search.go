package main

import (
	"github.com/spf13/cobra"

	digest "github.com/opencontainers/go-digest"

	searchfilter "github.com/shakenfist/occystrap/filter/search"
	"github.com/shakenfist/occystrap/pipeline"
	"github.com/shakenfist/occystrap/types/element"
)

var searchOpts struct {
	regex          bool
	scriptFriendly bool
}

var searchCmd = &cobra.Command{
	Use:   "search SOURCE PATTERN",
	Short: "Scan every layer's tar-member names against PATTERN, printing matches",
	Args:  cobra.ExactArgs(2),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchOpts.regex, "regex", false, "Treat PATTERN as a regular expression instead of a glob")
	searchCmd.Flags().BoolVar(&searchOpts.scriptFriendly, "script-friendly", false, "Print only the matching path, one per line, with no layer-digest column")
}

// discardSink terminates the search pipeline: search always delegates
// elements unchanged, and nothing downstream needs to retain them.
type discardSink struct{}

func (discardSink) Accept(element.Element) error { return nil }
func (discardSink) Want(digest.Digest) bool       { return true }
func (discardSink) Finalize() error               { return nil }

func runSearch(cmd *cobra.Command, args []string) error {
	src, err := buildSource(args[0])
	if err != nil {
		return err
	}

	var fopts []searchfilter.Opt
	fopts = append(fopts, searchfilter.WithWriter(stdout))
	if searchOpts.regex {
		fopts = append(fopts, searchfilter.WithRegexPattern(args[1]))
	} else {
		fopts = append(fopts, searchfilter.WithGlobPattern(args[1]))
	}
	if searchOpts.scriptFriendly {
		fopts = append(fopts, searchfilter.WithScriptFriendly())
	}
	f := searchfilter.New(nil, fopts...)

	p := pipeline.New(src, discardSink{}, f)
	return p.Run()
}
