package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shakenfist/occystrap/filter/exclude"
	"github.com/shakenfist/occystrap/filter/inspect"
	"github.com/shakenfist/occystrap/filter/normalize"
	"github.com/shakenfist/occystrap/filter/search"
	"github.com/shakenfist/occystrap/internal/errs"
	"github.com/shakenfist/occystrap/pipeline"
)

// parseFilterSpec splits one `-f` argument on spec.md §6's filter
// grammar: "name[:opt1=val1[,opt2=val2…]]".
func parseFilterSpec(spec string) (name string, opts map[string]string, err error) {
	opts = map[string]string{}
	name, rest, hasOpts := strings.Cut(spec, ":")
	if name == "" {
		return "", nil, fmt.Errorf("%w: empty filter name in %q", errs.ErrURIParse, spec)
	}
	if !hasOpts {
		return name, opts, nil
	}
	for _, kv := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return "", nil, fmt.Errorf("%w: malformed filter option %q in %q", errs.ErrURIParse, kv, spec)
		}
		opts[k] = v
	}
	return name, opts, nil
}

// buildFilter constructs one named filter from its grammar options.
func buildFilter(spec string) (pipeline.Filter, error) {
	name, opts, err := parseFilterSpec(spec)
	if err != nil {
		return nil, err
	}

	switch name {
	case "normalize-timestamps":
		var fopts []normalize.Opt
		if v, ok := opts["ts"]; ok {
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid ts %q: %v", errs.ErrURIParse, v, err)
			}
			fopts = append(fopts, normalize.WithTimestamp(ts))
		}
		return normalize.New(nil, fopts...), nil

	case "exclude":
		v, ok := opts["pattern"]
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: exclude filter requires pattern=<glob>[,<glob>…]", errs.ErrURIParse)
		}
		return exclude.New(nil, exclude.WithPatterns(strings.Split(v, ",")...)), nil

	case "search":
		var fopts []search.Opt
		fopts = append(fopts, search.WithWriter(stdout))
		if opts["regex"] == "true" {
			pat, ok := opts["pattern"]
			if !ok || pat == "" {
				return nil, fmt.Errorf("%w: search filter requires pattern=<>", errs.ErrURIParse)
			}
			fopts = append(fopts, search.WithRegexPattern(pat))
		} else {
			pat, ok := opts["pattern"]
			if !ok || pat == "" {
				return nil, fmt.Errorf("%w: search filter requires pattern=<>", errs.ErrURIParse)
			}
			fopts = append(fopts, search.WithGlobPattern(pat))
		}
		if opts["script_friendly"] == "true" {
			fopts = append(fopts, search.WithScriptFriendly())
		}
		return search.New(nil, fopts...), nil

	case "inspect":
		var fopts []inspect.Opt
		v, ok := opts["file"]
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: inspect filter requires file=<path>", errs.ErrURIParse)
		}
		fopts = append(fopts, inspect.WithOutputFile(v))
		return inspect.New(nil, fopts...), nil

	default:
		return nil, fmt.Errorf("%w: unknown filter %q", errs.ErrURIParse, name)
	}
}

// buildFilterChain builds every -f filter in order.
func buildFilterChain(specs []string) ([]pipeline.Filter, error) {
	filters := make([]pipeline.Filter, 0, len(specs))
	for _, spec := range specs {
		f, err := buildFilter(spec)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}
