// Package uri parses the six image-location grammars from spec.md §6
// into a types/ref.Ref plus the scheme-specific Options the query string
// carries. This and the CLI flag parser are the two "external
// collaborators" spec.md §1 names as out of scope for the core engine;
// this package exists because a runnable CLI needs *some* implementation
// of the contract spec.md §6 defines, built in the same regexp-plus-
// scheme-switch idiom as the teacher's types/ref/ref.go.
package uri

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	dockerref "github.com/docker/distribution/reference"

	"github.com/shakenfist/occystrap/internal/errs"
	"github.com/shakenfist/occystrap/types/ref"
)

var schemeRE = regexp.MustCompile(`^([a-z]+)://(.+)$`)

// knownQueryKeys is the whitelist from spec.md §6; any other key is a
// parse error ("unknown keys are an error").
var knownQueryKeys = map[string]bool{
	"arch":        true,
	"os":          true,
	"variant":     true,
	"insecure":    true,
	"socket":      true,
	"compression": true,
	"unique_names": true,
	"expand":      true,
	"max_workers": true,
}

// Options holds the scheme-specific knobs parsed from the URI's query
// string and, for registry://, its userinfo.
type Options struct {
	Username    string
	Password    string
	Insecure    bool
	Socket      string
	Compression string // "gzip" or "zstd"
	UniqueNames bool
	Expand      bool
	MaxWorkers  int
}

// Parse parses raw against the six grammars in spec.md §6 and returns the
// resulting Ref and Options. Any grammar violation, unknown scheme, or
// unknown query key returns an error wrapping errs.ErrURIParse.
func Parse(raw string) (ref.Ref, Options, error) {
	m := schemeRE.FindStringSubmatch(raw)
	if m == nil {
		return ref.Ref{}, Options{}, fmt.Errorf("%w: missing scheme in %q", errs.ErrURIParse, raw)
	}
	scheme, rest := m[1], m[2]

	switch scheme {
	case "registry":
		return parseRegistry(raw, rest)
	case "docker":
		return parseDocker(raw, rest)
	case "tar":
		return parseFileScheme(raw, ref.SchemeTar, rest)
	case "dir":
		return parseFileScheme(raw, ref.SchemeDir, rest)
	case "oci":
		return parseFileScheme(raw, ref.SchemeOCI, rest)
	case "mounts":
		return parseFileScheme(raw, ref.SchemeMounts, rest)
	default:
		return ref.Ref{}, Options{}, fmt.Errorf("%w: unknown scheme %q", errs.ErrURIParse, scheme)
	}
}

// splitQuery divides rest into the path/authority part and a parsed,
// key-validated query, since every scheme shares the "?k=v&..." suffix
// grammar and the same unknown-key rule.
func splitQuery(rest string) (string, url.Values, error) {
	path := rest
	var rawQuery string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		path = rest[:i]
		rawQuery = rest[i+1:]
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid query: %v", errs.ErrURIParse, err)
	}
	for k := range q {
		if !knownQueryKeys[k] {
			return "", nil, fmt.Errorf("%w: unknown query key %q", errs.ErrURIParse, k)
		}
	}
	return path, q, nil
}

// optionsFromQuery leaves Compression empty when the query omits it,
// rather than defaulting to "gzip" here: a global --compression flag or
// OCCYSTRAP_COMPRESSION env var only overrides Options.Compression when
// it's still empty (cmd/occystrap's applyGlobalFlags), so defaulting it
// in this constructor would make that precedence check always lose. The
// gzip default is applied once, downstream, by compressionFromOpt.
func optionsFromQuery(q url.Values) (Options, error) {
	o := Options{}
	if v := q.Get("insecure"); v != "" {
		o.Insecure = v == "true" || v == "1"
	}
	if v := q.Get("socket"); v != "" {
		o.Socket = v
	}
	if v := q.Get("compression"); v != "" {
		if v != "gzip" && v != "zstd" {
			return o, fmt.Errorf("%w: unsupported compression %q", errs.ErrURIParse, v)
		}
		o.Compression = v
	}
	if v := q.Get("unique_names"); v != "" {
		o.UniqueNames = v == "true" || v == "1"
	}
	if v := q.Get("expand"); v != "" {
		o.Expand = v == "true" || v == "1"
	}
	if v := q.Get("max_workers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return o, fmt.Errorf("%w: invalid max_workers %q", errs.ErrURIParse, v)
		}
		o.MaxWorkers = n
	}
	return o, nil
}

func platformFromQuery(q url.Values) ref.Platform {
	return ref.Platform{
		OS:           q.Get("os"),
		Architecture: q.Get("arch"),
		Variant:      q.Get("variant"),
	}
}

// parseRegistry handles registry://[user:pass@]host[:port]/repo[/subrepo…]:tag[?...]
func parseRegistry(raw, rest string) (ref.Ref, Options, error) {
	path, q, err := splitQuery(rest)
	if err != nil {
		return ref.Ref{}, Options{}, err
	}
	opts, err := optionsFromQuery(q)
	if err != nil {
		return ref.Ref{}, Options{}, err
	}

	userinfo := ""
	if i := strings.IndexByte(path, '@'); i >= 0 {
		userinfo = path[:i]
		path = path[i+1:]
	}
	if userinfo != "" {
		parts := strings.SplitN(userinfo, ":", 2)
		opts.Username = parts[0]
		if len(parts) > 1 {
			opts.Password = parts[1]
		}
	}

	// The first path component is always the registry host, so parse
	// without Docker Hub normalization (which would only treat it as a
	// host if it contained a '.' or ':').
	parsedRef, err := dockerref.Parse(path)
	if err != nil {
		return ref.Ref{}, Options{}, fmt.Errorf("%w: %v", errs.ErrURIParse, err)
	}
	parsed, ok := parsedRef.(dockerref.Named)
	if !ok || dockerref.Domain(parsed) == "" {
		return ref.Ref{}, Options{}, fmt.Errorf("%w: missing registry host or repository in %q", errs.ErrURIParse, path)
	}
	r := ref.Ref{
		Scheme:     ref.SchemeRegistry,
		Raw:        raw,
		Registry:   dockerref.Domain(parsed),
		Repository: dockerref.Path(parsed),
		Platform:   platformFromQuery(q),
	}
	if canonical, ok := parsed.(dockerref.Canonical); ok {
		r.Digest = canonical.Digest().String()
	}
	if tagged, ok := parsed.(dockerref.Tagged); ok {
		r.Tag = tagged.Tag()
	}
	if r.Tag == "" && r.Digest == "" {
		r.Tag = "latest"
	}
	return r, opts, nil
}

// parseDocker handles docker://repo:tag[?socket=/path]
func parseDocker(raw, rest string) (ref.Ref, Options, error) {
	path, q, err := splitQuery(rest)
	if err != nil {
		return ref.Ref{}, Options{}, err
	}
	opts, err := optionsFromQuery(q)
	if err != nil {
		return ref.Ref{}, Options{}, err
	}
	parsed, err := dockerref.ParseNormalizedNamed(path)
	if err != nil {
		return ref.Ref{}, Options{}, fmt.Errorf("%w: %v", errs.ErrURIParse, err)
	}
	r := ref.Ref{
		Scheme:     ref.SchemeDocker,
		Raw:        raw,
		Repository: dockerref.Path(parsed),
		Platform:   platformFromQuery(q),
	}
	if tagged, ok := parsed.(dockerref.Tagged); ok {
		r.Tag = tagged.Tag()
	}
	if r.Tag == "" {
		r.Tag = "latest"
	}
	return r, opts, nil
}

var filePathRE = regexp.MustCompile(`^/?[^?]+$`)

// parseFileScheme handles tar://, dir://, oci://, mounts://, all of which
// share "[/]path[?...]".
func parseFileScheme(raw string, scheme ref.Scheme, rest string) (ref.Ref, Options, error) {
	path, q, err := splitQuery(rest)
	if err != nil {
		return ref.Ref{}, Options{}, err
	}
	if path == "" || !filePathRE.MatchString(path) {
		return ref.Ref{}, Options{}, fmt.Errorf("%w: invalid path for scheme %q: %q", errs.ErrURIParse, scheme, path)
	}
	opts, err := optionsFromQuery(q)
	if err != nil {
		return ref.Ref{}, Options{}, err
	}
	r := ref.Ref{
		Scheme: scheme,
		Raw:    raw,
		Path:   path,
	}
	return r, opts, nil
}
