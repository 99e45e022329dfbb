// Package ref defines the Image Reference: an immutable (registry-or-daemon,
// repository, tag-or-digest) triple plus an optional platform selector.
// Values are built exclusively by internal/uri; nothing else constructs a
// Ref by hand so that every Ref reaching the pipeline has already passed
// the URI grammar's validation.
package ref

import "fmt"

// Scheme identifies which of the six URI grammars (spec.md §6) produced
// this Ref, which in turn determines which source/sink package handles it.
type Scheme string

const (
	SchemeRegistry Scheme = "registry"
	SchemeDocker   Scheme = "docker"
	SchemeTar      Scheme = "tar"
	SchemeDir      Scheme = "dir"
	SchemeOCI      Scheme = "oci"
	SchemeMounts   Scheme = "mounts"
)

// Platform narrows a manifest list/index to one entry. An empty Platform
// means "no selection requested" and the source falls back to its own
// default (the first list entry, or the daemon/host platform).
type Platform struct {
	OS           string
	Architecture string
	Variant      string
}

// Empty reports whether no platform fields were set.
func (p Platform) Empty() bool {
	return p.OS == "" && p.Architecture == "" && p.Variant == ""
}

func (p Platform) String() string {
	if p.Empty() {
		return ""
	}
	if p.Variant != "" {
		return fmt.Sprintf("%s/%s/%s", p.OS, p.Architecture, p.Variant)
	}
	return fmt.Sprintf("%s/%s", p.OS, p.Architecture)
}

// Ref is the parsed, immutable Image Reference.
type Ref struct {
	Scheme     Scheme
	Raw        string // the original URI, kept for error messages
	Registry   string // registry host[:port], or the daemon's docker host
	Repository string // path component, e.g. "library/busybox"
	Tag        string
	Digest     string
	Path       string // filesystem path for tar://, dir://, oci://, mounts://
	Platform   Platform
}

// CommonName renders a human-readable name for logs and error messages.
func (r Ref) CommonName() string {
	switch r.Scheme {
	case SchemeTar, SchemeDir, SchemeOCI, SchemeMounts:
		return fmt.Sprintf("%s://%s", r.Scheme, r.Path)
	default:
		name := r.Repository
		if r.Registry != "" {
			name = r.Registry + "/" + name
		}
		if r.Tag != "" {
			name += ":" + r.Tag
		}
		if r.Digest != "" {
			name += "@" + r.Digest
		}
		return fmt.Sprintf("%s://%s", r.Scheme, name)
	}
}

func (r Ref) String() string {
	return r.CommonName()
}
