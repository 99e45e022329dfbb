// Package errs collects the sentinel errors named in spec.md §7, so every
// component reports failures the CLI can map to an exit code with a
// single errors.Is switch.
package errs

import "errors"

var (
	// ErrURIParse covers a bad scheme or unknown query option (exit 2).
	ErrURIParse = errors.New("uri parse error")
	// ErrAuthRequired is returned on a 401 with no credentials configured.
	ErrAuthRequired = errors.New("authentication required")
	// ErrAuthFailed is returned on a 401 after credentials were tried.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrNoMatchingPlatform is returned when a manifest list has no entry
	// matching the requested (os, architecture, variant).
	ErrNoMatchingPlatform = errors.New("no matching platform in manifest list")
	// ErrDigestMismatch is a fatal integrity failure: computed digest
	// disagrees with the declared digest for a blob.
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrUnsupportedTarballFormat is returned for pre-1.10 Docker "parent
	// chain" tarballs, which are explicitly out of scope.
	ErrUnsupportedTarballFormat = errors.New("unsupported tarball format")
	// ErrTransientNetwork marks an error as retry-eligible (5xx, reset).
	ErrTransientNetwork = errors.New("transient network error")
	// ErrFilter marks a fatal error raised by a filter mid-layer.
	ErrFilter = errors.New("filter error")
	// ErrSink marks a fatal error raised by a sink (write/daemon/PUT failure).
	ErrSink = errors.New("sink error")
	// ErrNotFound is returned when a referenced blob, tag, or manifest
	// does not exist at the source.
	ErrNotFound = errors.New("not found")
)
