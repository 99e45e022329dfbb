// Package digest re-exports go-digest's content-addressing primitives and
// adds the diffID helper used to recompute layer identifiers when a
// filter rewrites layer bytes.
package digest

import (
	"io"

	"github.com/opencontainers/go-digest"
)

// Digest is a content-address string, e.g. "sha256:abc...".
type Digest = digest.Digest

// Algorithm re-exports the go-digest algorithm type.
type Algorithm = digest.Algorithm

// SHA256 is the only algorithm Occystrap computes; registries may serve
// blobs under other algorithms, but any blob this module rewrites is
// always re-hashed with SHA256 per the Layer Digest Invariant.
const SHA256 = digest.SHA256

// FromReader hashes r with SHA256 to completion and returns the digest.
func FromReader(r io.Reader) (Digest, error) {
	return digest.SHA256.FromReader(r)
}

// Verifier returns a digest.Verifier that can be wrapped around an
// io.Writer-consuming copy to confirm a stream matches d as it is read.
func Verifier(d Digest) digest.Verifier {
	return d.Verifier()
}

// Parse validates and returns the digest held in s.
func Parse(s string) (Digest, error) {
	return digest.Parse(s)
}
