// Package ocispec aliases the upstream OCI image-spec Go types so the
// rest of Occystrap imports one local package instead of scattering
// "specs-go/v1" imports through every component.
package ocispec

import (
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

type (
	// Manifest is an OCI image manifest (config + ordered layers).
	Manifest = v1.Manifest
	// Index is an OCI image index (manifest list), used for multi-platform images.
	Index = v1.Index
	// Descriptor references a blob by digest, size, and media type.
	Descriptor = v1.Descriptor
	// Platform narrows a Descriptor to one (os, architecture, variant).
	Platform = v1.Platform
	// Image is the OCI image configuration document.
	Image = v1.Image
	// ImageConfig holds the runtime defaults (Entrypoint, Cmd, Env, ...).
	ImageConfig = v1.ImageConfig
	// RootFS lists the diffIDs that make up the image's layered filesystem.
	RootFS = v1.RootFS
	// History is one entry in the image config's build history.
	History = v1.History
	// ImageLayout is the `oci-layout` file's JSON contents.
	ImageLayout = v1.ImageLayout
)

// MatchPlatform reports whether d's platform matches the requested
// (os, architecture, variant) selector. An empty variant in want matches
// any variant in d.
func MatchPlatform(d Descriptor, want Platform) bool {
	if d.Platform == nil {
		return false
	}
	if d.Platform.OS != want.OS || d.Platform.Architecture != want.Architecture {
		return false
	}
	if want.Variant != "" && d.Platform.Variant != want.Variant {
		return false
	}
	return true
}
