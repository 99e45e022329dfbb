// Package mediatype defines the content-type strings used across the
// registry, daemon, and tarball wire formats Occystrap speaks.
package mediatype

import "strings"

const (
	// OCI1Manifest is the OCI image manifest media type.
	OCI1Manifest = "application/vnd.oci.image.manifest.v1+json"
	// OCI1ManifestList is the OCI image index media type.
	OCI1ManifestList = "application/vnd.oci.image.index.v1+json"
	// OCI1ImageConfig is the OCI image config media type.
	OCI1ImageConfig = "application/vnd.oci.image.config.v1+json"
	// OCI1Layer is an uncompressed OCI layer.
	OCI1Layer = "application/vnd.oci.image.layer.v1.tar"
	// OCI1LayerGzip is a gzip compressed OCI layer.
	OCI1LayerGzip = "application/vnd.oci.image.layer.v1.tar+gzip"
	// OCI1LayerZstd is a zstd compressed OCI layer.
	OCI1LayerZstd = "application/vnd.oci.image.layer.v1.tar+zstd"

	// Docker2Manifest is the Docker distribution schema2 manifest media type.
	Docker2Manifest = "application/vnd.docker.distribution.manifest.v2+json"
	// Docker2ManifestList is the Docker distribution schema2 manifest list media type.
	Docker2ManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	// Docker2ImageConfig is the Docker container image config media type.
	Docker2ImageConfig = "application/vnd.docker.container.image.v1+json"
	// Docker2LayerGzip is a gzip compressed Docker layer (the only form Docker registries accept).
	Docker2LayerGzip = "application/vnd.docker.image.rootfs.diff.tar.gzip"

	// OctetStream is used for probing/uploading blobs without a declared type.
	OctetStream = "application/octet-stream"
)

// Base strips any parameters (e.g. "; charset=utf-8") from a media type.
func Base(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		return strings.TrimSpace(mt[:i])
	}
	return mt
}

// IsManifestList returns true for the two recognized list/index media types.
func IsManifestList(mt string) bool {
	return mt == OCI1ManifestList || mt == Docker2ManifestList
}

// IsOCI returns true if the media type belongs to the OCI schema family.
func IsOCI(mt string) bool {
	switch mt {
	case OCI1Manifest, OCI1ManifestList, OCI1ImageConfig, OCI1Layer, OCI1LayerGzip, OCI1LayerZstd:
		return true
	}
	return false
}

// ManifestAccept is the Accept header value list sent on manifest GETs,
// in the preference order the registry client negotiates with.
var ManifestAccept = []string{
	Docker2Manifest,
	OCI1Manifest,
	Docker2ManifestList,
	OCI1ManifestList,
}
