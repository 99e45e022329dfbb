// Package dockerspec holds the JSON shapes for the Docker container image
// config, the Docker Distribution schema2 manifest/manifest-list, and the
// "docker save" v1.2 tarball manifest — the Docker-family counterparts to
// types/ocispec.
package dockerspec

import (
	"time"

	digest "github.com/opencontainers/go-digest"
)

// Image is the Docker container image configuration document. It mirrors
// OCI's Image but keeps the Docker-specific Container/ContainerConfig
// fields real tooling round-trips.
type Image struct {
	Created         *time.Time    `json:"created,omitempty"`
	Author          string        `json:"author,omitempty"`
	Architecture    string        `json:"architecture"`
	Variant         string        `json:"variant,omitempty"`
	OS              string        `json:"os"`
	Config          ImageConfig   `json:"config"`
	Container       string        `json:"container,omitempty"`
	ContainerConfig ImageConfig   `json:"container_config,omitempty"`
	DockerVersion   string        `json:"docker_version,omitempty"`
	History         []History     `json:"history,omitempty"`
	RootFS          RootFS        `json:"rootfs"`
}

// ImageConfig holds the runtime defaults baked into the image.
type ImageConfig struct {
	User         string              `json:"User,omitempty"`
	Env          []string            `json:"Env,omitempty"`
	Entrypoint   []string            `json:"Entrypoint,omitempty"`
	Cmd          []string            `json:"Cmd,omitempty"`
	WorkingDir   string              `json:"WorkingDir,omitempty"`
	Labels       map[string]string   `json:"Labels,omitempty"`
	Volumes      map[string]struct{} `json:"Volumes,omitempty"`
	ExposedPorts map[string]struct{} `json:"ExposedPorts,omitempty"`
	StopSignal   string              `json:"StopSignal,omitempty"`
}

// RootFS lists the layer diffIDs in apply order.
type RootFS struct {
	Type    string          `json:"type"`
	DiffIDs []digest.Digest `json:"diff_ids"`
}

// History is one build-history entry. CreatedBy is surfaced by the
// inspect filter; EmptyLayer marks a history entry with no corresponding
// rootfs diff.
type History struct {
	Created    *time.Time `json:"created,omitempty"`
	Author     string     `json:"author,omitempty"`
	CreatedBy  string     `json:"created_by,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	EmptyLayer bool       `json:"empty_layer,omitempty"`
}

// SaveManifestEntry is one element of the top-level JSON array in a
// "docker save" v1.2 tarball's manifest.json.
type SaveManifestEntry struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags,omitempty"`
	Layers   []string `json:"Layers"`
}

// SaveManifest is the full manifest.json document: an array of entries,
// one per image, though Occystrap only ever writes a single entry.
type SaveManifest []SaveManifestEntry

// DistributionManifest is the Docker Distribution schema2 manifest.
type DistributionManifest struct {
	SchemaVersion int                  `json:"schemaVersion"`
	MediaType     string               `json:"mediaType"`
	Config        DistributionDescriptor `json:"config"`
	Layers        []DistributionDescriptor `json:"layers"`
}

// DistributionDescriptor is a schema2 manifest's blob reference.
type DistributionDescriptor struct {
	MediaType string        `json:"mediaType"`
	Size      int64         `json:"size"`
	Digest    digest.Digest `json:"digest"`
}

// DistributionManifestList is the schema2 multi-platform manifest list.
type DistributionManifestList struct {
	SchemaVersion int                        `json:"schemaVersion"`
	MediaType     string                     `json:"mediaType"`
	Manifests     []DistributionListManifest `json:"manifests"`
}

// DistributionListManifest is one platform-specific entry of a manifest list.
type DistributionListManifest struct {
	MediaType string           `json:"mediaType"`
	Size      int64            `json:"size"`
	Digest    digest.Digest    `json:"digest"`
	Platform  DistributionPlat `json:"platform"`
}

// DistributionPlat is the platform selector embedded in a manifest list entry.
type DistributionPlat struct {
	Architecture string   `json:"architecture"`
	OS           string   `json:"os"`
	Variant      string   `json:"variant,omitempty"`
	Features     []string `json:"features,omitempty"`
}
