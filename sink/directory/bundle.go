package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shakenfist/occystrap/types/ocispec"
)

// runtimeSpec is the subset of an OCI runtime bundle's config.json this
// sink populates from an image config. No OCI runtime-spec Go module
// (github.com/opencontainers/runtime-spec) is available among the
// dependencies this module draws from, so this is a minimal local struct
// covering the fields actually synthesized rather than importing it.
type runtimeSpec struct {
	OCIVersion string         `json:"ociVersion"`
	Process    runtimeProcess `json:"process"`
	Root       runtimeRoot    `json:"root"`
	Linux      *runtimeLinux  `json:"linux,omitempty"`
	Mounts     []runtimeMount `json:"mounts"`
}

type runtimeProcess struct {
	Terminal bool     `json:"terminal"`
	Cwd      string   `json:"cwd"`
	Env      []string `json:"env,omitempty"`
	Args     []string `json:"args"`
}

type runtimeRoot struct {
	Path     string `json:"path"`
	Readonly bool   `json:"readonly"`
}

type runtimeLinux struct {
	Namespaces []runtimeNamespace `json:"namespaces"`
}

type runtimeNamespace struct {
	Type string `json:"type"`
}

type runtimeMount struct {
	Destination string   `json:"destination"`
	Type        string   `json:"type,omitempty"`
	Source      string   `json:"source,omitempty"`
	Options     []string `json:"options,omitempty"`
}

const runtimeSpecVersion = "1.0.2"

var defaultNamespaces = []string{"pid", "network", "ipc", "uts", "mount"}

var defaultMounts = []runtimeMount{
	{Destination: "/proc", Type: "proc", Source: "proc"},
	{Destination: "/dev", Type: "tmpfs", Source: "tmpfs",
		Options: []string{"nosuid", "strictatime", "mode=755", "size=65536k"}},
	{Destination: "/dev/pts", Type: "devpts", Source: "devpts",
		Options: []string{"nosuid", "noexec", "newinstance", "ptmxmode=0666", "mode=0620"}},
	{Destination: "/sys", Type: "sysfs", Source: "sysfs",
		Options: []string{"nosuid", "noexec", "nodev", "ro"}},
}

// writeBundleConfig marshals the accepted image config's process
// defaults (Entrypoint+Cmd, Env, WorkingDir) into a runtime config.json
// beside the bundle's rootfs/, per spec.md §4.9's OCI-bundle writer.
func (s *Sink) writeBundleConfig() error {
	var img ocispec.Image
	if err := json.Unmarshal(s.configBytes, &img); err != nil {
		return fmt.Errorf("directory sink: parse image config for bundle: %w", err)
	}

	args := append(append([]string{}, img.Config.Entrypoint...), img.Config.Cmd...)
	if len(args) == 0 {
		args = []string{"/bin/sh"}
	}
	cwd := img.Config.WorkingDir
	if cwd == "" {
		cwd = "/"
	}

	namespaces := make([]runtimeNamespace, len(defaultNamespaces))
	for i, t := range defaultNamespaces {
		namespaces[i] = runtimeNamespace{Type: t}
	}

	spec := runtimeSpec{
		OCIVersion: runtimeSpecVersion,
		Process: runtimeProcess{
			Cwd:  cwd,
			Env:  img.Config.Env,
			Args: args,
		},
		Root:   runtimeRoot{Path: "rootfs"},
		Linux:  &runtimeLinux{Namespaces: namespaces},
		Mounts: defaultMounts,
	}

	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("directory sink: marshal config.json: %w", err)
	}
	dir := s.mergedDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("directory sink: mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644); err != nil {
		return fmt.Errorf("directory sink: write config.json: %w", err)
	}
	return nil
}
