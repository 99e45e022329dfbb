// Package config assembles registry credentials from CLI flags, the
// OCCYSTRAP_* environment variables, and a Docker-style
// ~/.docker/config.json fallback (spec.md §6). Grounded on the teacher's
// config package (Host/DockerRegistry* constants, credential resolution
// order) with its credential-helper *binary* invocation trimmed — see
// DESIGN.md for why shelling out to helper programs was dropped.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DockerRegistry is the canonical name Docker Hub images resolve to.
	DockerRegistry = "docker.io"
	// DockerRegistryAuth is the key docker's config.json uses for Hub.
	DockerRegistryAuth = "https://index.docker.io/v1/"
	// DockerRegistryDNS is the host Occystrap actually dials for Hub.
	DockerRegistryDNS = "registry-1.docker.io"
)

// Opts is the CLI-assembled configuration for one pipeline run.
type Opts struct {
	Verbose      bool
	OS           string
	Architecture string
	Variant      string
	Username     string
	Password     string
	Insecure     bool
	Compression  string
	Parallel     int
}

// EnvDefaults applies OCCYSTRAP_USERNAME, OCCYSTRAP_PASSWORD, and
// OCCYSTRAP_COMPRESSION as fallbacks for any field the CLI flags left
// unset. Compression and Parallel are left empty/zero when neither a
// flag nor an env var set them, rather than hard-defaulting here: the
// URI parser and the registry source/sink already apply spec.md's
// gzip/4-worker defaults, and defaulting a second time here would let
// this fallback silently overwrite an explicit "?compression=zstd" or
// "?max_workers=N" the URI itself carried.
func (o *Opts) EnvDefaults() {
	if o.Username == "" {
		o.Username = os.Getenv("OCCYSTRAP_USERNAME")
	}
	if o.Password == "" {
		o.Password = os.Getenv("OCCYSTRAP_PASSWORD")
	}
	if o.Compression == "" {
		o.Compression = os.Getenv("OCCYSTRAP_COMPRESSION")
	}
}

// dockerConfig is the subset of ~/.docker/config.json this module reads.
type dockerConfig struct {
	Auths map[string]struct {
		Auth string `json:"auth"`
	} `json:"auths"`
}

// DockerCreds looks up a username/password for host from
// ~/.docker/config.json's "auths" map, decoding the base64 "user:pass"
// form Docker stores directly (credential-helper programs are not
// invoked; see DESIGN.md).
func DockerCreds(host string) (user, pass string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", err
	}
	path := filepath.Join(home, ".docker", "config.json")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	var cfg dockerConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return "", "", fmt.Errorf("parsing %s: %w", path, err)
	}

	key := host
	if host == DockerRegistryDNS || host == DockerRegistry {
		key = DockerRegistryAuth
	}
	entry, ok := cfg.Auths[key]
	if !ok {
		return "", "", fmt.Errorf("no credentials for %s in %s", host, path)
	}
	dec, err := base64.StdEncoding.DecodeString(entry.Auth)
	if err != nil {
		return "", "", fmt.Errorf("decoding auth for %s: %w", host, err)
	}
	parts := strings.SplitN(string(dec), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed auth entry for %s", host)
	}
	return parts[0], parts[1], nil
}
