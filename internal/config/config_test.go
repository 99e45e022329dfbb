package config

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvDefaultsFillsUnsetFieldsOnly(t *testing.T) {
	t.Setenv("OCCYSTRAP_USERNAME", "envuser")
	t.Setenv("OCCYSTRAP_PASSWORD", "envpass")
	t.Setenv("OCCYSTRAP_COMPRESSION", "zstd")

	o := Opts{Username: "flaguser"}
	o.EnvDefaults()

	if o.Username != "flaguser" {
		t.Fatalf("Username = %q, want flaguser (flag wins over env)", o.Username)
	}
	if o.Password != "envpass" {
		t.Fatalf("Password = %q, want envpass", o.Password)
	}
	if o.Compression != "zstd" {
		t.Fatalf("Compression = %q, want zstd", o.Compression)
	}
}

func TestEnvDefaultsLeavesCompressionEmptyWithNoSource(t *testing.T) {
	t.Setenv("OCCYSTRAP_COMPRESSION", "")
	o := Opts{}
	o.EnvDefaults()
	if o.Compression != "" {
		t.Fatalf("Compression = %q, want empty so downstream defaults apply", o.Compression)
	}
}

func TestDockerCredsReadsAuthsByHost(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, ".docker"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := dockerConfig{Auths: map[string]struct {
		Auth string `json:"auth"`
	}{
		DockerRegistryAuth: {Auth: base64.StdEncoding.EncodeToString([]byte("hubuser:hubpass"))},
		"registry.example.com": {Auth: base64.StdEncoding.EncodeToString([]byte("exampleuser:examplepass"))},
	}}
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".docker", "config.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}

	user, pass, err := DockerCreds(DockerRegistryDNS)
	if err != nil {
		t.Fatalf("DockerCreds(%s) error = %v", DockerRegistryDNS, err)
	}
	if user != "hubuser" || pass != "hubpass" {
		t.Fatalf("got %s/%s, want hubuser/hubpass", user, pass)
	}

	user, pass, err = DockerCreds("registry.example.com")
	if err != nil {
		t.Fatalf("DockerCreds(registry.example.com) error = %v", err)
	}
	if user != "exampleuser" || pass != "examplepass" {
		t.Fatalf("got %s/%s, want exampleuser/examplepass", user, pass)
	}
}

func TestDockerCredsNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	if _, _, err := DockerCreds("registry.example.com"); err == nil {
		t.Fatal("expected error with no ~/.docker/config.json")
	}
}
