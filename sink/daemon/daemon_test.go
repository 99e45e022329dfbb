package daemon

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/types/element"
)

func digestOf(b []byte) digest.Digest {
	sum := sha256.Sum256(b)
	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(sum[:]))
}

func TestSinkLoadsOverUnixSocket(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "docker.sock")

	var gotBody []byte
	var gotContentType string
	mux := http.NewServeMux()
	mux.HandleFunc("/images/load", func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()
	t.Cleanup(func() { os.Remove(sockPath) })

	sink := New(sockPath, WithRepoTags("myrepo/myimage:latest"))

	cfgBytes := []byte(`{"architecture":"amd64","os":"linux","config":{},"rootfs":{"type":"layers","diff_ids":[]}}`)
	if err := sink.Accept(element.Element{
		Type: element.Config, Digest: digestOf(cfgBytes), Handle: bytes.NewReader(cfgBytes), Size: int64(len(cfgBytes)),
	}); err != nil {
		t.Fatalf("Accept(config) error = %v", err)
	}
	layerBytes := []byte("a loaded layer")
	if err := sink.Accept(element.Element{
		Type: element.Layer, Digest: digestOf(layerBytes), Handle: bytes.NewReader(layerBytes), Size: int64(len(layerBytes)),
	}); err != nil {
		t.Fatalf("Accept(layer) error = %v", err)
	}
	if err := sink.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if gotContentType != "application/x-tar" {
		t.Fatalf("Content-Type = %q, want application/x-tar", gotContentType)
	}

	tr := tar.NewReader(bytes.NewReader(gotBody))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, hdr.Name)
	}
	found := false
	for _, n := range names {
		if n == "manifest.json" {
			found = true
		}
	}
	if !found {
		t.Fatalf("posted tar missing manifest.json, got names %v", names)
	}
	if _, err := os.Stat(sink.scratchPath); !os.IsNotExist(err) {
		t.Fatalf("scratch tar should be removed after Finalize, stat err = %v", err)
	}
}
