package daemon

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/types/element"
)

type recorder struct {
	elems []element.Element
}

func (r *recorder) Accept(e element.Element) error {
	if e.Handle != nil {
		b, _ := io.ReadAll(e.Handle)
		e.Handle = bytes.NewReader(b)
	}
	r.elems = append(r.elems, e)
	return nil
}
func (r *recorder) Want(digest.Digest) bool { return true }
func (r *recorder) Finalize() error         { return nil }

func buildSaveTar(t *testing.T) []byte {
	t.Helper()
	cfgBytes := []byte(`{"architecture":"amd64","os":"linux","config":{},"rootfs":{"type":"layers","diff_ids":[]}}`)
	save := []map[string]interface{}{{
		"Config": "cfg.json",
		"Layers": []string{"l1/layer.tar"},
	}}
	saveBytes, err := json.Marshal(save)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	write := func(name string, data []byte) {
		tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0644})
		tw.Write(data)
	}
	write("manifest.json", saveBytes)
	write("cfg.json", cfgBytes)
	write("l1/layer.tar", []byte("layer data"))
	tw.Close()
	return buf.Bytes()
}

func TestSourceRunOverUnixSocket(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "docker.sock")

	mux := http.NewServeMux()
	mux.HandleFunc("/images/myimage/json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Id":"sha256:abc","RootFS":{"Type":"layers","Layers":["sha256:def"]}}`))
	})
	mux.HandleFunc("/images/myimage/get", func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildSaveTar(t))
	})

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()
	t.Cleanup(func() { os.Remove(sockPath) })

	src := New("myimage", sockPath)
	rec := &recorder{}
	if err := src.Run(rec); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rec.elems) != 2 {
		t.Fatalf("got %d elements, want 2", len(rec.elems))
	}
	if rec.elems[0].Type != element.Config {
		t.Fatalf("elems[0].Type = %v, want Config", rec.elems[0].Type)
	}
	got, _ := io.ReadAll(rec.elems[1].Handle)
	if string(got) != "layer data" {
		t.Fatalf("layer bytes = %q", got)
	}
}
