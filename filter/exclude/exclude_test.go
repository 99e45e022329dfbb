package exclude

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/ocispec"
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

func buildLayerTar(t *testing.T, names []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, n := range names {
		if err := tw.WriteHeader(&tar.Header{Name: n, Size: 4, Mode: 0644}); err != nil {
			t.Fatal(err)
		}
		tw.Write([]byte("data"))
	}
	tw.Close()
	return buf.Bytes()
}

func memberNames(t *testing.T, data []byte) []string {
	t.Helper()
	var names []string
	tr := tar.NewReader(bytes.NewReader(data))
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
	return names
}

func TestFilterDropsMatchingMembers(t *testing.T) {
	rec := &recorder{}
	f := New(rec, WithPatterns("**/*.pyc", "**/.git/**"))

	layer := buildLayerTar(t, []string{"app.py", "app.pyc", ".git/HEAD", "lib/mod.pyc"})
	if err := f.Accept(element.Element{Type: element.Layer, Handle: bytes.NewReader(layer)}); err != nil {
		t.Fatalf("Accept(layer) error = %v", err)
	}

	img := ocispec.Image{RootFS: ocispec.RootFS{Type: "layers", DiffIDs: []digest.Digest{"sha256:old"}}}
	cfgBytes, _ := json.Marshal(img)
	if err := f.Accept(element.Element{Type: element.Config, Handle: bytes.NewReader(cfgBytes)}); err != nil {
		t.Fatalf("Accept(config) error = %v", err)
	}
	if err := f.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if len(rec.elems) != 2 {
		t.Fatalf("got %d elements, want 2", len(rec.elems))
	}
	layerData, _ := io.ReadAll(rec.elems[0].Handle)
	names := memberNames(t, layerData)
	want := []string{"app.py"}
	if len(names) != len(want) || names[0] != want[0] {
		t.Fatalf("surviving members = %v, want %v", names, want)
	}

	cfgData, _ := io.ReadAll(rec.elems[1].Handle)
	var patched ocispec.Image
	if err := json.Unmarshal(cfgData, &patched); err != nil {
		t.Fatal(err)
	}
	if len(patched.RootFS.DiffIDs) != 1 || patched.RootFS.DiffIDs[0] != rec.elems[0].Digest {
		t.Fatalf("patched diff_ids = %v, want [%v]", patched.RootFS.DiffIDs, rec.elems[0].Digest)
	}
}
