package normalize

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

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

func buildLayerTar(t *testing.T, mtime time.Time) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{Name: "a.txt", Size: 5, Mode: 0644, ModTime: mtime}); err != nil {
		t.Fatal(err)
	}
	tw.Write([]byte("hello"))
	tw.Close()
	return buf.Bytes()
}

func TestFilterNormalizesTimestampsAndPatchesConfig(t *testing.T) {
	rec := &recorder{}
	f := New(rec, WithTimestamp(0))

	layer := buildLayerTar(t, time.Now())
	if err := f.Accept(element.Element{Type: element.Layer, Handle: bytes.NewReader(layer)}); err != nil {
		t.Fatalf("Accept(layer) error = %v", err)
	}

	created := time.Now()
	img := ocispec.Image{
		RootFS:  ocispec.RootFS{Type: "layers", DiffIDs: []digest.Digest{"sha256:old"}},
		History: []ocispec.History{{Created: &created}},
	}
	cfgBytes, err := json.Marshal(img)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Accept(element.Element{Type: element.Config, Handle: bytes.NewReader(cfgBytes)}); err != nil {
		t.Fatalf("Accept(config) error = %v", err)
	}

	if err := f.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if len(rec.elems) != 2 {
		t.Fatalf("got %d elements, want 2 (layer then patched config)", len(rec.elems))
	}
	if rec.elems[0].Type != element.Layer || rec.elems[1].Type != element.Config {
		t.Fatalf("element order = [%v %v], want [Layer Config]", rec.elems[0].Type, rec.elems[1].Type)
	}

	layerData, _ := io.ReadAll(rec.elems[0].Handle)
	tr := tar.NewReader(bytes.NewReader(layerData))
	hdr, err := tr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !hdr.ModTime.Equal(time.Unix(0, 0)) {
		t.Fatalf("ModTime = %v, want epoch 0", hdr.ModTime)
	}

	cfgData, _ := io.ReadAll(rec.elems[1].Handle)
	var patched ocispec.Image
	if err := json.Unmarshal(cfgData, &patched); err != nil {
		t.Fatal(err)
	}
	if len(patched.RootFS.DiffIDs) != 1 || patched.RootFS.DiffIDs[0] != rec.elems[0].Digest {
		t.Fatalf("patched diff_ids = %v, want [%v]", patched.RootFS.DiffIDs, rec.elems[0].Digest)
	}
	if !patched.History[0].Created.Equal(time.Unix(0, 0)) {
		t.Fatalf("patched history[0].Created = %v, want epoch 0", patched.History[0].Created)
	}
}

func TestFilterIsDeterministicAcrossRuns(t *testing.T) {
	mkConfig := func(t *testing.T) []byte {
		img := ocispec.Image{RootFS: ocispec.RootFS{Type: "layers", DiffIDs: []digest.Digest{"sha256:old"}}}
		b, err := json.Marshal(img)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	run := func(t *testing.T) (digest.Digest, digest.Digest) {
		rec := &recorder{}
		f := New(rec, WithTimestamp(0))
		layer := buildLayerTar(t, time.Now())
		if err := f.Accept(element.Element{Type: element.Layer, Handle: bytes.NewReader(layer)}); err != nil {
			t.Fatal(err)
		}
		if err := f.Accept(element.Element{Type: element.Config, Handle: bytes.NewReader(mkConfig(t))}); err != nil {
			t.Fatal(err)
		}
		if err := f.Finalize(); err != nil {
			t.Fatal(err)
		}
		return rec.elems[0].Digest, rec.elems[1].Digest
	}

	l1, c1 := run(t)
	l2, c2 := run(t)
	if l1 != l2 {
		t.Fatalf("layer digest not deterministic: %v != %v", l1, l2)
	}
	if c1 != c2 {
		t.Fatalf("config digest not deterministic: %v != %v", c1, c2)
	}
}
