package registry

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/internal/auth"
	"github.com/shakenfist/occystrap/types/dockerspec"
	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/mediatype"
	"github.com/shakenfist/occystrap/types/ref"
)

type recorder struct {
	elems []element.Element
}

func (r *recorder) Accept(e element.Element) error {
	if e.Handle != nil {
		b, err := io.ReadAll(e.Handle)
		if err != nil {
			return err
		}
		e.Handle = bytes.NewReader(b)
	}
	r.elems = append(r.elems, e)
	return nil
}
func (r *recorder) Want(digest.Digest) bool { return true }
func (r *recorder) Finalize() error         { return nil }

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write(data)
	gw.Close()
	return buf.Bytes()
}

func digestOf(data []byte) digest.Digest {
	sum := sha256.Sum256(data)
	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(sum[:]))
}

func TestSourceRunFetchesConfigAndLayers(t *testing.T) {
	cfgBytes := []byte(`{"architecture":"amd64","os":"linux","config":{},"rootfs":{"type":"layers","diff_ids":[]}}`)
	cfgDigest := digestOf(cfgBytes)

	layerPlain := []byte("hello layer contents")
	layerGz := gzipBytes(t, layerPlain)
	layerDigest := digestOf(layerGz)

	manifest := dockerspec.DistributionManifest{
		SchemaVersion: 2,
		MediaType:     mediatype.Docker2Manifest,
		Config: dockerspec.DistributionDescriptor{
			MediaType: mediatype.Docker2ImageConfig,
			Size:      int64(len(cfgBytes)),
			Digest:    cfgDigest,
		},
		Layers: []dockerspec.DistributionDescriptor{
			{MediaType: mediatype.Docker2LayerGzip, Size: int64(len(layerGz)), Digest: layerDigest},
		},
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/library/test/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", mediatype.Docker2Manifest)
		w.Write(manifestBytes)
	})
	mux.HandleFunc(fmt.Sprintf("/v2/library/test/blobs/%s", cfgDigest), func(w http.ResponseWriter, r *http.Request) {
		w.Write(cfgBytes)
	})
	mux.HandleFunc(fmt.Sprintf("/v2/library/test/blobs/%s", layerDigest), func(w http.ResponseWriter, r *http.Request) {
		w.Write(layerGz)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	r := ref.Ref{Scheme: ref.SchemeRegistry, Registry: host, Repository: "library/test", Tag: "latest"}
	src := New(r, auth.StaticCreds("", ""), true)

	rec := &recorder{}
	if err := src.Run(rec); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(rec.elems) != 2 {
		t.Fatalf("got %d elements, want 2 (config+layer)", len(rec.elems))
	}
	if rec.elems[0].Type != element.Config {
		t.Fatalf("elems[0].Type = %v, want Config", rec.elems[0].Type)
	}
	if rec.elems[1].Type != element.Layer {
		t.Fatalf("elems[1].Type = %v, want Layer", rec.elems[1].Type)
	}
	got, _ := io.ReadAll(rec.elems[1].Handle)
	if !bytes.Equal(got, layerPlain) {
		t.Fatalf("layer bytes = %q, want decompressed %q", got, layerPlain)
	}
}

func TestSourceRunNoMatchingPlatform(t *testing.T) {
	list := dockerspec.DistributionManifestList{
		SchemaVersion: 2,
		MediaType:     mediatype.Docker2ManifestList,
		Manifests: []dockerspec.DistributionListManifest{
			{MediaType: mediatype.Docker2Manifest, Digest: digestOf([]byte("x")), Platform: dockerspec.DistributionPlat{OS: "linux", Architecture: "arm64"}},
		},
	}
	listBytes, _ := json.Marshal(list)

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/library/test/manifests/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", mediatype.Docker2ManifestList)
		w.Write(listBytes)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	r := ref.Ref{
		Scheme: ref.SchemeRegistry, Registry: host, Repository: "library/test", Tag: "latest",
		Platform: ref.Platform{OS: "linux", Architecture: "amd64"},
	}
	src := New(r, auth.StaticCreds("", ""), true)
	if err := src.Run(&recorder{}); err == nil {
		t.Fatal("expected ErrNoMatchingPlatform")
	}
}
