package registry

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/internal/auth"
	"github.com/shakenfist/occystrap/types/dockerspec"
	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/mediatype"
	"github.com/shakenfist/occystrap/types/ref"
)

func digestOf(b []byte) digest.Digest {
	sum := sha256.Sum256(b)
	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(sum[:]))
}

func TestSinkPushesLayerAndManifest(t *testing.T) {
	var mu sync.Mutex
	blobs := map[string][]byte{}
	var gotManifest []byte
	var gotManifestMT string

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v2/")
		switch {
		case strings.HasSuffix(path, "/blobs/uploads/"):
			w.Header().Set("Location", "/v2/"+strings.TrimSuffix(path, "uploads/")+"uploads/uuid-1")
			w.WriteHeader(http.StatusAccepted)
		case strings.Contains(path, "/blobs/uploads/uuid-1") && r.Method == http.MethodPatch:
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			blobs["pending"] = body
			mu.Unlock()
			w.Header().Set("Location", "/v2/"+strings.Split(path, "/blobs/")[0]+"/blobs/uploads/uuid-1")
			w.WriteHeader(http.StatusAccepted)
		case strings.Contains(path, "/blobs/uploads/uuid-1") && r.Method == http.MethodPut:
			d := r.URL.Query().Get("digest")
			mu.Lock()
			blobs[d] = blobs["pending"]
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case strings.Contains(path, "/blobs/") && r.Method == http.MethodHead:
			d := strings.SplitN(path, "/blobs/", 2)[1]
			mu.Lock()
			_, ok := blobs[d]
			mu.Unlock()
			if ok {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case strings.Contains(path, "/manifests/") && r.Method == http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			gotManifest = body
			gotManifestMT = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	r := ref.Ref{Scheme: ref.SchemeRegistry, Registry: host, Repository: "library/test", Tag: "latest"}
	sink := New(r, auth.StaticCreds("", ""), true)

	cfgBytes := []byte(`{"architecture":"amd64","os":"linux","config":{},"rootfs":{"type":"layers","diff_ids":[]}}`)
	if err := sink.Accept(element.Element{
		Type: element.Config, Digest: digestOf(cfgBytes), MediaType: mediatype.Docker2ImageConfig,
		Handle: bytes.NewReader(cfgBytes), Size: int64(len(cfgBytes)),
	}); err != nil {
		t.Fatalf("Accept(config) error = %v", err)
	}

	layerData := []byte("layer payload")
	if err := sink.Accept(element.Element{
		Type: element.Layer, Digest: digestOf(layerData), MediaType: mediatype.Docker2LayerGzip,
		Handle: bytes.NewReader(layerData), Size: int64(len(layerData)),
	}); err != nil {
		t.Fatalf("Accept(layer) error = %v", err)
	}

	if err := sink.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if gotManifestMT != mediatype.Docker2Manifest {
		t.Fatalf("manifest content-type = %q, want %q", gotManifestMT, mediatype.Docker2Manifest)
	}
	var m dockerspec.DistributionManifest
	if err := json.Unmarshal(gotManifest, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if len(m.Layers) != 1 {
		t.Fatalf("manifest has %d layers, want 1", len(m.Layers))
	}

	// verify the uploaded layer blob decompresses back to the original data
	mu.Lock()
	uploaded := blobs[m.Layers[0].Digest.String()]
	mu.Unlock()
	gz, err := gzip.NewReader(bytes.NewReader(uploaded))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read decompressed layer: %v", err)
	}
	if !bytes.Equal(got, layerData) {
		t.Fatalf("uploaded layer = %q, want %q", got, layerData)
	}
}
