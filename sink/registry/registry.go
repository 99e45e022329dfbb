// Package registry implements the Registry Pusher Sink (spec.md §4.7):
// HEAD-based blob dedup, chunked blob upload, a parallel compress+upload
// worker pool, and manifest assembly in Finalize reading the pool's
// futures back in submission order to preserve apply order.
//
// Grounded on scheme/reg/blob.go's blobGetUploadURL/blobPutUploadChunked
// (POST-then-PATCH-then-PUT?digest= shape) and scheme/reg/manifest.go's
// ManifestPut, adapted from the teacher's per-call reghttp.Req onto
// internal/reghttp.Client and generalized with a submission-order future
// per layer instead of the teacher's one-blob-at-a-time BlobPut.
package registry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	digest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/shakenfist/occystrap/internal/archive"
	"github.com/shakenfist/occystrap/internal/auth"
	"github.com/shakenfist/occystrap/internal/reghttp"
	"github.com/shakenfist/occystrap/types/dockerspec"
	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/mediatype"
	"github.com/shakenfist/occystrap/types/ref"
)

// future resolves once a layer's compress+upload task completes.
type future struct {
	done chan struct{}
	desc dockerspec.DistributionDescriptor
	err  error
}

// Sink pushes one image to a V2 registry.
type Sink struct {
	client      *reghttp.Client
	ref         ref.Ref
	compression archive.CompressType
	sem         chan struct{}

	log *logrus.Logger

	configDesc  dockerspec.DistributionDescriptor
	configBytes []byte
	manifestMT  string
	layerMT     string
	futures     []*future
}

// Opt configures New.
type Opt func(*Sink)

// WithCompression selects gzip (default) or zstd for layer uploads.
func WithCompression(ct archive.CompressType) Opt {
	return func(s *Sink) { s.compression = ct }
}

// WithParallel sets the compress+upload worker pool size (default 4).
func WithParallel(n int) Opt {
	return func(s *Sink) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithLog injects a logger.
func WithLog(log *logrus.Logger) Opt {
	return func(s *Sink) {
		if log != nil {
			s.log = log
		}
	}
}

// New builds a registry Sink pushing to r.
func New(r ref.Ref, creds auth.CredsFn, insecure bool, opts ...Opt) *Sink {
	log := &logrus.Logger{Out: io.Discard, Level: logrus.WarnLevel, Formatter: new(logrus.TextFormatter)}
	s := &Sink{
		ref:         r,
		compression: archive.CompressGzip,
		sem:         make(chan struct{}, 4),
		log:         log,
	}
	for _, o := range opts {
		o(s)
	}
	a := auth.NewAuth(auth.WithCreds(creds), auth.WithLog(s.log))
	s.client = reghttp.New(reghttp.WithAuth(a), reghttp.WithInsecure(insecure), reghttp.WithLog(s.log))
	return s
}

// Want always admits: the pusher decides per-blob dedup itself via HEAD.
func (s *Sink) Want(digest.Digest) bool { return true }

// Accept buffers a Config element for Finalize (its digest/mediaType
// determine the manifest's schema family) or submits a Layer element to
// the compress+upload pool, recording a future resolved in submission
// order by Finalize.
func (s *Sink) Accept(e element.Element) error {
	switch e.Type {
	case element.Config:
		data, err := io.ReadAll(e.Handle)
		if err != nil {
			return fmt.Errorf("registry sink: read config: %w", err)
		}
		s.configBytes = data
		s.configDesc = dockerspec.DistributionDescriptor{
			MediaType: e.MediaType,
			Size:      int64(len(data)),
			Digest:    e.Digest,
		}
		s.manifestMT, s.layerMT = schemaFamily(e.MediaType, s.compression)
		return nil
	case element.Layer:
		data, err := io.ReadAll(e.Handle)
		if err != nil {
			return fmt.Errorf("registry sink: read layer: %w", err)
		}
		f := &future{done: make(chan struct{})}
		s.futures = append(s.futures, f)
		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			defer close(f.done)
			f.desc, f.err = s.pushLayer(data)
		}()
		return nil
	default:
		return fmt.Errorf("registry sink: unknown element type %v", e.Type)
	}
}

// pushLayer compresses data, HEAD-checks for an existing blob, and
// uploads it if missing.
func (s *Sink) pushLayer(data []byte) (dockerspec.DistributionDescriptor, error) {
	ctx := context.Background()
	rc, err := archive.Compress(bytes.NewReader(data), s.compression)
	if err != nil {
		return dockerspec.DistributionDescriptor{}, fmt.Errorf("compress layer: %w", err)
	}
	compressed, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return dockerspec.DistributionDescriptor{}, fmt.Errorf("read compressed layer: %w", err)
	}
	sum := sha256.Sum256(compressed)
	d := digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(sum[:]))

	if s.blobExists(ctx, d) {
		return dockerspec.DistributionDescriptor{MediaType: s.layerMT, Size: int64(len(compressed)), Digest: d}, nil
	}
	if err := s.uploadBlob(ctx, d, compressed); err != nil {
		return dockerspec.DistributionDescriptor{}, err
	}
	return dockerspec.DistributionDescriptor{MediaType: s.layerMT, Size: int64(len(compressed)), Digest: d}, nil
}

// blobExists issues a HEAD and reports whether the blob is already present.
func (s *Sink) blobExists(ctx context.Context, d digest.Digest) bool {
	path := fmt.Sprintf("%s/blobs/%s", s.ref.Repository, d.String())
	resp, err := s.client.Do(ctx, http.MethodHead, s.ref.Registry, path, nil, nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// uploadBlob performs POST /blobs/uploads/, one PATCH carrying the whole
// body, and PUT ?digest=... to finalize — a single-chunk instance of the
// chunked-upload sequence spec.md §4.7 describes.
func (s *Sink) uploadBlob(ctx context.Context, d digest.Digest, data []byte) error {
	postPath := s.ref.Repository + "/blobs/uploads/"
	resp, err := s.client.Do(ctx, http.MethodPost, s.ref.Registry, postPath, nil, nil)
	if err != nil {
		return fmt.Errorf("initiate blob upload: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("initiate blob upload: %w", reghttp.HTTPError(resp.StatusCode))
	}
	location, err := normalizeLocation(resp.Header.Get("Location"))
	if err != nil {
		return fmt.Errorf("registry sink: %w", err)
	}

	patchHeaders := http.Header{"Content-Type": []string{mediatype.OctetStream}}
	patchResp, err := s.client.Do(ctx, http.MethodPatch, s.ref.Registry, location, bytes.NewReader(data), patchHeaders)
	if err != nil {
		return fmt.Errorf("patch blob upload: %w", err)
	}
	patchResp.Body.Close()
	if loc := patchResp.Header.Get("Location"); loc != "" {
		location, err = normalizeLocation(loc)
		if err != nil {
			return fmt.Errorf("registry sink: %w", err)
		}
	}

	finalizePath, err := appendQuery(location, "digest", d.String())
	if err != nil {
		return fmt.Errorf("registry sink: %w", err)
	}
	putResp, err := s.client.Do(ctx, http.MethodPut, s.ref.Registry, finalizePath, nil, nil)
	if err != nil {
		return fmt.Errorf("finalize blob upload: %w", err)
	}
	putResp.Body.Close()
	if putResp.StatusCode != http.StatusCreated && putResp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("finalize blob upload: %w", reghttp.HTTPError(putResp.StatusCode))
	}
	return nil
}

// Finalize waits for every layer future in submission order, uploads the
// config blob, assembles the manifest, and PUTs it.
func (s *Sink) Finalize() error {
	ctx := context.Background()

	layers := make([]dockerspec.DistributionDescriptor, len(s.futures))
	for i, f := range s.futures {
		<-f.done
		if f.err != nil {
			return fmt.Errorf("registry sink: layer %d: %w", i, f.err)
		}
		layers[i] = f.desc
	}

	if !s.blobExists(ctx, s.configDesc.Digest) {
		if err := s.uploadBlob(ctx, s.configDesc.Digest, s.configBytes); err != nil {
			return fmt.Errorf("registry sink: upload config: %w", err)
		}
	}

	manifest := dockerspec.DistributionManifest{
		SchemaVersion: 2,
		MediaType:     s.manifestMT,
		Config:        s.configDesc,
		Layers:        layers,
	}
	mj, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("registry sink: marshal manifest: %w", err)
	}

	tagOrDigest := s.ref.Tag
	if tagOrDigest == "" {
		tagOrDigest = s.ref.Digest
	}
	path := fmt.Sprintf("%s/manifests/%s", s.ref.Repository, tagOrDigest)
	headers := http.Header{"Content-Type": []string{s.manifestMT}}
	resp, err := s.client.Do(ctx, http.MethodPut, s.ref.Registry, path, bytes.NewReader(mj), headers)
	if err != nil {
		return fmt.Errorf("registry sink: put manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("registry sink: put manifest: %w", reghttp.HTTPError(resp.StatusCode))
	}
	return nil
}

// schemaFamily picks the manifest and layer media types matching the
// incoming config's schema family, per spec.md §4.7 "preserves the
// schema family ... of the incoming config". Docker registries only
// accept gzip-compressed layers; zstd is only offered in the OCI family.
func schemaFamily(configMediaType string, ct archive.CompressType) (manifestMT, layerMT string) {
	if !mediatype.IsOCI(configMediaType) {
		return mediatype.Docker2Manifest, mediatype.Docker2LayerGzip
	}
	if ct == archive.CompressZstd {
		return mediatype.OCI1Manifest, mediatype.OCI1LayerZstd
	}
	return mediatype.OCI1Manifest, mediatype.OCI1LayerGzip
}

// normalizeLocation turns a blob-upload Location header — which a
// registry may send as a bare path or a fully-qualified URL — into the
// path+query form internal/reghttp.Client.Do expects.
func normalizeLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("upload response missing Location header")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse Location header %q: %w", location, err)
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery, nil
	}
	return u.Path, nil
}

// appendQuery adds key=value to location's query string, preserving
// whatever query parameters (e.g. the upload UUID) it already carries.
func appendQuery(location, key, value string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", location, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.Path + "?" + u.RawQuery, nil
}
