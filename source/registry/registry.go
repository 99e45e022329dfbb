// Package registry implements the Docker Registry HTTP API V2 Source
// (spec.md §4.2): manifest negotiation, platform selection from a
// manifest list/index, and a bounded worker pool that fetches layer
// blobs concurrently while emitting them to the consumer in apply order.
//
// Grounded on scheme/reg/manifest.go (GET with the Accept list, 200/404
// status handling) and scheme/reg/blob.go (blob GET, streaming reader),
// adapted from the teacher's Req/reghttp.Do plumbing onto
// internal/reghttp.Client and from its mirror-aware config onto a single
// Ref per source.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	digest "github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/shakenfist/occystrap/internal/archive"
	"github.com/shakenfist/occystrap/internal/auth"
	"github.com/shakenfist/occystrap/internal/errs"
	"github.com/shakenfist/occystrap/internal/reghttp"
	"github.com/shakenfist/occystrap/internal/workerpool"
	"github.com/shakenfist/occystrap/types/dockerspec"
	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/mediatype"
	"github.com/shakenfist/occystrap/types/ref"
)

// Source pulls one image (config + layers, in apply order) from a V2
// registry. Build one per image; it is not reused across references.
type Source struct {
	client   *reghttp.Client
	ref      ref.Ref
	platform ref.Platform
	parallel int
	log      *logrus.Logger
}

// Opt configures New.
type Opt func(*Source)

// WithParallel sets the layer-fetch worker pool size (default 4, per
// spec.md §4.2).
func WithParallel(n int) Opt {
	return func(s *Source) {
		if n > 0 {
			s.parallel = n
		}
	}
}

// WithLog injects a logger.
func WithLog(log *logrus.Logger) Opt {
	return func(s *Source) {
		if log != nil {
			s.log = log
		}
	}
}

// New builds a registry Source for r, authenticating with creds and
// talking plain http if insecure is set.
func New(r ref.Ref, creds auth.CredsFn, insecure bool, opts ...Opt) *Source {
	log := &logrus.Logger{Out: io.Discard, Level: logrus.WarnLevel, Formatter: new(logrus.TextFormatter)}
	s := &Source{
		ref:      r,
		platform: r.Platform,
		parallel: 4,
		log:      log,
	}
	for _, o := range opts {
		o(s)
	}
	a := auth.NewAuth(auth.WithCreds(creds), auth.WithLog(s.log))
	s.client = reghttp.New(reghttp.WithAuth(a), reghttp.WithInsecure(insecure), reghttp.WithLog(s.log))
	return s
}

// manifestBody is the subset of fields shared by a Docker schema2 / OCI
// image manifest: this lets one struct decode either schema family.
type manifestBody = dockerspec.DistributionManifest

// manifestList is the subset shared by a schema2 manifest list / OCI index.
type manifestList = dockerspec.DistributionManifestList

// Run fetches the manifest (resolving a list/index to the platform-matched
// entry), then the config and layers, emitting each to consumer. Config
// may be emitted before layers start, matching spec.md §4.2's "Emitted
// first as a Config element" rule.
func (s *Source) Run(consumer element.Consumer) error {
	ctx := context.Background()
	tagOrDigest := s.ref.Tag
	if s.ref.Digest != "" {
		tagOrDigest = s.ref.Digest
	}

	raw, contentType, err := s.getManifest(ctx, tagOrDigest)
	if err != nil {
		return err
	}

	if mediatype.IsManifestList(contentType) {
		var list manifestList
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("registry source: decode manifest list: %w", err)
		}
		entry, err := s.selectPlatform(list)
		if err != nil {
			return err
		}
		raw, contentType, err = s.getManifest(ctx, entry.Digest.String())
		if err != nil {
			return err
		}
		_ = contentType
	}

	var m manifestBody
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("registry source: decode manifest: %w", err)
	}

	cfgBody, err := s.getBlob(ctx, m.Config.Digest.String())
	if err != nil {
		return fmt.Errorf("registry source: fetch config: %w", err)
	}
	defer cfgBody.Close()
	cfgBytes, err := io.ReadAll(cfgBody)
	if err != nil {
		return fmt.Errorf("registry source: read config: %w", err)
	}
	if err := consumer.Accept(element.Element{
		Type:      element.Config,
		Name:      m.Config.Digest.Encoded() + ".json",
		Handle:    bytes.NewReader(cfgBytes),
		Digest:    m.Config.Digest,
		MediaType: m.Config.MediaType,
		Size:      int64(len(cfgBytes)),
	}); err != nil {
		return err
	}

	return s.fetchLayers(ctx, m, consumer)
}

// fetchLayers pulls m.Layers with a bounded worker pool, decompressing
// each as it arrives, and releases them to consumer in manifest order.
func (s *Source) fetchLayers(ctx context.Context, m manifestBody, consumer element.Consumer) error {
	pool := workerpool.New(s.parallel)
	tasks := make([]workerpool.Task, 0, len(m.Layers))
	for _, layer := range m.Layers {
		layer := layer
		tasks = append(tasks, func(ctx context.Context) (interface{}, error) {
			if !consumer.Want(layer.Digest) {
				return nil, nil
			}
			body, err := s.getBlob(ctx, layer.Digest.String())
			if err != nil {
				return nil, fmt.Errorf("fetch layer %s: %w", layer.Digest, err)
			}
			defer body.Close()
			scratch, err := decompressToMemory(body)
			if err != nil {
				return nil, fmt.Errorf("decompress layer %s: %w", layer.Digest, err)
			}
			return scratch, nil
		})
	}

	results, err := pool.Ordered(ctx, tasks)
	if err != nil {
		return fmt.Errorf("registry source: %w", err)
	}
	for i, layer := range m.Layers {
		if results[i] == nil {
			continue
		}
		data := results[i].([]byte)
		// diffID is the digest of the decompressed tar, not layer.Digest
		// (the compressed blob's manifest descriptor) — spec §3's Layer
		// Digest Invariant, and what the directory sink's
		// blobs/sha256/<digest> path is keyed on.
		diffID := digest.FromBytes(data)
		if err := consumer.Accept(element.Element{
			Type:      element.Layer,
			Name:      diffID.Encoded(),
			Handle:    bytes.NewReader(data),
			Digest:    diffID,
			MediaType: layer.MediaType,
			Size:      int64(len(data)),
		}); err != nil {
			return err
		}
	}
	return nil
}

// getManifest issues a negotiated GET for tagOrDigest and returns the raw
// body plus the server's declared Content-Type.
func (s *Source) getManifest(ctx context.Context, tagOrDigest string) ([]byte, string, error) {
	headers := http.Header{"Accept": mediatype.ManifestAccept}
	path := fmt.Sprintf("%s/manifests/%s", s.ref.Repository, tagOrDigest)
	resp, err := s.client.Do(ctx, http.MethodGet, s.ref.Registry, path, nil, headers)
	if err != nil {
		return nil, "", fmt.Errorf("registry source: get manifest %s: %w", s.ref.CommonName(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("registry source: get manifest %s: %w", s.ref.CommonName(), reghttp.HTTPError(resp.StatusCode))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return raw, resp.Header.Get("Content-Type"), nil
}

// getBlob issues a GET for a blob digest and returns its body unread.
func (s *Source) getBlob(ctx context.Context, dgst string) (io.ReadCloser, error) {
	path := fmt.Sprintf("%s/blobs/%s", s.ref.Repository, dgst)
	resp, err := s.client.Do(ctx, http.MethodGet, s.ref.Registry, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, reghttp.HTTPError(resp.StatusCode)
	}
	return resp.Body, nil
}

// selectPlatform picks the manifest-list entry matching s.platform, or
// the first entry if no platform was requested, per spec.md §4.2.
func (s *Source) selectPlatform(list manifestList) (dockerspec.DistributionListManifest, error) {
	if s.platform.Empty() {
		if len(list.Manifests) == 0 {
			return dockerspec.DistributionListManifest{}, errs.ErrNoMatchingPlatform
		}
		return list.Manifests[0], nil
	}
	for _, entry := range list.Manifests {
		if entry.Platform.OS == s.platform.OS &&
			entry.Platform.Architecture == s.platform.Architecture &&
			(s.platform.Variant == "" || entry.Platform.Variant == s.platform.Variant) {
			return entry, nil
		}
	}
	return dockerspec.DistributionListManifest{}, errs.ErrNoMatchingPlatform
}

// decompressToMemory fully decompresses a layer blob to a byte slice.
// Layer blobs are bounded by practical image sizes; streaming straight to
// a scratch file is left to callers that need to bound memory (the
// tarball and directory sinks read Handle directly as it streams in).
func decompressToMemory(r io.Reader) ([]byte, error) {
	dec, _, err := archive.Decompress(r)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(dec)
}
