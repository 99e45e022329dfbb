// Package tarstream implements the single-forward-pass tarball parser
// shared by source/tarball and source/daemon (spec.md §4.3/§4.4): both
// read a "docker save"-shaped tar — either an OCI Image Layout (Docker
// 25+) or the legacy content-addressable layout (1.10-24.x) — and
// neither can assume the reader is seekable (the daemon's export is a
// live HTTP body), so every member is spooled to a scratch file keyed by
// its tar path as it is seen. Once the manifest (manifest.json or
// index.json) arrives, the members it names are resolved from the
// scratch map and released to the consumer in the order it dictates.
//
// Grounded on the teacher's pkg/archive/tar.go (archive/tar usage,
// FileInfoHeader shape) for the stdlib tar idiom, generalized from a
// single-direction Tar() writer into a classifying reader because the
// teacher has no tarball-reading code of its own.
package tarstream

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/internal/archive"
	"github.com/shakenfist/occystrap/internal/errs"
	"github.com/shakenfist/occystrap/types/dockerspec"
	"github.com/shakenfist/occystrap/types/element"
	"github.com/shakenfist/occystrap/types/mediatype"
	"github.com/shakenfist/occystrap/types/ocispec"
)

// spooled records one buffered tar member: its scratch file path, its
// declared size, and the digest of its raw (as-stored) bytes.
type spooled struct {
	path   string
	size   int64
	digest digest.Digest
}

// Parse reads a full "docker save" tar from r and emits its Config then
// Layers, in the order manifest.json/index.json dictates, to consumer.
// All scratch files are removed before Parse returns, success or error.
func Parse(r io.Reader, consumer element.Consumer) error {
	scratchDir, err := os.MkdirTemp("", "occystrap-tarstream-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratchDir)

	members := map[string]spooled{}
	var manifestJSON, indexJSON []byte

	tr := tar.NewReader(r)
	for i := 0; ; i++ {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tarstream: read header: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		switch name {
		case "manifest.json":
			manifestJSON, err = io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("tarstream: read manifest.json: %w", err)
			}
			continue
		case "index.json":
			indexJSON, err = io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("tarstream: read index.json: %w", err)
			}
			continue
		case "oci-layout", "repositories":
			io.Copy(io.Discard, tr)
			continue
		}

		scratchPath := fmt.Sprintf("%s/m%d", scratchDir, i)
		f, err := os.Create(scratchPath)
		if err != nil {
			return err
		}
		h := sha256.New()
		n, err := io.Copy(io.MultiWriter(f, h), tr)
		f.Close()
		if err != nil {
			return fmt.Errorf("tarstream: spool %s: %w", name, err)
		}
		members[name] = spooled{
			path:   scratchPath,
			size:   n,
			digest: digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(h.Sum(nil))),
		}
	}

	switch {
	case indexJSON != nil:
		return parseOCILayout(indexJSON, members, consumer)
	case manifestJSON != nil:
		return parseContentAddressable(manifestJSON, members, consumer)
	default:
		return errs.ErrUnsupportedTarballFormat
	}
}

// parseOCILayout resolves index.json -> the first (or sole) image
// manifest -> config + layers, each looked up in members by the digest
// OCI's content-addressable blobs/sha256/<hex> naming convention uses —
// the hex of the stored blob's own bytes, which for compressed layers is
// the compressed-blob digest, not the diffID; decompression downstream
// (archive.Decompress) is what recovers the diffID.
func parseOCILayout(indexJSON []byte, members map[string]spooled, consumer element.Consumer) error {
	var index ocispec.Index
	if err := json.Unmarshal(indexJSON, &index); err != nil {
		return fmt.Errorf("tarstream: decode index.json: %w", err)
	}
	if len(index.Manifests) == 0 {
		return fmt.Errorf("%w: index.json has no manifests", errs.ErrUnsupportedTarballFormat)
	}
	manifestDesc := index.Manifests[0]
	manifestSp, ok := members[blobPath(manifestDesc.Digest)]
	if !ok {
		return fmt.Errorf("%w: image manifest blob %s missing from tar", errs.ErrUnsupportedTarballFormat, manifestDesc.Digest)
	}
	manifestBytes, err := os.ReadFile(manifestSp.path)
	if err != nil {
		return err
	}
	var m ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &m); err != nil {
		return fmt.Errorf("tarstream: decode image manifest: %w", err)
	}

	cfgSp, ok := members[blobPath(m.Config.Digest)]
	if !ok {
		return fmt.Errorf("%w: config blob %s missing from tar", errs.ErrUnsupportedTarballFormat, m.Config.Digest)
	}
	if err := emitFromFile(consumer, element.Config, m.Config.Digest.Encoded()+".json", m.Config.Digest, m.Config.MediaType, cfgSp.path, false); err != nil {
		return err
	}

	for _, l := range m.Layers {
		sp, ok := members[blobPath(l.Digest)]
		if !ok {
			return fmt.Errorf("%w: layer blob %s missing from tar", errs.ErrUnsupportedTarballFormat, l.Digest)
		}
		if !consumer.Want(l.Digest) {
			continue
		}
		decompress := l.MediaType != mediatype.OCI1Layer
		if err := emitFromFile(consumer, element.Layer, l.Digest.Encoded(), l.Digest, l.MediaType, sp.path, decompress); err != nil {
			return err
		}
	}
	return nil
}

// parseContentAddressable resolves the legacy "docker save" manifest.json
// array (Occystrap only ever writes/reads the first entry) to a config
// JSON file and a list of "<id>/layer.tar" paths, in apply order.
func parseContentAddressable(manifestJSON []byte, members map[string]spooled, consumer element.Consumer) error {
	var save dockerspec.SaveManifest
	if err := json.Unmarshal(manifestJSON, &save); err != nil {
		return fmt.Errorf("tarstream: decode manifest.json: %w", err)
	}
	if len(save) == 0 {
		return fmt.Errorf("%w: manifest.json has no entries", errs.ErrUnsupportedTarballFormat)
	}
	entry := save[0]

	cfgSp, ok := members[path.Clean(entry.Config)]
	if !ok {
		return fmt.Errorf("%w: config file %s missing from tar", errs.ErrUnsupportedTarballFormat, entry.Config)
	}
	cfgDigest := digest.NewDigestFromEncoded(digest.SHA256, strings.TrimSuffix(path.Base(entry.Config), ".json"))
	if err := emitFromFile(consumer, element.Config, path.Base(entry.Config), cfgDigest, mediatype.Docker2ImageConfig, cfgSp.path, false); err != nil {
		return err
	}

	for _, layerPath := range entry.Layers {
		sp, ok := members[path.Clean(layerPath)]
		if !ok {
			return fmt.Errorf("%w: layer file %s missing from tar", errs.ErrUnsupportedTarballFormat, layerPath)
		}
		if !consumer.Want(sp.digest) {
			continue
		}
		if err := emitFromFile(consumer, element.Layer, sp.digest.Encoded(), sp.digest, mediatype.Docker2LayerGzip, sp.path, false); err != nil {
			return err
		}
	}
	return nil
}

// emitFromFile opens a scratch file, optionally decompresses it, and
// hands it to consumer.Accept as the named Element's Handle. The caller
// closes nothing else; the file is removed by Parse's scratchDir cleanup.
//
// When decompress is true, d and the scratch file's size describe the
// *compressed* blob, not the decompressed bytes the Handle will actually
// yield; spec §3's Layer Digest Invariant requires Element.Digest/Size to
// describe the content behind Handle, so the decompressed bytes are
// buffered here and re-digested/re-sized before being handed off.
func emitFromFile(consumer element.Consumer, t element.Type, name string, d digest.Digest, mt string, scratchPath string, decompress bool) error {
	f, err := os.Open(scratchPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if !decompress {
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		return consumer.Accept(element.Element{
			Type:      t,
			Name:      name,
			Handle:    f,
			Digest:    d,
			MediaType: mt,
			Size:      fi.Size(),
		})
	}

	dec, _, err := archive.Decompress(f)
	if err != nil {
		return fmt.Errorf("tarstream: decompress %s: %w", name, err)
	}
	data, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("tarstream: decompress %s: %w", name, err)
	}
	diffID := digest.FromBytes(data)
	return consumer.Accept(element.Element{
		Type:      t,
		Name:      diffID.Encoded(),
		Handle:    bytes.NewReader(data),
		Digest:    diffID,
		MediaType: mt,
		Size:      int64(len(data)),
	})
}

func blobPath(d digest.Digest) string {
	return fmt.Sprintf("blobs/%s/%s", d.Algorithm(), d.Encoded())
}
