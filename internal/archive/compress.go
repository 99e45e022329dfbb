// Package archive implements spec.md §4.2/§4.7's compression layer:
// magic-byte/media-type detection, and streaming gzip/zstd codecs for
// both ingress (registry/tarball sources decompress transparently) and
// egress (the registry pusher chooses gzip or zstd deterministically).
// Grounded on the teacher's pkg/archive/compress.go, trimmed to the
// codecs spec.md actually needs: bzip2 is dropped (no Occystrap
// component produces or requires bzip2 per spec.md §4.2/§4.7), xz is
// kept decode-only since some OCI-layout exports use it on ingest but
// Occystrap never chooses it for output.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// CompressType identifies a detected or requested compression codec.
type CompressType int

const (
	// CompressNone means the stream is an uncompressed tar.
	CompressNone CompressType = iota
	// CompressGzip is gzip-compressed.
	CompressGzip
	// CompressZstd is zstd-compressed.
	CompressZstd
	// CompressXz is xz-compressed; decode-only.
	CompressXz
)

// ErrUnknownType is returned when Compress is asked for an unsupported target.
var ErrUnknownType = errors.New("archive: unsupported compression type")

func (ct CompressType) String() string {
	switch ct {
	case CompressNone:
		return "none"
	case CompressGzip:
		return "gzip"
	case CompressZstd:
		return "zstd"
	case CompressXz:
		return "xz"
	default:
		return "unknown"
	}
}

// compressHeaders are the magic byte prefixes spec.md §4.2 names for
// transparent detection: "1f 8b" gzip, "28 b5 2f fd" zstd.
var compressHeaders = map[CompressType][]byte{
	CompressGzip: {0x1f, 0x8b},
	CompressZstd: {0x28, 0xb5, 0x2f, 0xfd},
	CompressXz:   {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
}

// Detect identifies the compression type from a peeked header prefix.
// An empty or too-short head, or bytes matching none of the known
// headers, returns CompressNone — the tar itself may simply be shorter
// than the longest magic prefix, which spec.md treats as uncompressed.
func Detect(head []byte) CompressType {
	for ct, magic := range compressHeaders {
		if bytes.HasPrefix(head, magic) {
			return ct
		}
	}
	return CompressNone
}

// Decompress wraps r in a streaming decoder matching its detected
// compression, returning the plain tar stream and which codec it found.
// This is what sources use to guarantee the Layer element handle they
// hand a Consumer is always the uncompressed tar, regardless of wire
// compression (spec.md §4.2).
func Decompress(r io.Reader) (io.Reader, CompressType, error) {
	br := bufio.NewReaderSize(r, 16)
	head, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, CompressNone, err
	}
	ct := Detect(head)
	switch ct {
	case CompressGzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, ct, err
		}
		return gr, ct, nil
	case CompressZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, ct, err
		}
		return zr.IOReadCloser(), ct, nil
	case CompressXz:
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, ct, err
		}
		return xr, ct, nil
	default:
		return br, CompressNone, nil
	}
}

// Compress streams src through a codec matching ct into a pipe, returning
// the compressed reader. gzip output leaves the header timestamp zero and
// the OS byte at its fixed default, so repeated runs over identical input are byte-identical (spec.md §8
// invariant 5's determinism requirement); zstd is deterministic by
// default already.
func Compress(src io.Reader, ct CompressType) (io.ReadCloser, error) {
	switch ct {
	case CompressGzip:
		return compressGzip(src), nil
	case CompressZstd:
		return compressZstd(src), nil
	default:
		return nil, ErrUnknownType
	}
}

func compressGzip(src io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		// Header.ModTime left at its zero value so gzip encodes mtime=0,
		// keeping output byte-identical across runs over identical input.
		gw, _ := gzip.NewWriterLevel(pw, gzip.BestCompression)
		_, err := io.Copy(gw, src)
		cerr := gw.Close()
		if err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return pr
}

func compressZstd(src io.Reader) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		zw, err := zstd.NewWriter(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		_, err = io.Copy(zw, src)
		cerr := zw.Close()
		if err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return pr
}
