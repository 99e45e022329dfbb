// Package tarwire implements spec.md §4.6's tar-format selector and the
// re-tar step mutating filters use to rewrite a layer's members and
// recompute its digest.
//
// USTAR is preferred — every long-path member in PAX costs ~1KiB of
// extended header — but USTAR cannot represent names >256 chars with no
// valid 155/100 prefix+name split, basenames >100 chars, symlink targets
// >100 chars, sizes >=8GiB, uid/gid >=2^21-1, or non-ASCII names. The
// selector pre-scans the post-transform member list and short-circuits to
// PAX on the first disqualifying member.
//
// Grounded on the teacher's pkg/archive/tar.go (tar.FormatPAX usage,
// header-rewrite shape), generalized here into the narrowest-format scan
// the teacher's version stubs out with TODOs.
package tarwire

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"unicode"

	digest "github.com/opencontainers/go-digest"
)

// Transform is applied to every tar header as the rewriter reads the
// source; returning keep=false drops the member entirely. Implementations
// may mutate hdr in place (e.g. zero ModTime) before returning it.
type Transform func(hdr *tar.Header) (newHdr *tar.Header, keep bool, err error)

// ustarNameLimit, ustarPrefixLimit, ustarNameTotalLimit, ustarLinkLimit,
// ustarIDLimit, ustarMaxSize mirror the USTAR header's fixed-width fields.
const (
	ustarNameLimit      = 100
	ustarPrefixLimit    = 155
	ustarNameTotalLimit = ustarNameLimit + 1 + ustarPrefixLimit // name + '/' + prefix
	ustarLinkLimit      = 100
	ustarIDLimit        = 1<<21 - 1
	ustarMaxSize        = int64(8) << 30 // 8 GiB
)

// fitsUSTAR reports whether hdr can be represented by a USTAR header
// without any PAX extended records.
func fitsUSTAR(hdr *tar.Header) bool {
	if len(hdr.Name) > ustarNameTotalLimit {
		return false
	}
	if !splitsUSTARName(hdr.Name) {
		return false
	}
	if len(hdr.Linkname) > ustarLinkLimit {
		return false
	}
	if hdr.Size >= ustarMaxSize {
		return false
	}
	if hdr.Uid >= ustarIDLimit || hdr.Gid >= ustarIDLimit {
		return false
	}
	if !isASCII(hdr.Name) || !isASCII(hdr.Linkname) {
		return false
	}
	// USTAR has no atime/ctime fields; archive/tar refuses to write a
	// USTAR header carrying either, so any member with one picked up
	// from its source forces the whole archive to PAX.
	if !hdr.AccessTime.IsZero() || !hdr.ChangeTime.IsZero() {
		return false
	}
	return true
}

// splitsUSTARName checks that hdr.Name can be split at some '/' into a
// prefix (<=155 bytes) and a name (<=100 bytes), as USTAR requires for
// any name longer than 100 bytes.
func splitsUSTARName(name string) bool {
	if len(name) <= ustarNameLimit {
		return true
	}
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] != '/' {
			continue
		}
		prefix, base := name[:i], name[i+1:]
		if len(prefix) <= ustarPrefixLimit && len(base) <= ustarNameLimit {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// SelectFormat pre-scans headers (already transformed) and returns the
// narrowest tar format that represents all of them losslessly.
func SelectFormat(headers []*tar.Header) byte {
	for _, h := range headers {
		if !fitsUSTAR(h) {
			return tar.FormatPAX
		}
	}
	return tar.FormatUSTAR
}

// ErrAborted is returned if the rewrite is interrupted by a Transform error.
var ErrAborted = errors.New("tarwire: transform aborted rewrite")

// Rewrite reads the tar stream from src, applies xform to every member,
// and writes the surviving members to a fresh tar using the narrowest
// format that fits the (post-transform) member set, returning the
// resulting stream's SHA256 digest — the new diffID a caller must
// propagate into the element name and the patched image config.
//
// Because the chosen format is a property of the whole archive, this
// makes two passes over the data: the first spools transformed entries
// to a scratch file (always written as PAX, which can represent anything,
// so the spool step itself never needs to know the final format), the
// second re-reads the scratch file, swaps in the chosen format, and
// streams the final bytes to dst while hashing them.
func Rewrite(src io.Reader, dst io.Writer, xform Transform) (digest.Digest, error) {
	scratch, err := os.CreateTemp("", "occystrap-tarwire-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(scratch.Name())
	defer scratch.Close()

	headers, err := spool(src, scratch, xform)
	if err != nil {
		return "", err
	}
	format := SelectFormat(headers)

	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	h := sha256.New()
	mw := io.MultiWriter(dst, h)
	tw := tar.NewWriter(mw)
	tr := tar.NewReader(scratch)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		hdr.Format = tar.Format(format)
		if err := tw.WriteHeader(hdr); err != nil {
			return "", err
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return "", err
		}
	}
	if err := tw.Close(); err != nil {
		return "", err
	}

	return digest.NewDigestFromEncoded(digest.SHA256, hex.EncodeToString(h.Sum(nil))), nil
}

// spool streams src's tar members through xform into scratch (always PAX,
// so any header shape round-trips), returning the transformed headers in
// order for the format-selection scan.
func spool(src io.Reader, scratch io.Writer, xform Transform) ([]*tar.Header, error) {
	tr := tar.NewReader(src)
	tw := tar.NewWriter(scratch)
	var headers []*tar.Header
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		newHdr, keep, err := xform(hdr)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		newHdr.Format = tar.FormatPAX
		if err := tw.WriteHeader(newHdr); err != nil {
			return nil, err
		}
		if newHdr.Typeflag == tar.TypeReg && newHdr.Size > 0 {
			if _, err := io.Copy(tw, tr); err != nil {
				return nil, err
			}
		}
		headers = append(headers, newHdr)
	}
	return headers, tw.Close()
}
