package archive

import (
	"bytes"
	"io"
	"testing"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		head []byte
		want CompressType
	}{
		{"gzip", []byte{0x1f, 0x8b, 0x08}, CompressGzip},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd}, CompressZstd},
		{"xz", []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, CompressXz},
		{"plain tar", []byte("ustar\x00"), CompressNone},
		{"empty", []byte{}, CompressNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Detect(c.head); got != c.want {
				t.Fatalf("Detect(%v) = %v, want %v", c.head, got, c.want)
			}
		})
	}
}

func TestCompressDecompressGzipRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("hello occystrap "), 1000)
	rc, err := Compress(bytes.NewReader(payload), CompressGzip)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	out, ct, err := Decompress(rc)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if ct != CompressGzip {
		t.Fatalf("detected %v, want gzip", ct)
	}
	got, err := io.ReadAll(out)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestCompressDecompressZstdRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("zstd payload "), 1000)
	rc, err := Compress(bytes.NewReader(payload), CompressZstd)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	out, ct, err := Decompress(rc)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if ct != CompressZstd {
		t.Fatalf("detected %v, want zstd", ct)
	}
	got, err := io.ReadAll(out)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestGzipDeterministic(t *testing.T) {
	payload := []byte("deterministic output please")
	rc1, _ := Compress(bytes.NewReader(payload), CompressGzip)
	b1, _ := io.ReadAll(rc1)
	rc2, _ := Compress(bytes.NewReader(payload), CompressGzip)
	b2, _ := io.ReadAll(rc2)
	if !bytes.Equal(b1, b2) {
		t.Fatalf("gzip output not deterministic across runs")
	}
}

func TestDecompressPassthroughUncompressed(t *testing.T) {
	payload := []byte("plain tar bytes, not compressed")
	out, ct, err := Decompress(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if ct != CompressNone {
		t.Fatalf("detected %v, want none", ct)
	}
	got, _ := io.ReadAll(out)
	if !bytes.Equal(got, payload) {
		t.Fatalf("passthrough mismatch")
	}
}

func TestCompressUnknownType(t *testing.T) {
	_, err := Compress(bytes.NewReader(nil), CompressXz)
	if err != ErrUnknownType {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}
