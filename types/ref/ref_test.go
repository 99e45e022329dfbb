package ref

import "testing"

func TestCommonNameRegistry(t *testing.T) {
	r := Ref{
		Scheme:     SchemeRegistry,
		Registry:   "registry-1.docker.io",
		Repository: "library/busybox",
		Tag:        "latest",
	}
	want := "registry://registry-1.docker.io/library/busybox:latest"
	if got := r.CommonName(); got != want {
		t.Fatalf("CommonName() = %q, want %q", got, want)
	}
}

func TestCommonNameDigest(t *testing.T) {
	r := Ref{
		Scheme:     SchemeRegistry,
		Registry:   "registry-1.docker.io",
		Repository: "library/busybox",
		Digest:     "sha256:aaaa",
	}
	want := "registry://registry-1.docker.io/library/busybox@sha256:aaaa"
	if got := r.CommonName(); got != want {
		t.Fatalf("CommonName() = %q, want %q", got, want)
	}
}

func TestCommonNameFileSchemes(t *testing.T) {
	for _, s := range []Scheme{SchemeTar, SchemeDir, SchemeOCI, SchemeMounts} {
		r := Ref{Scheme: s, Path: "/tmp/out"}
		want := string(s) + ":///tmp/out"
		if got := r.CommonName(); got != want {
			t.Fatalf("CommonName() for %s = %q, want %q", s, got, want)
		}
	}
}

func TestPlatformString(t *testing.T) {
	p := Platform{OS: "linux", Architecture: "arm64", Variant: "v8"}
	if got, want := p.String(), "linux/arm64/v8"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	p2 := Platform{OS: "linux", Architecture: "amd64"}
	if got, want := p2.String(), "linux/amd64"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if !(Platform{}).Empty() {
		t.Fatalf("zero Platform should be Empty")
	}
}
