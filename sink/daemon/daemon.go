// Package daemon implements the Daemon Loader Sink (spec.md §4.10):
// buffers the image into a scratch docker-save v1.2 tar (reusing
// sink/tarball's writer against a temp file instead of the final
// destination) and POSTs it to `POST /images/load` on the daemon's Unix
// socket once Finalize has the whole image.
//
// Grounded on source/daemon's Unix-socket *http.Client dial shape, paired
// with sink/tarball so the two halves of the teacher's docker-save
// handling (read via source/daemon, write via sink/tarball) aren't
// duplicated a third time here.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	digest "github.com/opencontainers/go-digest"

	"github.com/shakenfist/occystrap/sink/tarball"
	"github.com/shakenfist/occystrap/types/element"
)

const defaultSocket = "/var/run/docker.sock"

// Sink loads one image into a running daemon.
type Sink struct {
	repoTags []string
	hc       *http.Client

	scratchPath string
	inner       *tarball.Sink
}

// Opt configures New.
type Opt func(*Sink)

// WithRepoTags tags the loaded image, e.g. ["myrepo/myimage:latest"].
func WithRepoTags(tags ...string) Opt {
	return func(s *Sink) { s.repoTags = tags }
}

// New builds a Sink loading into the daemon reachable at socket
// (defaultSocket if empty).
func New(socket string, opts ...Opt) *Sink {
	if socket == "" {
		socket = defaultSocket
	}
	s := &Sink{
		hc: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			},
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Want always admits: the daemon loader has no dedup mechanism of its own.
func (s *Sink) Want(digest.Digest) bool { return true }

func (s *Sink) open() error {
	if s.inner != nil {
		return nil
	}
	f, err := os.CreateTemp("", "occystrap-daemon-load-*.tar")
	if err != nil {
		return fmt.Errorf("daemon sink: create scratch tar: %w", err)
	}
	path := f.Name()
	f.Close()
	s.scratchPath = path
	s.inner = tarball.New(path, tarball.WithRepoTags(s.repoTags...))
	return nil
}

// Accept delegates to the scratch tarball.Sink.
func (s *Sink) Accept(e element.Element) error {
	if err := s.open(); err != nil {
		return err
	}
	return s.inner.Accept(e)
}

// Finalize closes out the scratch tar, POSTs it to /images/load, and
// removes the scratch file regardless of outcome.
func (s *Sink) Finalize() error {
	if err := s.open(); err != nil {
		return err
	}
	defer os.Remove(s.scratchPath)

	if err := s.inner.Finalize(); err != nil {
		return fmt.Errorf("daemon sink: finalize scratch tar: %w", err)
	}

	f, err := os.Open(s.scratchPath)
	if err != nil {
		return fmt.Errorf("daemon sink: reopen scratch tar: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix/images/load", f)
	if err != nil {
		return fmt.Errorf("daemon sink: build load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-tar")
	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("daemon sink: load: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon sink: load: http %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
