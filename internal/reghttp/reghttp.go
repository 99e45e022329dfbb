// Package reghttp is the registry HTTP/V2 transport shared by
// source/registry and sink/registry: it resolves auth challenges,
// retries transient failures, and exposes typed responses. Grounded on
// scheme/reg/blob.go and scheme/reg/manifest.go's direct *http.Client
// usage, generalized into one request helper instead of being
// duplicated per call site.
package reghttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shakenfist/occystrap/internal/auth"
	"github.com/shakenfist/occystrap/internal/errs"
	"github.com/shakenfist/occystrap/internal/retry"
)

// Client wraps an *http.Client with registry auth and retry policy.
type Client struct {
	hc        *http.Client
	auth      auth.Auth
	insecure  bool
	userAgent string
	log       *logrus.Logger
}

// Opt configures New.
type Opt func(*Client)

// New builds a registry HTTP client.
func New(opts ...Opt) *Client {
	c := &Client{
		hc:        &http.Client{},
		auth:      auth.NewAuth(),
		userAgent: "occystrap",
		log:       &logrus.Logger{Out: io.Discard, Level: logrus.WarnLevel, Formatter: new(logrus.TextFormatter)},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithAuth overrides the Auth used to resolve 401 challenges.
func WithAuth(a auth.Auth) Opt { return func(c *Client) { c.auth = a } }

// WithInsecure makes every request use plain http instead of https, for
// registries without TLS.
func WithInsecure(v bool) Opt { return func(c *Client) { c.insecure = v } }

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Opt { return func(c *Client) { c.userAgent = ua } }

// WithLog injects a logger.
func WithLog(log *logrus.Logger) Opt {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithHTTPClient overrides the underlying *http.Client (used by tests).
func WithHTTPClient(hc *http.Client) Opt { return func(c *Client) { c.hc = hc } }

// URL builds "https://host/v2/<path>" (or http:// if insecure). If path
// already starts with "/" it is treated as absolute — as a blob-upload
// Location header is — and used as-is instead of being nested under
// another "/v2/" prefix.
func (c *Client) URL(host, path string) string {
	scheme := "https"
	if c.insecure {
		scheme = "http"
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Sprintf("%s://%s%s", scheme, host, path)
	}
	return fmt.Sprintf("%s://%s/v2/%s", scheme, host, path)
}

// Do sends one registry request, resolving a 401 challenge once and
// retrying transient (5xx/connection-reset) failures up to
// retry.MaxAttempts times. The caller owns resp.Body and must close it.
//
// body is read into memory up front so it can be replayed on both the
// 401-challenge retry and any transient-failure retry.Do attempt: a
// single io.Reader drains on first use, and silently resending a drained
// reader would corrupt the second attempt's request (PUT/PATCH blob and
// manifest-PUT calls all carry a body).
func (c *Client) Do(ctx context.Context, method, host, path string, body io.Reader, headers http.Header) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reghttp: buffer request body: %w", err)
		}
		bodyBytes = b
	}
	newBody := func() io.Reader {
		if bodyBytes == nil {
			return nil
		}
		return bytes.NewReader(bodyBytes)
	}

	var resp *http.Response
	err := retry.Do(ctx, c.log, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.URL(host, path), newBody())
		if err != nil {
			return err
		}
		req.Header = headers.Clone()
		if req.Header == nil {
			req.Header = http.Header{}
		}
		req.Header.Set("User-Agent", c.userAgent)
		if err := c.auth.UpdateRequest(req); err != nil {
			c.log.WithFields(logrus.Fields{"host": host, "err": err}).Debug("no auth header available yet")
		}

		r, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
		}

		if r.StatusCode == http.StatusUnauthorized {
			if aerr := c.auth.HandleResponse(r); aerr != nil {
				r.Body.Close()
				return fmt.Errorf("%w: %v", errs.ErrAuthRequired, aerr)
			}
			r.Body.Close()
			req2, err := http.NewRequestWithContext(ctx, method, c.URL(host, path), newBody())
			if err != nil {
				return err
			}
			req2.Header = headers.Clone()
			if req2.Header == nil {
				req2.Header = http.Header{}
			}
			req2.Header.Set("User-Agent", c.userAgent)
			if err := c.auth.UpdateRequest(req2); err != nil {
				return fmt.Errorf("%w: %v", errs.ErrAuthFailed, err)
			}
			r, err = c.hc.Do(req2)
			if err != nil {
				return fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
			}
			if r.StatusCode == http.StatusUnauthorized {
				r.Body.Close()
				return fmt.Errorf("%w: still unauthorized after retry", errs.ErrAuthFailed)
			}
		}

		if r.StatusCode >= 500 {
			r.Body.Close()
			return fmt.Errorf("%w: %s", errs.ErrTransientNetwork, r.Status)
		}

		resp = r
		return nil
	})
	return resp, err
}

// HTTPError turns a non-2xx status into a plain error, used once a caller
// has decided retry/auth handling is done and just needs to report failure.
func HTTPError(statusCode int) error {
	if statusCode == http.StatusNotFound {
		return fmt.Errorf("%w: http %d", errs.ErrNotFound, statusCode)
	}
	return fmt.Errorf("http status %d", statusCode)
}

// IsNotFound reports whether err ultimately wraps a 404/ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
