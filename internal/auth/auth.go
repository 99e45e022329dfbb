// Package auth implements the two registry authentication styles named in
// spec.md §4.2: HTTP Basic when a registry challenges "Basic", and the
// bearer-token flow when it challenges "Bearer realm=...,service=...,
// scope=...". Token caches are keyed per (host, authType) and guarded by
// a mutex so concurrent layer fetches can share them safely.
//
// This is almost entirely generic WWW-Authenticate handling rather than
// anything Docker-specific, so it is adapted here close to verbatim from
// the teacher's pkg/auth/auth.go.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type charLU byte

var charLUs [256]charLU

const (
	isSpace charLU = 1 << iota
	isAlphaNum
)

func init() {
	for c := 0; c < 256; c++ {
		if strings.ContainsRune(" \t\r\n", rune(c)) {
			charLUs[c] |= isSpace
		}
		if (rune('a') <= rune(c) && rune(c) <= rune('z')) ||
			(rune('A') <= rune(c) && rune(c) <= rune('Z')) ||
			(rune('0') <= rune(c) && rune(c) <= rune('9')) {
			charLUs[c] |= isAlphaNum
		}
	}
}

// defaultClientID is sent as client_id on bearer token requests.
var defaultClientID = "occystrap"

// minTokenLife tokens are required to last at least 60 seconds, matching
// older registry server expectations.
const minTokenLife = 60

// CredsFn looks up credentials for a given registry host.
type CredsFn func(host string) Cred

// Cred is a username/password pair, or a pre-obtained token.
type Cred struct {
	User, Password, Token string
}

// Auth manages authorization state across requests to one or more hosts.
type Auth interface {
	// HandleResponse inspects a 401 response's WWW-Authenticate headers
	// and registers/updates the handler needed to satisfy the challenge.
	HandleResponse(resp *http.Response) error
	// UpdateRequest adds an Authorization header to req if a handler has
	// already been established for req's host.
	UpdateRequest(req *http.Request) error
}

// Challenge is one parsed WWW-Authenticate scheme + its parameters.
type Challenge struct {
	authType string
	params   map[string]string
}

// Handler manages one auth type's state for one host.
type Handler interface {
	ProcessChallenge(Challenge) error
	GenerateAuth() (string, error)
}

// HandlerBuild constructs a Handler for a given authType and host.
type HandlerBuild func(client *http.Client, clientID, host string, cred Cred) Handler

// Opts configures NewAuth.
type Opts func(*auth)

type auth struct {
	httpClient *http.Client
	clientID   string
	credsFn    CredsFn
	hbs        map[string]HandlerBuild
	hs         map[string]map[string]Handler // [host][authType]
	authTypes  []string
	log        *logrus.Logger
	mu         sync.Mutex
}

// NewAuth creates an Auth with Basic and Bearer handlers registered by default.
func NewAuth(opts ...Opts) Auth {
	a := &auth{
		httpClient: &http.Client{},
		clientID:   defaultClientID,
		credsFn:    DefaultCredsFn,
		hbs:        map[string]HandlerBuild{},
		hs:         map[string]map[string]Handler{},
		authTypes:  []string{},
		log:        &logrus.Logger{Out: io.Discard, Level: logrus.WarnLevel, Formatter: new(logrus.TextFormatter)},
	}
	for _, opt := range opts {
		opt(a)
	}
	if len(a.authTypes) == 0 {
		a.addDefaultHandlers()
	}
	return a
}

// WithCreds provides a per-host credential lookup.
func WithCreds(f CredsFn) Opts {
	return func(a *auth) {
		if f != nil {
			a.credsFn = f
		}
	}
}

// WithHTTPClient overrides the client used for token requests.
func WithHTTPClient(h *http.Client) Opts {
	return func(a *auth) {
		if h != nil {
			a.httpClient = h
		}
	}
}

// WithClientID sets the client_id sent in bearer token requests.
func WithClientID(id string) Opts {
	return func(a *auth) { a.clientID = id }
}

// WithLog injects a logger; auth is silent by default.
func WithLog(log *logrus.Logger) Opts {
	return func(a *auth) {
		if log != nil {
			a.log = log
		}
	}
}

func (a *auth) addDefaultHandlers() {
	if _, ok := a.hbs["basic"]; !ok {
		a.hbs["basic"] = NewBasicHandler
		a.authTypes = append(a.authTypes, "basic")
	}
	if _, ok := a.hbs["bearer"]; !ok {
		a.hbs["bearer"] = NewBearerHandler
		a.authTypes = append(a.authTypes, "bearer")
	}
}

// DefaultCredsFn returns empty credentials; used when no CredsFn is configured.
func DefaultCredsFn(string) Cred {
	return Cred{}
}

func (a *auth) HandleResponse(resp *http.Response) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if resp.StatusCode != http.StatusUnauthorized {
		return ErrUnsupported
	}

	host := resp.Request.URL.Host
	cl, err := ParseAuthHeaders(resp.Header.Values("WWW-Authenticate"))
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{"host": host, "challenges": len(cl)}).Debug("auth challenge parsed")
	if len(cl) < 1 {
		return ErrEmptyChallenge
	}

	goodChallenge := false
	for _, c := range cl {
		if _, ok := a.hbs[c.authType]; !ok {
			a.log.WithFields(logrus.Fields{"authtype": c.authType}).Warn("unsupported auth type")
			continue
		}
		if _, ok := a.hs[host]; !ok {
			a.hs[host] = map[string]Handler{}
		}
		if _, ok := a.hs[host][c.authType]; !ok {
			h := a.hbs[c.authType](a.httpClient, a.clientID, host, a.credsFn(host))
			if h == nil {
				continue
			}
			a.hs[host][c.authType] = h
		}
		err := a.hs[host][c.authType].ProcessChallenge(c)
		switch err {
		case nil:
			goodChallenge = true
		case ErrNoNewChallenge:
			// a concurrent request may have already refreshed the
			// handler's auth header; treat that as acceptable too.
			prevAH := resp.Request.Header.Get("Authorization")
			ah, genErr := a.hs[host][c.authType].GenerateAuth()
			if genErr == nil && prevAH != ah {
				goodChallenge = true
			}
		default:
			return err
		}
	}
	if !goodChallenge {
		return ErrUnauthorized
	}
	return nil
}

func (a *auth) UpdateRequest(req *http.Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	host := req.URL.Host
	if a.hs[host] == nil {
		return nil
	}
	var err error
	for _, at := range a.authTypes {
		h, ok := a.hs[host][at]
		if !ok || h == nil {
			continue
		}
		ah, genErr := h.GenerateAuth()
		if genErr != nil {
			a.log.WithFields(logrus.Fields{"host": host, "authtype": at, "err": genErr}).Debug("failed to generate auth header")
			err = genErr
			continue
		}
		req.Header.Set("Authorization", ah)
		return nil
	}
	return err
}

// ParseAuthHeaders parses every WWW-Authenticate header line received.
func ParseAuthHeaders(ahl []string) ([]Challenge, error) {
	var cl []Challenge
	for _, ah := range ahl {
		c, err := ParseAuthHeader(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to parse challenge header %q: %w", ah, err)
		}
		cl = append(cl, c...)
	}
	return cl, nil
}

// ParseAuthHeader parses one WWW-Authenticate header line, e.g.:
//
//	Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/busybox:pull"
func ParseAuthHeader(ah string) ([]Challenge, error) {
	var cl []Challenge
	var c *Challenge
	var eb, atb, kb, vb []byte
	state := "string"

	for _, b := range []byte(ah) {
		switch state {
		case "string":
			switch {
			case len(eb) == 0 && b == '"':
				state = "quoted"
			case charLUs[b]&isAlphaNum != 0:
				eb = append(eb, b)
			case b == '=' && len(atb) > 0 && len(eb) > 0:
				kb = eb
				eb = []byte{}
				state = "value"
			case charLUs[b]&isSpace != 0:
				if len(eb) > 0 {
					atb = eb
					eb = []byte{}
					c = &Challenge{authType: strings.ToLower(string(atb)), params: map[string]string{}}
					cl = append(cl, *c)
				}
			default:
				return nil, ErrParseFailure
			}

		case "value":
			switch {
			case charLUs[b]&isAlphaNum != 0:
				vb = append(vb, b)
			case b == '"' && len(vb) == 0:
				state = "quoted"
			case charLUs[b]&isSpace != 0 || b == ',':
				c.params[strings.ToLower(string(kb))] = string(vb)
				kb, vb = []byte{}, []byte{}
				if b == ',' {
					state = "string"
				} else {
					state = "endvalue"
				}
			default:
				return nil, ErrParseFailure
			}

		case "quoted":
			switch b {
			case '"':
				c.params[strings.ToLower(string(kb))] = string(vb)
				kb, vb = []byte{}, []byte{}
				state = "endvalue"
			case '\\':
				state = "escape"
			default:
				vb = append(vb, b)
			}

		case "endvalue":
			switch {
			case charLUs[b]&isSpace != 0:
			case b == ',':
				state = "string"
			default:
				return nil, ErrParseFailure
			}

		case "escape":
			vb = append(vb, b)
			state = "quoted"

		default:
			return nil, ErrParseFailure
		}
	}

	switch state {
	case "string":
		if len(eb) != 0 {
			atb = eb
			c = &Challenge{authType: strings.ToLower(string(atb)), params: map[string]string{}}
			cl = append(cl, *c)
		}
	case "value":
		if len(vb) != 0 {
			c.params[strings.ToLower(string(kb))] = string(vb)
		}
	case "quoted", "escape":
		return nil, ErrParseFailure
	}

	return cl, nil
}

// BasicHandler supports the Basic auth challenge type.
type BasicHandler struct {
	realm string
	cred  Cred
}

// NewBasicHandler creates a Handler for Basic auth.
func NewBasicHandler(_ *http.Client, _, _ string, cred Cred) Handler {
	return &BasicHandler{cred: cred}
}

func (b *BasicHandler) ProcessChallenge(c Challenge) error {
	if _, ok := c.params["realm"]; !ok {
		return ErrInvalidChallenge
	}
	if b.realm != c.params["realm"] {
		b.realm = c.params["realm"]
		return nil
	}
	return ErrNoNewChallenge
}

func (b *BasicHandler) GenerateAuth() (string, error) {
	if b.cred.User == "" || b.cred.Password == "" {
		return "", ErrUnauthorized
	}
	enc := base64.StdEncoding.EncodeToString([]byte(b.cred.User + ":" + b.cred.Password))
	return "Basic " + enc, nil
}

// BearerToken is the JSON body a token endpoint returns.
type BearerToken struct {
	Token        string    `json:"token"`
	AccessToken  string    `json:"access_token"`
	ExpiresIn    int       `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
	RefreshToken string    `json:"refresh_token"`
	Scope        string    `json:"scope"`
}

// BearerHandler supports the Bearer auth challenge type and caches the
// resulting token until it expires.
type BearerHandler struct {
	client         *http.Client
	clientID       string
	realm, service string
	cred           Cred
	scopes         []string
	token          BearerToken
}

// NewBearerHandler creates a Handler for Bearer auth.
func NewBearerHandler(client *http.Client, clientID, _ string, cred Cred) Handler {
	return &BearerHandler{client: client, clientID: clientID, cred: cred}
}

func (b *BearerHandler) ProcessChallenge(c Challenge) error {
	if _, ok := c.params["realm"]; !ok {
		return ErrInvalidChallenge
	}
	if _, ok := c.params["service"]; !ok {
		c.params["service"] = ""
	}
	if _, ok := c.params["scope"]; !ok {
		c.params["scope"] = ""
	}

	existingScope := b.scopeExists(c.params["scope"])
	if b.realm == c.params["realm"] && b.service == c.params["service"] && existingScope &&
		(b.token.Token == "" || !b.isExpired()) {
		return ErrNoNewChallenge
	}

	if b.realm == "" {
		b.realm = c.params["realm"]
	} else if b.realm != c.params["realm"] {
		return ErrInvalidChallenge
	}
	if b.service == "" {
		b.service = c.params["service"]
	} else if b.service != c.params["service"] {
		return ErrInvalidChallenge
	}
	if !existingScope {
		b.scopes = append(b.scopes, c.params["scope"])
	}
	b.token.Token = ""
	return nil
}

func (b *BearerHandler) GenerateAuth() (string, error) {
	if b.token.Token != "" && !b.isExpired() {
		return "Bearer " + b.token.Token, nil
	}
	if err := b.tryPost(); err == nil {
		return "Bearer " + b.token.Token, nil
	} else if err != ErrUnauthorized {
		return "", err
	}
	if err := b.tryGet(); err == nil {
		return "Bearer " + b.token.Token, nil
	} else if err != ErrUnauthorized {
		return "", err
	}
	return "", ErrUnauthorized
}

func (b *BearerHandler) isExpired() bool {
	if b.token.IssuedAt.IsZero() {
		return true
	}
	return !time.Now().Before(b.token.IssuedAt.Add(time.Duration(b.token.ExpiresIn) * time.Second))
}

func (b *BearerHandler) tryGet() error {
	req, err := http.NewRequest(http.MethodGet, b.realm, nil)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Add("client_id", b.clientID)
	q.Add("offline_token", "true")
	if b.service != "" {
		q.Add("service", b.service)
	}
	for _, s := range b.scopes {
		q.Add("scope", s)
	}
	if b.cred.User != "" && b.cred.Password != "" {
		q.Add("account", b.cred.User)
		req.SetBasicAuth(b.cred.User, b.cred.Password)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return b.validateResponse(resp)
}

func (b *BearerHandler) tryPost() error {
	form := url.Values{}
	if len(b.scopes) > 0 {
		form.Set("scope", strings.Join(b.scopes, " "))
	}
	if b.service != "" {
		form.Set("service", b.service)
	}
	form.Set("client_id", b.clientID)
	switch {
	case b.token.RefreshToken != "":
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", b.token.RefreshToken)
	case b.cred.User != "" && b.cred.Password != "":
		form.Set("grant_type", "password")
		form.Set("username", b.cred.User)
		form.Set("password", b.cred.Password)
	}

	req, err := http.NewRequest(http.MethodPost, b.realm, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return b.validateResponse(resp)
}

func (b *BearerHandler) scopeExists(search string) bool {
	if search == "" {
		return true
	}
	for _, s := range b.scopes {
		if s == search {
			return true
		}
	}
	return false
}

func (b *BearerHandler) validateResponse(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return ErrUnauthorized
	}
	if err := json.NewDecoder(resp.Body).Decode(&b.token); err != nil {
		return err
	}
	if b.token.ExpiresIn < minTokenLife {
		b.token.ExpiresIn = minTokenLife
	}
	if b.token.IssuedAt.IsZero() {
		b.token.IssuedAt = time.Now().UTC()
	}
	if b.token.AccessToken != "" {
		b.token.Token = b.token.AccessToken
	}
	return nil
}

// credsFromEnvOrOpts builds a CredsFn from a single static credential,
// used by the CLI's --username/--password/env-var flags which apply to
// whichever single registry host the pipeline is talking to.
func credsFromEnvOrOpts(user, pass string) CredsFn {
	return func(string) Cred {
		return Cred{User: user, Password: pass}
	}
}

// StaticCreds returns a CredsFn always returning the same credential,
// regardless of host. Exported for the CLI layer (cmd/occystrap).
func StaticCreds(user, pass string) CredsFn {
	return credsFromEnvOrOpts(user, pass)
}
