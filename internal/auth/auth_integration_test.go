package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerFlowEndToEnd(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(BearerToken{Token: "tok-123", ExpiresIn: 300})
	}))
	defer tokenSrv.Close()

	regSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-123" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("WWW-Authenticate",
			`Bearer realm="`+tokenSrv.URL+`",service="test",scope="repository:library/busybox:pull"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer regSrv.Close()

	a := NewAuth(WithCreds(func(string) Cred { return Cred{User: "u", Password: "p"} }))

	req, err := http.NewRequest(http.MethodGet, regSrv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first request status = %d, want 401", resp.StatusCode)
	}
	if err := a.HandleResponse(resp); err != nil {
		t.Fatalf("HandleResponse() = %v", err)
	}

	req2, _ := http.NewRequest(http.MethodGet, regSrv.URL, nil)
	if err := a.UpdateRequest(req2); err != nil {
		t.Fatalf("UpdateRequest() = %v", err)
	}
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("authenticated request status = %d, want 200", resp2.StatusCode)
	}
}

func TestBasicAuthFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if ok && u == "alice" && p == "secret" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewAuth(WithCreds(func(string) Cred { return Cred{User: "alice", Password: "secret"} }))

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.HandleResponse(resp); err != nil {
		t.Fatalf("HandleResponse() = %v", err)
	}
	req2, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err := a.UpdateRequest(req2); err != nil {
		t.Fatalf("UpdateRequest() = %v", err)
	}
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp2.StatusCode)
	}
}
