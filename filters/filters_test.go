package filters

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/latticehttp/lattice"
	"github.com/latticehttp/lattice/auth"
)

type stubResource struct{}

func (stubResource) Path() string { return "/" }

func newTestRequest(t *testing.T, method, target string, headers map[string]string) *lattice.Request {
	t.Helper()

	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}

	srv := lattice.NewServer(&lattice.ServerConfig{})
	svc := lattice.NewService("/")

	return srv.NewRequest(r, svc)
}

func okNext(status int, body []byte) lattice.Next {
	return func(req *lattice.Request) (*lattice.Response, error) {
		return &lattice.Response{Status: status, Header: http.Header{}, Body: body}, nil
	}
}

func TestRecoverTurnsPanicIntoError(t *testing.T) {
	f := NewRecover("/")

	panicking := lattice.Next(func(req *lattice.Request) (*lattice.Response, error) {
		panic("boom")
	})

	_, err := f.Filter(func(req *lattice.Request) (*lattice.Response, error) {
		return panicking(req)
	}, newTestRequest(t, "GET", "/", nil), stubResource{})

	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected recovered panic to surface as an error, got %v", err)
	}
}

func TestRecoverPassesThroughSuccessAndErrors(t *testing.T) {
	f := NewRecover("/")

	v, err := f.Filter(okNext(200, []byte("ok")), newTestRequest(t, "GET", "/", nil), stubResource{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp, ok := v.(*lattice.Response); !ok || resp.Status != 200 {
		t.Fatalf("expected passthrough response, got %#v", v)
	}

	wantErr := errors.New("downstream failure")
	_, err = f.Filter(func(req *lattice.Request) (*lattice.Response, error) {
		return nil, wantErr
	}, newTestRequest(t, "GET", "/", nil), stubResource{})

	if err != wantErr {
		t.Fatalf("expected downstream error to propagate unchanged, got %v", err)
	}
}

func TestCORSSetsHeadersForAllowedOrigin(t *testing.T) {
	f := NewCORS("/")

	req := newTestRequest(t, "GET", "/", map[string]string{"Origin": "https://example.com"})

	v, err := f.Filter(okNext(200, nil), req, stubResource{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := v.(*lattice.Response)
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin to be echoed, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}

	if resp.Header.Get("Vary") != "Origin" {
		t.Fatal("expected Vary: Origin to be set")
	}
}

func TestGzipCompressesLargeBody(t *testing.T) {
	f := NewGzip("/")
	f.MinContentLength = 0

	body := bytes.Repeat([]byte("a"), 100)
	req := newTestRequest(t, "GET", "/", map[string]string{"Accept-Encoding": "gzip"})

	v, err := f.Filter(okNext(200, body), req, stubResource{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := v.(*lattice.Response)
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatal("expected Content-Encoding: gzip to be set")
	}

	zr, err := gzip.NewReader(bytes.NewReader(resp.Body))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}

	decoded, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading gzip body: %v", err)
	}

	if !bytes.Equal(decoded, body) {
		t.Fatal("expected decompressed body to round-trip")
	}
}

func TestGzipSkipsWithoutAcceptEncoding(t *testing.T) {
	f := NewGzip("/")
	f.MinContentLength = 0

	body := bytes.Repeat([]byte("a"), 100)
	req := newTestRequest(t, "GET", "/", nil)

	v, err := f.Filter(okNext(200, body), req, stubResource{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := v.(*lattice.Response)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		t.Fatal("expected no compression without Accept-Encoding: gzip")
	}
}

func TestBasicAuthRejectsMissingHeader(t *testing.T) {
	provider := func(mode auth.Mode, scheme, identity, authorization string, challenge *auth.Challenge, request *http.Request) (interface{}, bool) {
		return auth.PasswordCredentials{Credentials: auth.Credentials{Identity: "alice"}, Secret: "hunter2"}, true
	}

	f := NewBasicAuth("/", "shop", provider)

	_, err := f.Filter(okNext(200, nil), newTestRequest(t, "GET", "/", nil), stubResource{})
	if err == nil {
		t.Fatal("expected missing Authorization header to be rejected")
	}
}

func TestBasicAuthAllowsValidCredentials(t *testing.T) {
	provider := func(mode auth.Mode, scheme, identity, authorization string, challenge *auth.Challenge, request *http.Request) (interface{}, bool) {
		return auth.PasswordCredentials{Credentials: auth.Credentials{Identity: "alice"}, Secret: "hunter2"}, true
	}

	basic := &auth.Basic{}
	header, err := basic.CreateAuthorization(provider, "alice")
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}

	f := NewBasicAuth("/", "shop", provider)

	req := newTestRequest(t, "GET", "/", map[string]string{"Authorization": header})

	v, err := f.Filter(okNext(200, nil), req, stubResource{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp, ok := v.(*lattice.Response); !ok || resp.Status != 200 {
		t.Fatalf("expected passthrough response, got %#v", v)
	}
}
