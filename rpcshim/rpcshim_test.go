package rpcshim

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/latticehttp/lattice"
)

type greeter struct{}

func (greeter) Get(req *lattice.Request) (interface{}, error) {
	return map[string]string{"greeting": "hello"}, nil
}

func (greeter) Post(req *lattice.Request) (interface{}, error) {
	return nil, lattice.NewError(http.StatusCreated, "created")
}

func newTestRequest(method, target string) *lattice.Request {
	srv := lattice.NewServer(&lattice.ServerConfig{})
	svc := lattice.NewService("/")

	return srv.NewRequest(httptest.NewRequest(method, target, nil), svc)
}

func TestWrapExposesDefinedVerbsOnly(t *testing.T) {
	s := Wrap("/greet", greeter{})

	if _, ok := s.methods[http.MethodGet]; !ok {
		t.Fatal("expected Get to be discovered")
	}

	if _, ok := s.methods[http.MethodPut]; ok {
		t.Fatal("expected Put to be absent since greeter has none")
	}
}

func TestShimDispatchesToMappedMethod(t *testing.T) {
	s := Wrap("/greet", greeter{})

	v, err := s.Get(newTestRequest("GET", "/greet"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := v.(map[string]string)
	if !ok || m["greeting"] != "hello" {
		t.Fatalf("expected greeting map, got %#v", v)
	}
}

func TestShimRejectsUnmappedVerb(t *testing.T) {
	s := Wrap("/greet", greeter{})

	_, err := s.Delete(newTestRequest("DELETE", "/greet"))
	if err == nil {
		t.Fatal("expected an error for an unmapped verb")
	}
}

func TestRegisterAddsResourceToService(t *testing.T) {
	svc := lattice.NewService("/")
	Register(svc, "/greet", greeter{})

	srv := lattice.NewServer(&lattice.ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest("GET", "/greet", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
}
