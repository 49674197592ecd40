package lattice

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type echoResource struct {
	path string
}

func (r *echoResource) Path() string { return r.path }

func (r *echoResource) Get(req *Request) (interface{}, error) {
	return "hello", nil
}

type fullResource struct {
	echoResource
	catchCalls int
}

func (r *fullResource) Post(req *Request) (interface{}, error) {
	return nil, NewError(http.StatusBadRequest, "bad post")
}

func (r *fullResource) Catch(err error, req *Request) (interface{}, error) {
	r.catchCalls++
	return WriteString(http.StatusTeapot, "caught: "+err.Error(), nil)
}

type defaultOnlyResource struct{}

func (defaultOnlyResource) Path() string { return "/wild" }

func (defaultOnlyResource) Default(req *Request) (interface{}, error) {
	return "default handler ran", nil
}

func newDispatchRequest(method, target string) (*Service, *Request) {
	svc := NewService("/")
	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(method, target, nil), svc)
	return svc, req
}

func TestDispatchRoutesToVerbHandler(t *testing.T) {
	svc := NewService("/")
	svc.AddResource("/greet", func() Resource { return &echoResource{path: "/greet"} })

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodGet, "/greet", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}

	if string(resp.Body) != "hello" {
		t.Fatalf("expected body %q, got %q", "hello", resp.Body)
	}
}

func TestDispatchUnmatchedPathIsNotFound(t *testing.T) {
	svc, req := newDispatchRequest(http.MethodGet, "/nowhere")

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Status)
	}
}

func TestDispatchUnmappedVerbIsMethodNotAllowed(t *testing.T) {
	svc := NewService("/")
	svc.AddResource("/greet", func() Resource { return &echoResource{path: "/greet"} })

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodDelete, "/greet", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Status)
	}

	if resp.Header.Get("Allow") == "" {
		t.Fatal("expected an Allow header to be set")
	}
}

func TestDispatchSynthesizesOptions(t *testing.T) {
	svc := NewService("/")
	svc.AddResource("/greet", func() Resource { return &echoResource{path: "/greet"} })

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodOptions, "/greet", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}

	if resp.Header.Get("Allow") == "" {
		t.Fatal("expected a synthesized Allow header")
	}
}

func TestDispatchHeadFallsBackToGet(t *testing.T) {
	svc := NewService("/")
	svc.AddResource("/greet", func() Resource { return &echoResource{path: "/greet"} })

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodHead, "/greet", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
}

func TestDispatchFallsBackToDefaultHandler(t *testing.T) {
	svc := NewService("/")
	svc.AddResource("/wild", func() Resource { return defaultOnlyResource{} })

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodDelete, "/wild", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}

	if string(resp.Body) != "default handler ran" {
		t.Fatalf("expected default handler body, got %q", resp.Body)
	}
}

func TestDispatchRunsResourceCatchBeforeErrorHandler(t *testing.T) {
	res := &fullResource{echoResource: echoResource{path: "/catch"}}

	svc := NewService("/")
	svc.AddResource("/catch", func() Resource { return res })

	handlerCalled := false
	svc.SetErrorHandler(func(err error, req *Request) (*Response, error) {
		handlerCalled = true
		return nil, err
	})

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodPost, "/catch", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusTeapot {
		t.Fatalf("expected 418 from Catch, got %d", resp.Status)
	}

	if res.catchCalls != 1 {
		t.Fatalf("expected Catch to run exactly once, got %d", res.catchCalls)
	}

	if handlerCalled {
		t.Fatal("expected the service-wide error handler to be skipped once Catch succeeds")
	}
}

type failingGetResource struct {
	path string
}

func (r *failingGetResource) Path() string { return r.path }

func (r *failingGetResource) Get(req *Request) (interface{}, error) {
	return nil, NewError(http.StatusInternalServerError, "downstream failure")
}

func TestDispatchFallsBackToServiceErrorHandler(t *testing.T) {
	svc := NewService("/")
	svc.AddResource("/fail", func() Resource { return &failingGetResource{path: "/fail"} })

	svc.SetErrorHandler(func(err error, req *Request) (*Response, error) {
		return WriteString(http.StatusServiceUnavailable, "handled: "+err.Error(), nil)
	})

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodGet, "/fail", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from the service-wide handler, got %d", resp.Status)
	}
}

func TestDispatchDefaultMappingWhenNoCatchOrHandler(t *testing.T) {
	svc, req := newDispatchRequest(http.MethodGet, "/missing")

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusNotFound {
		t.Fatalf("expected 404 default mapping, got %d", resp.Status)
	}
}

type orderingFilter struct {
	path  string
	label string
	log   *[]string
}

func (f *orderingFilter) Path() string { return f.path }

func (f *orderingFilter) Filter(next Next, req *Request, resource Resource) (interface{}, error) {
	*f.log = append(*f.log, f.label+":before")

	resp, err := next(req)
	if err != nil {
		return nil, err
	}

	*f.log = append(*f.log, f.label+":after")

	return resp, nil
}

func TestFiltersRunInRegistrationOrderAndObserveResponse(t *testing.T) {
	var log []string

	svc := NewService("/")
	svc.AddResource("/greet", func() Resource { return &echoResource{path: "/greet"} })
	svc.AddFilter("/greet", &orderingFilter{path: "/greet", label: "outer", log: &log})
	svc.AddFilter("/greet", &orderingFilter{path: "/greet", label: "inner", log: &log})

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodGet, "/greet", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}

	want := []string{"outer:before", "inner:before", "inner:after", "outer:after"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}

	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

type responseMutatingFilter struct{}

func (responseMutatingFilter) Path() string { return "/greet" }

func (responseMutatingFilter) Filter(next Next, req *Request, resource Resource) (interface{}, error) {
	resp, err := next(req)
	if err != nil {
		return nil, err
	}

	resp.Header.Set("X-Mutated", "yes")

	return resp, nil
}

func TestFilterObservesFullyCoercedResponse(t *testing.T) {
	svc := NewService("/")
	svc.AddResource("/greet", func() Resource { return &echoResource{path: "/greet"} })
	svc.AddFilter("/greet", responseMutatingFilter{})

	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodGet, "/greet", nil), svc)

	resp := svc.Dispatch(req)
	if resp.Header.Get("X-Mutated") != "yes" {
		t.Fatal("expected the filter to observe and mutate a fully built *Response")
	}
}

func TestToResponseWrapsPlainValuesAsOK(t *testing.T) {
	svc := NewService("/")
	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodGet, "/", nil), svc)

	resp := svc.toResponse(req, map[string]int{"n": 1})
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
}

func TestToResponseWrapsNilAsNoContent(t *testing.T) {
	svc := NewService("/")
	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodGet, "/", nil), svc)

	resp := svc.toResponse(req, nil)
	if resp.Status != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Status)
	}
}

func TestToResponsePassesThroughResponseValue(t *testing.T) {
	svc := NewService("/")
	srv := NewServer(&ServerConfig{})
	req := srv.NewRequest(httptest.NewRequest(http.MethodGet, "/", nil), svc)

	want, _ := WriteString(http.StatusAccepted, "accepted", nil)

	resp := svc.toResponse(req, want)
	if resp != want {
		t.Fatal("expected a *Response value to be used as-is")
	}
}

func TestAllowedMethodsReflectsImplementedInterfaces(t *testing.T) {
	allow := allowedMethods(&echoResource{path: "/greet"})

	want := map[string]bool{"GET": true, "HEAD": true, "OPTIONS": true}
	if len(allow) != len(want) {
		t.Fatalf("expected %d methods, got %v", len(want), allow)
	}

	for _, m := range allow {
		if !want[m] {
			t.Fatalf("unexpected method %q in %v", m, allow)
		}
	}
}

func TestResourceEntryGetMemoizesInstance(t *testing.T) {
	calls := 0

	re := &resourceEntry{factory: func() Resource {
		calls++
		return &echoResource{path: "/x"}
	}}

	if _, err := re.get(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := re.get(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected factory to run exactly once, got %d", calls)
	}
}
