package lattice

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newArgsRequest(t *testing.T, rawURL string) *Request {
	t.Helper()

	r := httptest.NewRequest("GET", rawURL, nil)

	srv := NewServer(&ServerConfig{})
	svc := NewService("/")

	req := srv.NewRequest(r, svc)
	req.pathParams["id"] = "42"
	req.pathParams["1"] = "positional-1"
	req.params["trace"] = 7

	return req
}

func TestArgumentsPathAndQuery(t *testing.T) {
	req := newArgsRequest(t, "/things/42?active=true&count=3")
	args := NewArguments(req)

	id, err := args.String("$id")
	if err != nil || id != "42" {
		t.Fatalf("expected path param 42, got %q, err %v", id, err)
	}

	pos, err := args.String("$1")
	if err != nil || pos != "positional-1" {
		t.Fatalf("expected positional capture, got %q, err %v", pos, err)
	}

	active, err := args.Boolean("?active")
	if err != nil || !active {
		t.Fatalf("expected query bool true, got %v, err %v", active, err)
	}

	count, err := args.Number("?count")
	if err != nil || count != 3 {
		t.Fatalf("expected query number 3, got %v, err %v", count, err)
	}
}

func TestArgumentsMissingStatusesByPrefix(t *testing.T) {
	req := newArgsRequest(t, "/things/42")
	args := NewArguments(req)

	cases := []struct {
		name       string
		wantStatus int
	}{
		{"$missing", http.StatusBadRequest},
		{"?missing", http.StatusBadRequest},
		{"@Missing-Header", http.StatusBadRequest},
		{"~missing", http.StatusInternalServerError},
		{".missing", http.StatusUnprocessableEntity},
	}

	for _, c := range cases {
		_, err := args.String(c.name)
		if err == nil {
			t.Fatalf("%s: expected an error for a missing argument", c.name)
		}

		le, ok := err.(*Error)
		if !ok {
			t.Fatalf("%s: expected *Error, got %T", c.name, err)
		}

		if le.Status != c.wantStatus {
			t.Fatalf("%s: expected status %d, got %d", c.name, c.wantStatus, le.Status)
		}
	}
}

func TestArgumentsMissingWithDefault(t *testing.T) {
	req := newArgsRequest(t, "/things/42")
	args := NewArguments(req)

	v, err := args.String("?missing", "fallback")
	if err != nil || v != "fallback" {
		t.Fatalf("expected default to be returned, got %q, err %v", v, err)
	}
}

func TestArgumentsParamSource(t *testing.T) {
	req := newArgsRequest(t, "/things/42")
	args := NewArguments(req)

	n, err := args.Number("~trace")
	if err != nil || n != 7 {
		t.Fatalf("expected custom param 7, got %v, err %v", n, err)
	}
}

func TestArgumentsBooleanRejectsNonBoolean(t *testing.T) {
	req := newArgsRequest(t, "/things/42?active=maybe")
	args := NewArguments(req)

	_, err := args.Boolean("?active")
	if err == nil {
		t.Fatal("expected an error for a non-boolean value")
	}
}

func TestArgumentsNumberAcceptsHexAndOctalAndBinary(t *testing.T) {
	req := newArgsRequest(t, "/things/42?hex=0xFF&oct=0o17&bin=0b101")
	args := NewArguments(req)

	hex, err := args.Number("?hex")
	if err != nil || hex != 255 {
		t.Fatalf("expected 255, got %v, err %v", hex, err)
	}

	oct, err := args.Number("?oct")
	if err != nil || oct != 15 {
		t.Fatalf("expected 15, got %v, err %v", oct, err)
	}

	bin, err := args.Number("?bin")
	if err != nil || bin != 5 {
		t.Fatalf("expected 5, got %v, err %v", bin, err)
	}
}

func TestArgumentsDateRequiresISOPrefix(t *testing.T) {
	req := newArgsRequest(t, "/things/42?when=2024-01-02T15:04:05Z&bad=not-a-date")
	args := NewArguments(req)

	when, err := args.Date("?when")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if when.Year() != 2024 {
		t.Fatalf("expected year 2024, got %d", when.Year())
	}

	if _, err := args.Date("?bad"); err == nil {
		t.Fatal("expected non-ISO-prefixed string to be rejected")
	}
}

func TestArgumentsDateDefault(t *testing.T) {
	req := newArgsRequest(t, "/things/42")
	args := NewArguments(req)

	def := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := args.Date("?missing", def)
	if err != nil || !got.Equal(def) {
		t.Fatalf("expected default date, got %v, err %v", got, err)
	}
}

func TestArgumentsObjectFromBody(t *testing.T) {
	req := newArgsRequest(t, "/things/42")
	req.bodyValue = &ParsedBody{Value: map[string]interface{}{"nested": map[string]interface{}{"a": 1}}}

	args := NewArguments(req)

	v, err := args.Object(".nested")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := v.(map[string]interface{})
	if !ok || m["a"] != 1 {
		t.Fatalf("expected nested map, got %#v", v)
	}
}

func TestArgumentsObjectRejectsScalarBodyField(t *testing.T) {
	req := newArgsRequest(t, "/things/42")
	req.bodyValue = &ParsedBody{Value: map[string]interface{}{"scalar": "not an object"}}

	args := NewArguments(req)

	if _, err := args.Object(".scalar"); err == nil {
		t.Fatal("expected a scalar body field to be rejected as not an object")
	}
}

func TestArgumentsUnprefixedDefaultsToQuery(t *testing.T) {
	req := newArgsRequest(t, "/things/42?plain=value")
	args := NewArguments(req)

	v, err := args.String("plain")
	if err != nil || v != "value" {
		t.Fatalf("expected unprefixed name to resolve as a query param, got %q, err %v", v, err)
	}
}
