package codec

import (
	"bytes"
	"strings"
	"testing"
)

func TestJSONRoundTrip(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	var buf bytes.Buffer
	ct, err := r.Serialize(&buf, map[string]interface{}{"a": float64(1)}, "application/json")
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	parsed, _, err := r.Parse(&buf, ct)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	m, ok := parsed.Value.(map[string]interface{})
	if !ok || m["a"] != float64(1) {
		t.Fatalf("got %#v", parsed.Value)
	}
}

func TestJSONPlusSuffixFallback(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	parsed, _, err := r.Parse(strings.NewReader(`{"x":1}`), "application/vnd.acme+json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	m := parsed.Value.(map[string]interface{})
	if m["x"] != float64(1) {
		t.Fatalf("got %#v", parsed.Value)
	}
}

func TestJSONRejectsEmptyBody(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	if _, _, err := r.Parse(strings.NewReader(""), "application/json"); err == nil {
		t.Fatal("expected error for empty json body")
	}
}

func TestUnsupportedMediaType(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	_, _, err := r.Parse(strings.NewReader("x"), "application/x-does-not-exist")
	if err == nil {
		t.Fatal("expected error")
	}

	if _, ok := err.(*UnsupportedMediaTypeError); !ok {
		t.Fatalf("got %T: %v", err, err)
	}
}

func TestCSVHeaderRoundTrip(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	body := "name,age\nalice,30\nbob,40\n"

	parsed, _, err := r.Parse(strings.NewReader(body), `text/csv; header=present`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	rows, ok := parsed.Value.([]map[string]string)
	if !ok || len(rows) != 2 {
		t.Fatalf("got %#v", parsed.Value)
	}

	if rows[0]["name"] != "alice" || rows[1]["age"] != "40" {
		t.Fatalf("got %#v", rows)
	}
}

func TestCSVWithoutHeader(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	parsed, _, err := r.Parse(strings.NewReader("a,b\nc,d\n"), "text/csv")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	rows := parsed.Value.([][]string)
	if len(rows) != 2 || rows[0][0] != "a" {
		t.Fatalf("got %#v", rows)
	}
}

func TestURLFormPreservesDuplicateKeys(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	parsed, _, err := r.Parse(strings.NewReader("a=1&a=2&b=3"), "application/x-www-form-urlencoded")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var aCount int
	for _, f := range parsed.Fields {
		if f.Name == "a" {
			aCount++
		}
	}

	if aCount != 2 {
		t.Fatalf("expected 2 'a' fields, got %d (%#v)", aCount, parsed.Fields)
	}
}

func TestEventStreamRoundTrip(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	var buf bytes.Buffer
	if _, err := r.Serialize(&buf, Event{ID: "1", Event: "tick", Data: "line1\nline2"}, "text/event-stream"); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	parsed, _, err := r.Parse(&buf, "text/event-stream")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	events := parsed.Value.([]Event)
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}

	if events[0].ID != "1" || events[0].Event != "tick" || events[0].Data != "line1\nline2" {
		t.Fatalf("got %#v", events[0])
	}
}

func TestTransformsGzipRoundTrip(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	var buf bytes.Buffer
	wc, err := r.Encode(&buf, []string{"gzip"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := wc.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := wc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dr, err := r.Decode(&buf, []string{"gzip"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	out := make([]byte, 5)
	if _, err := dr.Read(out); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if string(out) != "hello" {
		t.Fatalf("got %q", out)
	}
}

func TestTransformsChain(t *testing.T) {
	r := New()
	RegisterBuiltins(r)

	var buf bytes.Buffer
	wc, err := r.Encode(&buf, []string{"gzip", "base64"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := wc.Write([]byte("chained")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := wc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dr, err := r.Decode(bytes.NewReader(buf.Bytes()), []string{"gzip", "base64"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	out := make([]byte, 7)
	n := 0
	for n < 7 {
		m, err := dr.Read(out[n:])
		n += m
		if err != nil {
			break
		}
	}

	if string(out) != "chained" {
		t.Fatalf("got %q", out)
	}
}
