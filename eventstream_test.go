package lattice

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestChanSourceYieldsValuesThenExhausts(t *testing.T) {
	ch := make(chan interface{}, 2)
	ch <- "a"
	ch <- "b"
	close(ch)

	src := ChanSource(ch)

	for _, want := range []string{"a", "b"} {
		v, ok, err := src.Next(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !ok || v != want {
			t.Fatalf("expected %q, got %v (ok=%v)", want, v, ok)
		}
	}

	_, ok, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ok {
		t.Fatal("expected the closed channel to report exhaustion")
	}
}

func TestChanSourceRespectsContextCancellation(t *testing.T) {
	ch := make(chan interface{})
	src := ChanSource(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := src.Next(ctx)
	if err == nil {
		t.Fatal("expected a cancelled context to produce an error")
	}
}

func TestNewEventStreamResponseSetsFramingHeaders(t *testing.T) {
	resp := NewEventStreamResponse(context.Background(), ChanSource(make(chan interface{})), "", nil, 0)

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected text/event-stream content type, got %q", resp.Header.Get("Content-Type"))
	}

	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatal("expected no-store cache control")
	}

	if resp.Stream == nil {
		t.Fatal("expected a non-nil Stream")
	}
}

func TestEventStreamWriteToEmitsFramesForEachValue(t *testing.T) {
	ch := make(chan interface{}, 2)
	ch <- "hello"
	ch <- "world"
	close(ch)

	resp := NewEventStreamResponse(context.Background(), ChanSource(ch), "", nil, 0)

	rec := httptest.NewRecorder()
	if err := resp.Stream.writeTo(rec, 200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: hello\n\n") {
		t.Fatalf("expected a hello frame, got %q", body)
	}

	if !strings.Contains(body, "data: world\n\n") {
		t.Fatalf("expected a world frame, got %q", body)
	}
}

func TestEventStreamWriteToAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	blocking := make(chan interface{})
	resp := NewEventStreamResponse(ctx, ChanSource(blocking), "", nil, 0)

	done := make(chan error, 1)

	rec := httptest.NewRecorder()

	go func() { done <- resp.Stream.writeTo(rec, 200) }()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected writeTo to return the cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected writeTo to return promptly after cancellation")
	}
}

func TestEventStreamWriteToEmitsErrorFrame(t *testing.T) {
	src := &erroringSource{err: context.DeadlineExceeded}

	resp := NewEventStreamResponse(context.Background(), src, "", nil, 0)

	rec := httptest.NewRecorder()
	if err := resp.Stream.writeTo(rec, 200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(rec.Body.String(), "event: error") {
		t.Fatalf("expected an error frame, got %q", rec.Body.String())
	}
}

type erroringSource struct {
	err error
}

func (s *erroringSource) Next(ctx context.Context) (interface{}, bool, error) {
	return nil, false, s.err
}
