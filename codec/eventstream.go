package codec

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Event is one Server-Sent Event, written as "id: .. \nevent: ..
// \ndata: ..\n\n" per the text/event-stream wire format (spec.md
// section 4.1.2). Multi-line Data is split into one "data:" field per
// line on encode, and rejoined with "\n" on decode, matching the SSE
// specification's own framing rule.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds; zero means "unset"
}

// registerEventStreamCodec registers text/event-stream. Grounded on
// the SSE framing/heartbeat conventions visible in the retrieval
// pack's workflow tracer example (see DESIGN.md), generalized into a
// Parser/Encoder pair: Parse turns a byte stream of SSE frames into
// []Event, Serialize writes a single Event (or []Event) as SSE
// frames. The streaming, long-lived half of event-stream support
// (keep-alive heartbeats, incremental flushing per event) lives in
// eventstream.go against a live http.ResponseWriter, where a Flusher
// is available; this codec only handles the stream's wire grammar.
func registerEventStreamCodec(r *Registry) {
	r.RegisterParser("text/event-stream", ParserFunc(eventStreamParse))
	r.RegisterEncoder("text/event-stream", EncoderFunc(eventStreamEncode))
}

func eventStreamParse(reader io.Reader, contentType string) (Parsed, error) {
	sc := bufio.NewScanner(reader)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var events []Event
	cur := Event{}
	var data []string
	has := false

	flush := func() {
		if !has {
			return
		}

		cur.Data = strings.Join(data, "\n")
		events = append(events, cur)
		cur = Event{}
		data = nil
		has = false
	}

	for sc.Scan() {
		line := sc.Text()

		if line == "" {
			flush()
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			cur.ID = value
			has = true
		case "event":
			cur.Event = value
			has = true
		case "data":
			data = append(data, value)
			has = true
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				cur.Retry = ms
				has = true
			}
		}
	}

	if err := sc.Err(); err != nil {
		return Parsed{}, err
	}

	flush()

	return Parsed{Value: events}, nil
}

func eventStreamEncode(w io.Writer, v interface{}, contentType string) (string, error) {
	switch ev := v.(type) {
	case Event:
		return contentType, writeSSEFrame(w, ev)
	case []Event:
		for _, e := range ev {
			if err := writeSSEFrame(w, e); err != nil {
				return contentType, err
			}
		}

		return contentType, nil
	default:
		return contentType, writeSSEFrame(w, Event{Data: stringify(v)})
	}
}

func writeSSEFrame(w io.Writer, e Event) error {
	var b strings.Builder

	if e.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", e.ID)
	}

	if e.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", e.Event)
	}

	if e.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", e.Retry)
	}

	for _, line := range strings.Split(e.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}

	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())

	return err
}
