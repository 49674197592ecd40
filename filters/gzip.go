package filters

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strconv"
	"strings"

	"github.com/latticehttp/lattice"
)

// Gzip compresses a response body when the client's Accept-Encoding
// advertises gzip support, grounded on the teacher's gases/gzip.go
// (Vary: Accept-Encoding, Content-Encoding negotiation, level
// default). Since a lattice.Response's body is materialized into a
// []byte rather than streamed through a wrapped ResponseWriter as the
// teacher's gzipResponseWriter does, this filter compresses it
// directly after next() returns rather than wrapping the writer.
type Gzip struct {
	path string

	// Level is the compression level passed to gzip.NewWriterLevel.
	// Zero defaults to gzip.DefaultCompression.
	Level int

	// MinContentLength skips compression of bodies smaller than this
	// many bytes, mirroring the teacher's GzipMinContentLength knob.
	MinContentLength int
}

// NewGzip returns a Gzip filter scoped to path.
func NewGzip(path string) *Gzip {
	return &Gzip{path: path, Level: gzip.DefaultCompression}
}

func (f *Gzip) Path() string { return f.path }

func (f *Gzip) Filter(next lattice.Next, req *lattice.Request, resource lattice.Resource) (interface{}, error) {
	resp, err := next(req)
	if err != nil {
		return nil, err
	}

	if resp.Header == nil {
		resp.Header = http.Header{}
	}

	resp.Header.Add("Vary", "Accept-Encoding")

	if resp.Stream != nil {
		return resp, nil
	}

	if !strings.Contains(req.Headers().Get("Accept-Encoding"), "gzip") {
		return resp, nil
	}

	if len(resp.Body) == 0 || len(resp.Body) < f.MinContentLength {
		return resp, nil
	}

	if resp.Header.Get("Content-Encoding") != "" {
		return resp, nil
	}

	var buf bytes.Buffer

	level := f.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return resp, nil
	}

	if _, err := w.Write(resp.Body); err != nil {
		return resp, nil
	}

	if err := w.Close(); err != nil {
		return resp, nil
	}

	resp.Body = buf.Bytes()
	resp.Header.Set("Content-Encoding", "gzip")
	resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	return resp, nil
}
