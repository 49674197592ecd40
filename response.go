package lattice

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aofei/mimesniffer"
	"github.com/cespare/xxhash/v2"
	"github.com/latticehttp/lattice/codec"
)

// hopByHopHeaders lists the headers forbidden over HTTP/2 that must be
// stripped during serialization (spec.md section 4.5 step 4).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
}

// Response is the in-flight HTTP response being built by a resource or
// filter, descended from response.go's Response but generalized to run
// every non-trivial body through codec.Registry instead of a fixed
// WriteJSON/WriteTOML/WriteYAML method set (spec.md section 4.5).
type Response struct {
	Status  int
	Header  http.Header
	Body    []byte
	Stream  *EventStream

	// bodyStream holds an unbuffered body (spec.md section 3: body is
	// "nil | bytes | stream"). When set, writeTo copies it straight to
	// the wire instead of going through Body, and no Content-Length is
	// auto-computed (spec.md section 4.5: "content-length is auto-set
	// iff body is fully buffered").
	bodyStream io.Reader

	contentType string
	registry    *codec.Registry
	req         *Request
}

// NewResponse classifies body the way spec.md section 4.5 describes:
// nil becomes an empty body; []byte or io.Reader-like content defaults
// to application/octet-stream; a string or time.Time is stringified
// with a text/plain default; anything else is run through the
// registry's serializer, which may rewrite the content type.
func NewResponse(status int, body interface{}, headers http.Header) (*Response, error) {
	resp := &Response{
		Status: status,
		Header: headers,
	}

	if resp.Header == nil {
		resp.Header = http.Header{}
	}

	if err := resp.setBody(body); err != nil {
		return nil, err
	}

	return resp, nil
}

func (resp *Response) setBody(body interface{}) error {
	switch v := body.(type) {
	case nil:
		return nil
	case []byte:
		resp.Body = v
		resp.defaultContentType("application/octet-stream")
	case string:
		resp.Body = []byte(v)
		resp.defaultContentType("text/plain; charset=utf-8")
	case time.Time:
		resp.Body = []byte(v.Format(time.RFC3339))
		resp.defaultContentType("text/plain; charset=utf-8")
	case io.Reader:
		resp.bodyStream = v
		resp.defaultContentType("application/octet-stream")
	default:
		registry := resp.registry
		if registry == nil {
			registry = codec.Default
		}

		ct := resp.Header.Get("Content-Type")

		buf := &bytes.Buffer{}
		negotiated, err := registry.Serialize(buf, v, ct)
		if err != nil {
			return &ParserError{ContentType: negotiated, Err: err}
		}

		resp.Body = buf.Bytes()
		resp.Header.Set("Content-Type", negotiated)
	}

	return nil
}

func (resp *Response) defaultContentType(ct string) {
	if resp.Header.Get("Content-Type") == "" {
		resp.Header.Set("Content-Type", ct)
	}
}

// WriteJSON is a convenience wrapper preserving the teacher's ergonomic
// WriteJSON/WriteTOML/WriteYAML family, implemented as a thin call into
// the single serialize() contract (spec.md section 4.5).
func WriteJSON(status int, v interface{}, headers http.Header) (*Response, error) {
	return writeAs(status, v, headers, "application/json; charset=utf-8")
}

// WriteString is a convenience wrapper for a text/plain body.
func WriteString(status int, s string, headers http.Header) (*Response, error) {
	return NewResponse(status, s, headers)
}

// WriteTOML is a convenience wrapper for an application/toml body.
func WriteTOML(status int, v interface{}, headers http.Header) (*Response, error) {
	return writeAs(status, v, headers, "application/toml")
}

// WriteYAML is a convenience wrapper for an application/yaml body.
func WriteYAML(status int, v interface{}, headers http.Header) (*Response, error) {
	return writeAs(status, v, headers, "application/yaml")
}

func writeAs(status int, v interface{}, headers http.Header, contentType string) (*Response, error) {
	if headers == nil {
		headers = http.Header{}
	}

	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", contentType)
	}

	return NewResponse(status, v, headers)
}

// WriteFile builds a Response serving filename's content, sniffing its
// content type from the first bytes when the extension doesn't resolve
// one, and computing a weak content digest for ETag the same way
// response.go's WriteFile does for files with no precomputed asset
// digest: hash the body with xxhash and base64-encode the sum. Last-
// Modified is taken from the file's mtime.
func WriteFile(filename string, headers http.Header) (*Response, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if headers == nil {
		headers = http.Header{}
	}

	if headers.Get("Content-Type") == "" {
		ct := mime.TypeByExtension(filepath.Ext(filename))
		if ct == "" {
			ct = mimesniffer.Sniff(body)
		}

		headers.Set("Content-Type", ct)
	}

	if headers.Get("ETag") == "" {
		sum := xxhash.Sum64(body)

		var sumBytes [8]byte
		for i := 0; i < 8; i++ {
			sumBytes[i] = byte(sum >> (8 * (7 - i)))
		}

		headers.Set("ETag", fmt.Sprintf("%q", base64.StdEncoding.EncodeToString(sumBytes[:])))
	}

	if headers.Get("Last-Modified") == "" {
		headers.Set("Last-Modified", fi.ModTime().UTC().Format(http.TimeFormat))
	}

	return NewResponse(http.StatusOK, body, headers)
}

// finalize applies the single-pass serialization transformations
// spec.md section 4.5 describes, run just before the response is
// written to the wire: conditional-304, HEAD body stripping,
// request-id header injection and HTTP/2 hop-by-hop stripping.
func (resp *Response) finalize(req *Request, cfg *ServerConfig, isHTTP2 bool) {
	if (req.Method == http.MethodGet || req.Method == http.MethodHead) &&
		resp.Status == http.StatusOK {
		if etag := resp.Header.Get("ETag"); etag != "" {
			if inm := req.headers.Get("If-None-Match"); inm != "" && inm == etag {
				resp.Status = http.StatusNotModified
				resp.Body = nil
			}
		}
	}

	if req.Method == http.MethodHead {
		resp.Body = nil
		resp.bodyStream = nil
	}

	if cfg != nil && cfg.RequestIDHeader != "" && resp.Header.Get(cfg.RequestIDHeader) == "" {
		resp.Header.Set(cfg.RequestIDHeader, req.ID())
	}

	if isHTTP2 {
		for _, h := range hopByHopHeaders {
			resp.Header.Del(h)
		}
	}

	if resp.Body != nil {
		resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
}

// writeTo writes the finalized response to an http.ResponseWriter.
func (resp *Response) writeTo(w http.ResponseWriter) error {
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}

	if resp.Stream != nil {
		return resp.Stream.writeTo(w, resp.Status)
	}

	w.WriteHeader(resp.Status)

	if resp.bodyStream != nil {
		_, err := io.Copy(w, resp.bodyStream)
		if rc, ok := resp.bodyStream.(io.Closer); ok {
			rc.Close()
		}

		return err
	}

	if resp.Body == nil {
		return nil
	}

	_, err := w.Write(resp.Body)

	return err
}
