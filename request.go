package lattice

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/latticehttp/lattice/codec"
)

// trustedRequestIDPattern is the pattern a trusted request-id header
// value must match before it is adopted verbatim (spec.md section 3).
var trustedRequestIDPattern = regexp.MustCompile(`^[0-9A-Za-z+=/-]{1,200}$`)

// Request wraps a raw *http.Request with the reconstructed URL,
// canonicalized headers, bounded body parsing, per-request params and
// finalizers, a request id and a per-request logger, as described by
// the request fingerprint in spec.md section 3.
//
// A Request is created when headers are parsed and must be closed
// exactly once after the response has been written; see Request.Close.
type Request struct {
	// Method is the raw verb unless a trusted X-Http-Method-Override
	// header is present, in which case it is the override.
	Method string

	// URL is the request URL, reconstructed from trusted proxy
	// headers (if enabled) rather than taken as-is from the wire.
	URL *url.URL

	RemoteAddr string
	UserAgent  string
	Timestamp  time.Time

	requestID string

	raw     *http.Request
	headers http.Header

	service *Service
	server  *Server

	pathParams map[string]string
	params     map[string]interface{}

	bodyOnce   sync.Once
	bodyErr    error
	bodyValue  *ParsedBody
	bodyLimit  int64
	bodyReader io.ReadCloser

	finalizers []func() error
	closeOnce  sync.Once

	abortedFlag bool
}

// ParsedBody is the polymorphic parsed-body result described by
// spec.md section 3: bytes, string, structured object, lazy event
// sequence, multipart form, or mime message, plus optional
// attachments.
type ParsedBody struct {
	// Value holds the primary parsed value. Its concrete type
	// depends on the negotiated content type; see codec.Registry.
	Value interface{}

	// Fields preserves duplicate keys and field order for
	// form-like bodies, per spec.md section 3 and the P2/open
	// question about duplicate keys in section 9.
	Fields []codec.Field

	// Finalize releases any temp resources (e.g. spilled multipart
	// blobs) allocated while parsing. It is registered onto the
	// owning Request's finalizer list automatically.
	Finalize func() error
}

// newRequest adapts an inbound *http.Request into a *Request, applying
// trusted-proxy URL reconstruction and method override exactly as
// spec.md section 3 describes. It is the request-side half of what
// air.go's Air.ServeHTTP does inline; lattice splits it out because the
// Server mounts more than one Service.
func newRequest(r *http.Request, svc *Service, srv *Server) *Request {
	req := &Request{
		Method:     r.Method,
		raw:        r,
		headers:    r.Header,
		service:    svc,
		server:     srv,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.Header.Get("User-Agent"),
		Timestamp:  time.Now(),
		pathParams: map[string]string{},
		params:     map[string]interface{}{},
		bodyLimit:  srv.config.MaxContentLength,
		bodyReader: r.Body,
	}

	if srv.config.TrustMethodOverride {
		if m := r.Header.Get("X-Http-Method-Override"); m != "" {
			req.Method = strings.ToUpper(m)
		}
	}

	req.URL = reconstructURL(r, srv.config)
	req.requestID = resolveRequestID(r, srv.config)

	return req
}

// reconstructURL rebuilds the request URL from the raw request line
// plus trusted forwarding headers, per spec.md section 3: "The URL is
// reconstructed (not raw): scheme from TLS-or-trusted
// x-forwarded-proto, host from Host-or-trusted x-forwarded-host, path
// and query from the raw request line."
func reconstructURL(r *http.Request, cfg *ServerConfig) *url.URL {
	u := *r.URL

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	if cfg.TrustForwardedProto {
		if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
			scheme = firstCommaField(p)
		}
	}

	host := r.Host
	if cfg.TrustForwardedHost {
		if h := r.Header.Get("X-Forwarded-Host"); h != "" {
			host = firstCommaField(h)
		}
	}

	u.Scheme = scheme
	u.Host = host

	return &u
}

// firstCommaField returns the first element of a comma-separated
// forwarding header value, trimmed of surrounding whitespace.
func firstCommaField(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}

	return strings.TrimSpace(v)
}

// resolveRequestID adopts the configured trust header's value when it
// matches trustedRequestIDPattern, otherwise generates a fresh
// collision-resistant opaque id (spec.md section 3).
func resolveRequestID(r *http.Request, cfg *ServerConfig) string {
	if cfg.TrustRequestID != "" {
		if v := r.Header.Get(cfg.TrustRequestID); trustedRequestIDPattern.MatchString(v) {
			return v
		}
	}

	return generateRequestID()
}

// generateRequestID returns a fresh opaque, URL-safe request id.
func generateRequestID() string {
	var b [18]byte
	if _, err := rand.Read(b[:]); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}

	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ID returns the request's immutable request id.
func (req *Request) ID() string { return req.requestID }

// HTTPRequest returns the underlying *http.Request.
//
// Attention: mutating it after dispatch has begun can produce
// surprising results; prefer the Request's own accessors.
func (req *Request) HTTPRequest() *http.Request { return req.raw }

// Header returns the value of the named header, joined by ", " when it
// has multiple values and concatenate is true (the default), otherwise
// only the first value. Header lookup is case-insensitive (spec.md
// section 3 invariant); a missing header without a default raises a
// 400 Bad Request error, matching the $/?/@ getter family in
// spec.md section 4.4.
func (req *Request) Header(name string, def ...string) (string, error) {
	return req.header(name, true, def...)
}

// HeaderFirst is like Header but returns only the first value instead
// of concatenating multiple values.
func (req *Request) HeaderFirst(name string, def ...string) (string, error) {
	return req.header(name, false, def...)
}

func (req *Request) header(name string, concatenate bool, def ...string) (string, error) {
	vs := req.headers[http.CanonicalHeaderKey(name)]
	if len(vs) == 0 {
		if len(def) > 0 {
			return def[0], nil
		}

		return "", NewError(http.StatusBadRequest, "missing header %q", name)
	}

	if !concatenate {
		return vs[0], nil
	}

	return strings.Join(vs, ", "), nil
}

// Headers returns the raw, canonicalized header map. It is read-only
// by convention; mutate the underlying *http.Request instead.
func (req *Request) Headers() http.Header { return req.headers }

// Param returns a custom per-request parameter set via SetParam, or
// the default if missing. A missing param without a default raises a
// 500 Internal Server Error, matching the ~ getter family in
// spec.md section 4.4 ("internal-server-error" for "~").
func (req *Request) Param(name string, def ...interface{}) (interface{}, error) {
	if v, ok := req.params[name]; ok {
		return v, nil
	}

	if len(def) > 0 {
		return def[0], nil
	}

	return nil, NewError(http.StatusInternalServerError, "missing param %q", name)
}

// SetParam sets a custom per-request parameter, typically done by a
// filter before calling next.
func (req *Request) SetParam(name string, value interface{}) {
	req.params[name] = value
}

// PathParam returns a named or positional path-regex capture. Name "1"
// etc. addresses positional captures 1-based, matching spec.md
// section 4.4's "$n" positional capture form.
func (req *Request) PathParam(name string) (string, bool) {
	v, ok := req.pathParams[name]
	return v, ok
}

// Body parses and memoizes the request body using the codec registered
// for contentType (falling back to the request's own Content-Type
// header), enforcing maxContentLength when given (falling back to the
// server's configured default). Subsequent calls return the same
// *ParsedBody (spec.md section 3 invariant, section 4.3, property P2).
//
// Concurrent callers all observe the result of exactly one parse: the
// first caller to arrive performs the parse under bodyOnce, and every
// caller — including the first — reads bodyValue/bodyErr only after
// Do has returned, so a second concurrent caller blocks until the
// first's parse completes rather than racing it (spec.md section 5).
func (req *Request) Body(contentType string, maxContentLength ...int64) (*ParsedBody, error) {
	limit := req.bodyLimit
	if len(maxContentLength) > 0 {
		limit = maxContentLength[0]
	}

	req.bodyOnce.Do(func() {
		req.bodyValue, req.bodyErr = req.parseBody(contentType, limit)
		if req.bodyErr == nil && req.bodyValue != nil && req.bodyValue.Finalize != nil {
			req.addFinalizer(req.bodyValue.Finalize)
		}
	})

	return req.bodyValue, req.bodyErr
}

func (req *Request) parseBody(contentType string, limit int64) (*ParsedBody, error) {
	if contentType == "" {
		contentType = req.headers.Get("Content-Type")
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if limit > 0 && req.raw.ContentLength > limit {
		return nil, NewError(
			http.StatusRequestEntityTooLarge,
			"Maximum payload size is %d bytes",
			limit,
		)
	}

	var body io.Reader = req.bodyReader
	if limit > 0 {
		body = &limitedReader{r: req.bodyReader, remaining: limit}
	}

	parsed, negotiated, err := codec.Default.Parse(body, contentType)
	if err != nil {
		if lr, ok := body.(*limitedReader); ok && lr.exceeded {
			return nil, NewError(http.StatusRequestEntityTooLarge, "Maximum payload size is %d bytes", limit)
		}

		return nil, &ParserError{ContentType: negotiated, Err: err}
	}

	pb := &ParsedBody{Value: parsed.Value, Fields: parsed.Fields, Finalize: parsed.Finalize}

	return pb, nil
}

// limitedReader aborts with payload-too-large once remaining bytes are
// exhausted, the size-limiting wrapper spec.md section 3/9 describes.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		l.exceeded = true
		return 0, io.ErrUnexpectedEOF
	}

	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}

	n, err := l.r.Read(p)
	l.remaining -= int64(n)

	return n, err
}

// addFinalizer registers f to run once during Close. Finalizers run
// concurrently but only the first error is propagated (spec.md
// sections 4.3 and 5).
func (req *Request) addFinalizer(f func() error) {
	req.finalizers = append(req.finalizers, f)
}

// Closing reports whether the owning Server has entered shutdown. It
// reads the Server's closing flag live rather than a value captured at
// request construction, so a resource polling Closing() in a
// long-running handler observes a Stop() that begins mid-request
// (spec.md section 5: "when the server enters closing, each request
// object's closing flag flips").
func (req *Request) Closing() bool {
	if req.server == nil {
		return false
	}

	return req.server.closing.Load()
}

// Aborted reports whether the client hung up before the response was
// completed (spec.md section 4.3).
func (req *Request) Aborted() bool { return req.abortedFlag }

// shutdownAwareContext returns a context cancelled when the request's
// own HTTP context is done (client disconnect) or the owning Server
// enters closing (spec.md section 5), since net/http's
// (*http.Server).Shutdown does not itself cancel in-flight request
// contexts. Streaming responses (EventStream) select on this instead
// of the raw request context so a graceful shutdown that starts
// mid-stream still terminates them.
func (req *Request) shutdownAwareContext() context.Context {
	base := req.HTTPRequest().Context()

	if req.server == nil {
		return base
	}

	ctx, cancel := context.WithCancel(base)

	go func() {
		select {
		case <-base.Done():
		case <-req.server.Done():
			cancel()
		}
	}()

	return ctx
}

// Close runs all registered finalizers concurrently, waits for all of
// them, and returns only the first error encountered (spec.md section
// 4.3, property P1). It is safe to call multiple times; only the
// first call has effect.
func (req *Request) Close() error {
	var err error

	req.closeOnce.Do(func() {
		if len(req.finalizers) == 0 {
			return
		}

		errs := make(chan error, len(req.finalizers))
		for _, f := range req.finalizers {
			go func(f func() error) { errs <- f() }(f)
		}

		for range req.finalizers {
			if e := <-errs; e != nil && err == nil {
				err = e
			}
		}
	})

	return err
}
