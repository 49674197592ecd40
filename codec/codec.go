// Package codec implements the pluggable parser/encoder registry
// described by spec.md section 4.1 (component C1): parsing byte
// streams into domain values and serializing domain values back to
// byte streams, keyed by media type, plus a chain of named byte-stream
// encodings (gzip, deflate, brotli, base64, quoted-printable).
//
// Grounded on the *Response.Write*/*WriteJSON*/*WriteTOML*/*WriteYAML*
// family in response.go of the teacher, generalized from a set of
// fixed methods into a registry so a caller can add media types
// without touching lattice itself.
package codec

import (
	"fmt"
	"io"
	"mime"
	"regexp"
	"sort"
	"sync"
)

// Field is one entry of an ordered, duplicate-preserving field list,
// used by form-like bodies where order and duplicate keys are load
// bearing (spec.md section 3 and the duplicate-key open question in
// section 9).
type Field struct {
	Name  string
	Value string
}

// Parsed is the result of Parse: the domain value plus the optional
// attachments spec.md section 3 describes (ordered fields and a
// finalizer for bodies that allocated temp resources).
type Parsed struct {
	Value    interface{}
	Fields   []Field
	Finalize func() error
}

// Parser produces a Parsed domain value from a byte stream bound to a
// specific content type (carrying parameters like charset or
// boundary).
type Parser interface {
	Parse(r io.Reader, contentType string) (Parsed, error)
}

// ParserFunc adapts a function to a Parser.
type ParserFunc func(r io.Reader, contentType string) (Parsed, error)

func (f ParserFunc) Parse(r io.Reader, contentType string) (Parsed, error) { return f(r, contentType) }

// Encoder serializes a domain value to a byte stream, returning the
// (possibly rewritten, e.g. multipart's generated boundary)
// content-type it actually used.
type Encoder interface {
	Serialize(w io.Writer, v interface{}, contentType string) (string, error)
}

// EncoderFunc adapts a function to an Encoder.
type EncoderFunc func(w io.Writer, v interface{}, contentType string) (string, error)

func (f EncoderFunc) Serialize(w io.Writer, v interface{}, contentType string) (string, error) {
	return f(w, v, contentType)
}

// Transform is a named byte-stream encoding (gzip, base64, ...) used
// by Encode/Decode (spec.md section 4.1).
type Transform interface {
	Encode(w io.Writer) (io.WriteCloser, error)
	Decode(r io.Reader) (io.Reader, error)
}

type regexParser struct {
	pattern *regexp.Regexp
	parser  Parser
}

type regexEncoder struct {
	pattern *regexp.Regexp
	encoder Encoder
}

// Registry is a pair of parser/encoder tables keyed by media type, plus
// a table of named encodings. Registration is write-once during
// startup and read-only during dispatch (spec.md section 5): callers
// should finish calling Register* before serving traffic.
type Registry struct {
	mu sync.RWMutex

	exactParsers map[string]Parser
	regexParsers []regexParser

	exactEncoders map[string]Encoder
	regexEncoders []regexEncoder

	transforms map[string]Transform

	defaultParser Parser

	blobs      BlobSink
	blobSource BlobSource
}

// BlobSource is the read side of BlobSink, used by the multipart
// encoder to stream a previously spilled part back out.
type BlobSource interface {
	Open(uri string) (r io.ReadCloser, contentType string, err error)
}

// SetBlobStore wires a temporary blob collaborator (typically
// *blobstore.Store) into the registry so the multipart codec can spill
// oversized or binary parts to it instead of buffering them in memory.
// A Registry with none configured keeps every part's body in memory.
func (r *Registry) SetBlobStore(store interface {
	BlobSink
	BlobSource
}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs = store
	r.blobSource = store
}

// New returns an empty Registry. Default is a process-wide Registry
// pre-populated by RegisterBuiltins at package init, mirroring
// spec.md section 9's "define an explicit register_builtins()
// invoked once at startup" resolution of the global-registry open
// question.
func New() *Registry {
	return &Registry{
		exactParsers:  map[string]Parser{},
		exactEncoders: map[string]Encoder{},
		transforms:    map[string]Transform{},
	}
}

// Default is the process-wide registry used by lattice unless a
// Service is configured with its own.
var Default = New()

func init() {
	RegisterBuiltins(Default)
}

// RegisterParser registers p for the exact media type mt.
func (r *Registry) RegisterParser(mt string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exactParsers[mt] = p
}

// RegisterParserPattern registers p as a fallback parser for any media
// type matching pattern, consulted in registration order after exact
// matches fail (spec.md section 4.1).
func (r *Registry) RegisterParserPattern(pattern string, p Parser) {
	re := regexp.MustCompile(pattern)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.regexParsers = append(r.regexParsers, regexParser{re, p})
}

// RegisterEncoder registers e for the exact media type mt.
func (r *Registry) RegisterEncoder(mt string, e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exactEncoders[mt] = e
}

// RegisterEncoderPattern registers e as a fallback encoder for any
// media type matching pattern.
func (r *Registry) RegisterEncoderPattern(pattern string, e Encoder) {
	re := regexp.MustCompile(pattern)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.regexEncoders = append(r.regexEncoders, regexEncoder{re, e})
}

// RegisterTransform registers a named byte-stream encoding.
func (r *Registry) RegisterTransform(name string, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = t
}

// UnsupportedMediaTypeError means no parser or encoder is registered
// for the requested media type (spec.md section 4.1).
type UnsupportedMediaTypeError struct{ ContentType string }

func (e *UnsupportedMediaTypeError) Error() string {
	return fmt.Sprintf("codec: unsupported media type %q", e.ContentType)
}

// Parse parses r according to contentType, trying an exact match first
// and then regex fallbacks in registration order, per spec.md
// section 4.1.
func (r *Registry) Parse(reader io.Reader, contentType string) (Parsed, string, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}

	p := r.lookupParser(mt)
	if p == nil {
		return Parsed{}, contentType, &UnsupportedMediaTypeError{contentType}
	}

	parsed, err := p.Parse(reader, contentType)

	return parsed, contentType, err
}

func (r *Registry) lookupParser(mt string) Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.exactParsers[mt]; ok {
		return p
	}

	for _, rp := range r.regexParsers {
		if rp.pattern.MatchString(mt) {
			return rp.parser
		}
	}

	return nil
}

// Serialize chooses a default content type when contentType is empty
// (bytes -> application/octet-stream, strings, booleans and numbers ->
// text/plain, everything else -> application/json), then serializes v
// through the matching Encoder, returning the content type the
// encoder actually used (spec.md section 4.1: "the parser may mutate
// the content-type").
func (r *Registry) Serialize(w io.Writer, v interface{}, contentType string) (string, error) {
	if contentType == "" {
		contentType = defaultContentType(v)
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}

	e := r.lookupEncoder(mt)
	if e == nil {
		return contentType, &UnsupportedMediaTypeError{contentType}
	}

	return e.Serialize(w, v, contentType)
}

func (r *Registry) lookupEncoder(mt string) Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.exactEncoders[mt]; ok {
		return e
	}

	for _, re := range r.regexEncoders {
		if re.pattern.MatchString(mt) {
			return re.encoder
		}
	}

	return nil
}

func defaultContentType(v interface{}) string {
	switch v.(type) {
	case []byte, io.Reader:
		return "application/octet-stream"
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return "text/plain; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// Encode runs w through each named transform in names, in order
// (spec.md section 4.1). Unknown names fail.
func (r *Registry) Encode(w io.Writer, names []string) (io.WriteCloser, error) {
	writers := make([]io.WriteCloser, 0, len(names))

	cur := w
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		t := r.transform(name)
		if t == nil {
			closeAll(writers)
			return nil, fmt.Errorf("codec: unknown encoding %q", name)
		}

		wc, err := t.Encode(cur)
		if err != nil {
			closeAll(writers)
			return nil, err
		}

		writers = append(writers, wc)
		cur = wc
	}

	return &chainWriteCloser{w: cur, closers: writers}, nil
}

// Decode runs r through each named transform in names, in reverse
// order (spec.md section 4.1).
func (r *Registry) Decode(reader io.Reader, names []string) (io.Reader, error) {
	cur := reader
	for i := len(names) - 1; i >= 0; i-- {
		t := r.transform(names[i])
		if t == nil {
			return nil, fmt.Errorf("codec: unknown encoding %q", names[i])
		}

		dr, err := t.Decode(cur)
		if err != nil {
			return nil, err
		}

		cur = dr
	}

	return cur, nil
}

func (r *Registry) transform(name string) Transform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transforms[name]
}

type chainWriteCloser struct {
	w       io.Writer
	closers []io.WriteCloser
}

func (c *chainWriteCloser) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *chainWriteCloser) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

func closeAll(cs []io.WriteCloser) {
	for i := len(cs) - 1; i >= 0; i-- {
		cs[i].Close()
	}
}

// RegisteredMediaTypes returns the sorted list of exactly-registered
// parser media types, mainly useful for diagnostics and tests.
func (r *Registry) RegisteredMediaTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.exactParsers))
	for mt := range r.exactParsers {
		out = append(out, mt)
	}

	sort.Strings(out)

	return out
}
