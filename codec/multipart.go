package codec

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// BlobSink is the minimal surface the multipart codec needs from a
// temporary blob collaborator (satisfied by *blobstore.Store) to spill
// oversized or binary parts instead of holding them in memory for the
// life of the request. A Registry with no BlobSink configured keeps
// every part's body in memory, which is correct but unbounded.
type BlobSink interface {
	Save(r io.Reader, contentType string) (uri string, err error)
}

// Part is a single part of a parsed multipart or message body.
type Part struct {
	Name        string
	FileName    string
	ContentType string
	Data        []byte // set when the part was kept in memory
	BlobURI     string // set when the part was spilled to a BlobSink
}

// DefaultSpillThreshold is the part size, in bytes, above which the
// multipart parser spills to the configured BlobSink rather than
// buffering in memory.
const DefaultSpillThreshold = 1 << 20

// PartError occupies a part's slot in a parsed multipart body's field
// map when that part's header block failed to parse (spec.md section
// 4.1.1: "a part with no headers block yields a synthetic error for
// that entry without aborting peer parts"). Its sibling parts still
// parse normally.
type PartError struct {
	Err error
}

func (e *PartError) Error() string { return "Missing headers: " + e.Err.Error() }

func (e *PartError) Unwrap() error { return e.Err }

// isHeaderParseError reports whether err came from mime/multipart
// failing to parse a part's header block (as opposed to a boundary or
// stream-framing error, which still aborts the whole parse). The
// standard library surfaces header failures as the raw, unwrapped
// net/textproto error (e.g. "malformed MIME header line: ..."), while
// every other NextPart error it returns is wrapped with a
// "multipart: ..." prefix. The framing errors that follow a header
// failure, up to the next boundary, are skipped by multipartParse.
func isHeaderParseError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "header")
}

// registerMultipartCodec registers the multipart/* family (matched by
// regex fallback so any multipart/<subtype>, e.g. multipart/form-data
// or multipart/mixed, is handled uniformly). message/* is registered
// separately by registerMessageCodec, which keeps the whole body as the
// raw Data of a single *Part: it does not parse the message's headers
// and neither reads nor writes a wrapping boundary. There is no third-party
// multipart library in the retrieval pack, so this is built on the
// standard library's mime/multipart (see DESIGN.md).
func registerMultipartCodec(r *Registry) {
	parse := ParserFunc(r.multipartParse)
	encode := EncoderFunc(r.multipartEncode)

	r.RegisterParserPattern(`^multipart/.+$`, parse)
	r.RegisterEncoderPattern(`^multipart/.+$`, encode)
}

func registerMessageCodec(r *Registry) {
	parse := ParserFunc(func(reader io.Reader, contentType string) (Parsed, error) {
		b, err := io.ReadAll(reader)
		if err != nil {
			return Parsed{}, err
		}

		return Parsed{Value: &Part{ContentType: contentType, Data: b}}, nil
	})

	encode := EncoderFunc(func(w io.Writer, v interface{}, contentType string) (string, error) {
		switch p := v.(type) {
		case *Part:
			_, err := w.Write(p.Data)
			return contentType, err
		case []byte:
			_, err := w.Write(p)
			return contentType, err
		}

		_, err := io.WriteString(w, stringify(v))

		return contentType, err
	})

	r.RegisterParserPattern(`^message/.+$`, parse)
	r.RegisterEncoderPattern(`^message/.+$`, encode)
}

func (r *Registry) multipartParse(reader io.Reader, contentType string) (Parsed, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return Parsed{}, err
	}

	boundary := params["boundary"]
	if boundary == "" {
		return Parsed{}, &UnsupportedMediaTypeError{ContentType: contentType}
	}

	mr := multipart.NewReader(reader, boundary)

	value := make(map[string]interface{})
	var fields []Field
	var finalizers []func() error

	unnamed := 0
	skipping := false

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// After a header failure, mime/multipart reports each body
			// line of the failed part as a framing error until the next
			// boundary; those lines are skipped.
			if skipping && (strings.HasPrefix(err.Error(), "multipart: expecting a new Part") ||
				strings.HasPrefix(err.Error(), "multipart: unexpected line")) {
				continue
			}

			if !isHeaderParseError(err) {
				runFinalizers(finalizers)
				return Parsed{}, err
			}

			unnamed++
			name := fmt.Sprintf("part%d", unnamed)
			perr := &PartError{Err: err}

			value[name] = perr
			fields = append(fields, Field{Name: name, Value: perr.Error()})
			skipping = true

			continue
		}

		skipping = false

		name := part.FormName()
		if name == "" {
			unnamed++
			name = fmt.Sprintf("part%d", unnamed)
		}

		fileName := part.FileName()
		ct := part.Header.Get("Content-Type")

		if fileName == "" {
			v, finalize, err := r.parseInlinePart(part, ct)
			part.Close()
			if err != nil {
				runFinalizers(finalizers)
				return Parsed{}, err
			}

			if finalize != nil {
				finalizers = append(finalizers, finalize)
			}

			if _, ok := value[name]; !ok {
				value[name] = v
			}
			fields = append(fields, Field{Name: name, Value: stringify(v)})

			continue
		}

		p, finalize, err := r.readPart(part, fileName, ct)
		part.Close()
		if err != nil {
			runFinalizers(finalizers)
			return Parsed{}, err
		}

		if finalize != nil {
			finalizers = append(finalizers, finalize)
		}

		if _, ok := value[name]; !ok {
			value[name] = p
		}

		display := p.BlobURI
		if display == "" {
			display = string(p.Data)
		}

		fields = append(fields, Field{Name: name, Value: display})
	}

	finalize := func() error { return nil }
	if len(finalizers) > 0 {
		finalize = func() error { return runFinalizers(finalizers) }
	}

	return Parsed{Value: value, Fields: fields, Finalize: finalize}, nil
}

func (r *Registry) readPart(src io.Reader, fileName, contentType string) (*Part, func() error, error) {
	p := &Part{FileName: fileName, ContentType: contentType}

	limited := io.LimitReader(src, DefaultSpillThreshold+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, nil, err
	}

	if len(b) <= DefaultSpillThreshold || r.blobs == nil {
		if len(b) > DefaultSpillThreshold {
			rest, err := io.ReadAll(src)
			if err != nil {
				return nil, nil, err
			}

			b = append(b, rest...)
		}

		p.Data = b
		return p, nil, nil
	}

	uri, err := r.blobs.Save(io.MultiReader(newBytesReader(b), src), contentType)
	if err != nil {
		return nil, nil, err
	}

	p.BlobURI = uri

	if rm, ok := r.blobs.(interface{ Remove(uri string) error }); ok {
		return p, func() error { return rm.Remove(uri) }, nil
	}

	return p, nil, nil
}

// parseInlinePart decodes a no-filename part's content-transfer-encoding
// and recursively parses its body per its own content-type, defaulting
// to text/plain (spec.md section 4.1.1's first two disposition rules).
// quoted-printable is already undone transparently by mime/multipart
// before the part reaches here; base64 is the one transfer encoding
// this codec must still decode itself.
func (r *Registry) parseInlinePart(part *multipart.Part, contentType string) (interface{}, func() error, error) {
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	var body io.Reader = part

	switch strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding"))) {
	case "base64":
		body = base64.NewDecoder(base64.StdEncoding, part)
	}

	parsed, _, err := r.Parse(body, contentType)
	if err != nil {
		return nil, nil, err
	}

	return parsed.Value, parsed.Finalize, nil
}

func runFinalizers(fns []func() error) error {
	var first error
	for _, fn := range fns {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

func (r *Registry) multipartEncode(w io.Writer, v interface{}, contentType string) (string, error) {
	_, params, _ := mime.ParseMediaType(contentType)

	boundary := params["boundary"]
	if boundary == "" {
		boundary = generateBoundary()
		contentType = contentType + `; boundary="` + boundary + `"`
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return contentType, err
	}

	fields, ok := v.(map[string]interface{})
	if !ok {
		return contentType, &UnsupportedMediaTypeError{ContentType: contentType}
	}

	for name, val := range fields {
		switch p := val.(type) {
		case *Part:
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", multipartDisposition(name, p.FileName))
			if p.ContentType != "" {
				h.Set("Content-Type", p.ContentType)
			}

			pw, err := mw.CreatePart(h)
			if err != nil {
				return contentType, err
			}

			if len(p.Data) > 0 {
				if _, err := pw.Write(p.Data); err != nil {
					return contentType, err
				}
			} else if p.BlobURI != "" && r.blobSource != nil {
				rc, _, err := r.blobSource.Open(p.BlobURI)
				if err != nil {
					return contentType, err
				}

				_, err = io.Copy(pw, rc)
				rc.Close()
				if err != nil {
					return contentType, err
				}
			}
		default:
			fw, err := mw.CreateFormField(name)
			if err != nil {
				return contentType, err
			}

			if _, err := io.WriteString(fw, stringify(val)); err != nil {
				return contentType, err
			}
		}
	}

	return contentType, mw.Close()
}

func multipartDisposition(name, fileName string) string {
	d := `form-data; name="` + name + `"`
	if fileName != "" {
		d += `; filename="` + fileName + `"`
	}

	return d
}

// generateBoundary mirrors the wire convention documented in spec.md
// section 4.1: a "---=__" literal prefix followed by 48 random bytes,
// base64-encoded.
func generateBoundary() string {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}

	return "---=__" + base64.RawURLEncoding.EncodeToString(b)
}

type bytesReader struct {
	b   []byte
	off int
}

func newBytesReader(b []byte) *bytesReader {
	return &bytesReader{b: b}
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}

	n := copy(p, r.b[r.off:])
	r.off += n

	return n, nil
}
