package codec

import (
	"compress/flate"
	"compress/gzip"
	"encoding/base64"
	"io"
	"mime/quotedprintable"

	"github.com/andybalholm/brotli"
)

// registerTransforms registers the named byte-stream encodings spec.md
// section 4.1 lists: identity, gzip and deflate (standard library,
// grounded on air.go's GzipEnabled/gases/gzip path), brotli (via
// github.com/andybalholm/brotli, the one compression library in the
// retrieval pack the teacher itself does not import but a sibling
// example does — see DESIGN.md), base64 and quoted-printable (both
// standard library, since the pack carries no third-party codec for
// either).
func registerTransforms(r *Registry) {
	r.RegisterTransform("identity", identityTransform{})
	r.RegisterTransform("gzip", gzipTransform{})
	r.RegisterTransform("deflate", deflateTransform{})
	r.RegisterTransform("br", brotliTransform{})
	r.RegisterTransform("brotli", brotliTransform{})
	r.RegisterTransform("base64", base64Transform{})
	r.RegisterTransform("quoted-printable", quotedPrintableTransform{})
}

type identityTransform struct{}

func (identityTransform) Encode(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (identityTransform) Decode(r io.Reader) (io.Reader, error) { return r, nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type gzipTransform struct{}

func (gzipTransform) Encode(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipTransform) Decode(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

type deflateTransform struct{}

func (deflateTransform) Encode(w io.Writer) (io.WriteCloser, error) {
	return flate.NewWriter(w, flate.DefaultCompression)
}

func (deflateTransform) Decode(r io.Reader) (io.Reader, error) {
	return flate.NewReader(r), nil
}

type brotliTransform struct{}

func (brotliTransform) Encode(w io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriter(w), nil
}

func (brotliTransform) Decode(r io.Reader) (io.Reader, error) {
	return brotli.NewReader(r), nil
}

type base64Transform struct{}

func (base64Transform) Encode(w io.Writer) (io.WriteCloser, error) {
	return base64.NewEncoder(base64.StdEncoding, w), nil
}

func (base64Transform) Decode(r io.Reader) (io.Reader, error) {
	return base64.NewDecoder(base64.StdEncoding, r), nil
}

type quotedPrintableTransform struct{}

func (quotedPrintableTransform) Encode(w io.Writer) (io.WriteCloser, error) {
	return quotedprintable.NewWriter(w), nil
}

func (quotedPrintableTransform) Decode(r io.Reader) (io.Reader, error) {
	return quotedprintable.NewReader(r), nil
}
