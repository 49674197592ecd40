package codec

import "io"

// Box wraps a primitive so callers can attach the Fields/Finalize
// attachments described by spec.md section 3 ("primitives are wrapped
// as boxed objects so callers can attach metadata and finalizers").
// Most call sites simply read Box.Value.
type Box struct {
	Value interface{}
}

// registerBufferCodec registers the application/octet-stream
// concatenating parser and encoder (spec.md section 4.1 type table).
func registerBufferCodec(r *Registry) {
	r.RegisterParser("application/octet-stream", ParserFunc(func(reader io.Reader, contentType string) (Parsed, error) {
		b, err := io.ReadAll(reader)
		if err != nil {
			return Parsed{}, err
		}

		return Parsed{Value: b}, nil
	}))

	r.RegisterEncoder("application/octet-stream", EncoderFunc(func(w io.Writer, v interface{}, contentType string) (string, error) {
		switch b := v.(type) {
		case []byte:
			_, err := w.Write(b)
			return contentType, err
		case *Box:
			if bb, ok := b.Value.([]byte); ok {
				_, err := w.Write(bb)
				return contentType, err
			}
		case io.Reader:
			_, err := io.Copy(w, b)
			return contentType, err
		}

		return contentType, nil
	}))
}

// registerStreamCodec registers the pass-through
// application/vnd.lattice.octet-stream parser/encoder (spec.md section
// 4.1: "stream" row, generalized from the spec's illustrative
// "application/vnd.esxx.octet-stream" to this module's own vendor
// subtype).
func registerStreamCodec(r *Registry) {
	r.RegisterParser("application/vnd.lattice.octet-stream", ParserFunc(func(reader io.Reader, contentType string) (Parsed, error) {
		return Parsed{Value: reader}, nil
	}))

	r.RegisterEncoder("application/vnd.lattice.octet-stream", EncoderFunc(func(w io.Writer, v interface{}, contentType string) (string, error) {
		if rd, ok := v.(io.Reader); ok {
			_, err := io.Copy(w, rd)
			return contentType, err
		}

		return contentType, nil
	}))
}
