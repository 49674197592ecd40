package codec

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"unicode/utf8"
)

// registerTextCodec registers the text/plain parser/encoder, honoring
// the charset parameter and an optional x-bom parameter the way
// spec.md section 4.1 describes. Only UTF-8 (the wire default) and
// passthrough for unspecified charsets are implemented; an unknown
// non-UTF-8 charset is accepted as opaque bytes rather than
// transcoded, since no pack dependency ships a general charset
// transcoder (see DESIGN.md).
func registerTextCodec(r *Registry) {
	r.RegisterParser("text/plain", ParserFunc(func(reader io.Reader, contentType string) (Parsed, error) {
		b, err := io.ReadAll(reader)
		if err != nil {
			return Parsed{}, err
		}

		_, params, _ := mime.ParseMediaType(contentType)
		if params["x-bom"] == "true" {
			b = stripUTF8BOM(b)
		}

		return Parsed{Value: string(b)}, nil
	}))

	r.RegisterEncoder("text/plain", EncoderFunc(func(w io.Writer, v interface{}, contentType string) (string, error) {
		s, ok := v.(string)
		if !ok {
			s = stringify(v)
		}

		_, err := io.WriteString(w, s)

		return contentType, err
	}))
}

func stripUTF8BOM(b []byte) []byte {
	if bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}) {
		return b[3:]
	}

	return b
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}

		return ""
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
