package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// registerJSONCodec registers the application/json parser/encoder with
// a regex fallback for application/*+json, matching spec.md section
// 4.1. Parsing rejects JSON's "undefined" concept by rejecting a body
// that decodes to a Go nil interface with no bytes at all, per the
// spec's "rejects undefined" note; an explicit JSON null is accepted
// since it is distinct from "absent".
func registerJSONCodec(r *Registry) {
	parse := ParserFunc(func(reader io.Reader, contentType string) (Parsed, error) {
		b, err := io.ReadAll(reader)
		if err != nil {
			return Parsed{}, err
		}

		if len(bytes.TrimSpace(b)) == 0 {
			return Parsed{}, errors.New("codec: empty json body")
		}

		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return Parsed{}, err
		}

		return Parsed{Value: v}, nil
	})

	encode := EncoderFunc(func(w io.Writer, v interface{}, contentType string) (string, error) {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)

		if err := enc.Encode(v); err != nil {
			return contentType, err
		}

		return contentType, nil
	})

	r.RegisterParser("application/json", parse)
	r.RegisterParserPattern(`^application/.+\+json$`, parse)

	r.RegisterEncoder("application/json", encode)
	r.RegisterEncoderPattern(`^application/.+\+json$`, encode)
}
