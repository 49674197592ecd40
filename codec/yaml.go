package codec

import (
	"io"

	"gopkg.in/yaml.v3"
)

// registerYAMLCodec registers the application/yaml (plus
// application/x-yaml and text/yaml aliases) parser/encoder, grounded
// on response.go's Response.WriteYAML, which uses gopkg.in/yaml.v3.
func registerYAMLCodec(r *Registry) {
	parse := ParserFunc(func(reader io.Reader, contentType string) (Parsed, error) {
		var v interface{}
		if err := yaml.NewDecoder(reader).Decode(&v); err != nil {
			return Parsed{}, err
		}

		return Parsed{Value: v}, nil
	})

	encode := EncoderFunc(func(w io.Writer, v interface{}, contentType string) (string, error) {
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		if err := enc.Encode(v); err != nil {
			return contentType, err
		}

		return contentType, nil
	})

	for _, mt := range []string{"application/yaml", "application/x-yaml", "text/yaml"} {
		r.RegisterParser(mt, parse)
		r.RegisterEncoder(mt, encode)
	}
}
