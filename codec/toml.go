package codec

import (
	"io"

	"github.com/BurntSushi/toml"
)

// registerTOMLCodec registers the application/toml parser/encoder,
// grounded on air.go's use of BurntSushi/toml for ConfigFile loading
// and response.go's Response.WriteTOML.
func registerTOMLCodec(r *Registry) {
	r.RegisterParser("application/toml", ParserFunc(func(reader io.Reader, contentType string) (Parsed, error) {
		var v map[string]interface{}
		if _, err := toml.NewDecoder(reader).Decode(&v); err != nil {
			return Parsed{}, err
		}

		return Parsed{Value: v}, nil
	}))

	r.RegisterEncoder("application/toml", EncoderFunc(func(w io.Writer, v interface{}, contentType string) (string, error) {
		if err := toml.NewEncoder(w).Encode(v); err != nil {
			return contentType, err
		}

		return contentType, nil
	}))
}
