package codec

import (
	"io"
	"net/url"
	"strings"
)

// registerURLFormCodec registers the application/x-www-form-urlencoded
// parser/encoder, grounded on binder.go's form-binding path. Parsing
// preserves duplicate keys via Fields (ordered, one entry per
// key=value pair) in addition to the collapsed map in Value, which
// keeps the first value of each key, since spec.md section 4.1
// requires repeated keys to survive the parse.
func registerURLFormCodec(r *Registry) {
	r.RegisterParser("application/x-www-form-urlencoded", ParserFunc(func(reader io.Reader, contentType string) (Parsed, error) {
		b, err := io.ReadAll(reader)
		if err != nil {
			return Parsed{}, err
		}

		raw := string(b)

		values, err := url.ParseQuery(raw)
		if err != nil {
			return Parsed{}, err
		}

		m := make(map[string]interface{}, len(values))
		for k, vs := range values {
			m[k] = vs[0]
		}

		var fields []Field
		for _, pair := range strings.Split(raw, "&") {
			if pair == "" {
				continue
			}

			kv := strings.SplitN(pair, "=", 2)

			k, err := url.QueryUnescape(kv[0])
			if err != nil {
				k = kv[0]
			}

			v := ""
			if len(kv) == 2 {
				if dv, err := url.QueryUnescape(kv[1]); err == nil {
					v = dv
				} else {
					v = kv[1]
				}
			}

			fields = append(fields, Field{Name: k, Value: v})
		}

		return Parsed{Value: m, Fields: fields}, nil
	}))

	r.RegisterEncoder("application/x-www-form-urlencoded", EncoderFunc(func(w io.Writer, v interface{}, contentType string) (string, error) {
		values := url.Values{}

		switch m := v.(type) {
		case map[string]interface{}:
			for k, val := range m {
				switch x := val.(type) {
				case []string:
					for _, s := range x {
						values.Add(k, s)
					}
				case []interface{}:
					for _, s := range x {
						values.Add(k, stringify(s))
					}
				default:
					values.Set(k, stringify(val))
				}
			}
		case url.Values:
			values = m
		}

		_, err := io.WriteString(w, values.Encode())

		return contentType, err
	}))
}
