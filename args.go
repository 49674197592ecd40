package lattice

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Arguments is the unified string-indexed coercion namespace spec.md
// section 4.4 describes: path captures, query parameters, headers,
// custom params and (after Body is called) top-level body fields, each
// addressed by a prefix. Grounded on binder.go's
// setWithProperType/setIntField/setBoolField/setFloatField family,
// generalized from struct-field targets to a map-returning API.
type Arguments struct {
	req *Request
}

// NewArguments builds an Arguments view over req.
func NewArguments(req *Request) *Arguments {
	return &Arguments{req: req}
}

type argSource int

const (
	sourcePathNamed argSource = iota
	sourcePathPositional
	sourceQuery
	sourceHeader
	sourceParam
	sourceBody
)

// resolve parses the prefix and returns the source kind, the bare name
// (prefix stripped), and the error status to use if the value is
// absent, per the table in spec.md section 4.4.
func resolve(name string) (argSource, string, int) {
	if name == "" {
		return sourceQuery, name, http.StatusBadRequest
	}

	prefix, bare := name[0], name[1:]

	switch prefix {
	case '$':
		if isDigits(bare) {
			return sourcePathPositional, bare, http.StatusBadRequest
		}

		return sourcePathNamed, bare, http.StatusBadRequest
	case '?':
		return sourceQuery, bare, http.StatusBadRequest
	case '@':
		return sourceHeader, bare, http.StatusBadRequest
	case '~':
		return sourceParam, bare, http.StatusInternalServerError
	case '.':
		return sourceBody, bare, http.StatusUnprocessableEntity
	default:
		return sourceQuery, name, http.StatusBadRequest
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// raw fetches the named argument's underlying value with no type
// coercion, or reports absence.
func (a *Arguments) raw(name string) (interface{}, bool, int) {
	kind, bare, errStatus := resolve(name)

	switch kind {
	case sourcePathNamed, sourcePathPositional:
		v, ok := a.req.PathParam(bare)
		if !ok {
			return nil, false, errStatus
		}

		return v, true, errStatus
	case sourceQuery:
		vs, ok := a.req.URL.Query()[bare]
		if !ok || len(vs) == 0 {
			return nil, false, errStatus
		}

		return vs[0], true, errStatus
	case sourceHeader:
		vs := a.req.headers[http.CanonicalHeaderKey(bare)]
		if len(vs) == 0 {
			return nil, false, errStatus
		}

		return strings.Join(vs, ", "), true, errStatus
	case sourceParam:
		v, ok := a.req.params[bare]
		if !ok {
			return nil, false, errStatus
		}

		return v, true, errStatus
	case sourceBody:
		if a.req.bodyValue == nil {
			return nil, false, errStatus
		}

		m, ok := a.req.bodyValue.Value.(map[string]interface{})
		if !ok {
			return nil, false, errStatus
		}

		v, ok := m[bare]
		if !ok {
			return nil, false, errStatus
		}

		return v, true, errStatus
	}

	return nil, false, errStatus
}

func (a *Arguments) missing(name string, def []interface{}) (interface{}, error) {
	if len(def) > 0 {
		return def[0], nil
	}

	_, _, status := resolve(name)

	return nil, NewError(status, "missing argument %q", name)
}

// String returns the named argument as a string.
func (a *Arguments) String(name string, def ...string) (string, error) {
	v, ok, status := a.raw(name)
	if !ok {
		if len(def) > 0 {
			return def[0], nil
		}

		return "", NewError(status, "missing argument %q", name)
	}

	if s, ok := v.(string); ok {
		return s, nil
	}

	return stringifyArg(v), nil
}

// Boolean returns the named argument coerced to a bool. Accepted
// string forms are {true,t,false,f} (spec.md section 4.4).
func (a *Arguments) Boolean(name string, def ...bool) (bool, error) {
	v, ok, status := a.raw(name)
	if !ok {
		if len(def) > 0 {
			return def[0], nil
		}

		return false, NewError(status, "missing argument %q", name)
	}

	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(x) {
		case "true", "t":
			return true, nil
		case "false", "f":
			return false, nil
		}
	}

	return false, NewError(http.StatusBadRequest, "argument %q is not a boolean", name)
}

// Number returns the named argument coerced to a float64, accepting
// decimal, hex (0x), binary (0b) and octal (0o) forms, per spec.md
// section 4.4's "host's canonical numeric parser".
func (a *Arguments) Number(name string, def ...float64) (float64, error) {
	v, ok, status := a.raw(name)
	if !ok {
		if len(def) > 0 {
			return def[0], nil
		}

		return 0, NewError(status, "missing argument %q", name)
	}

	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		if n, err := strconv.ParseInt(x, 0, 64); err == nil {
			return float64(n), nil
		}

		if n, err := strconv.ParseFloat(x, 64); err == nil {
			return n, nil
		}
	}

	return 0, NewError(http.StatusBadRequest, "argument %q is not a number", name)
}

// isoDatePrefix matches the ISO-prefixed form spec.md section 4.4
// requires of Date ("^[0-9]{4}").
var isoDatePrefix = regexp.MustCompile(`^[0-9]{4}`)

// Date returns the named argument coerced to a time.Time, requiring an
// ISO-8601-prefixed string.
func (a *Arguments) Date(name string, def ...time.Time) (time.Time, error) {
	v, ok, status := a.raw(name)
	if !ok {
		if len(def) > 0 {
			return def[0], nil
		}

		return time.Time{}, NewError(status, "missing argument %q", name)
	}

	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		if isoDatePrefix.MatchString(x) {
			for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
				if t, err := time.Parse(layout, x); err == nil {
					return t, nil
				}
			}
		}
	}

	return time.Time{}, NewError(http.StatusBadRequest, "argument %q is not an ISO date", name)
}

// Object returns the named argument as-is, for callers expecting a
// structured value (e.g. a nested map from a JSON body).
func (a *Arguments) Object(name string, def ...interface{}) (interface{}, error) {
	v, ok, status := a.raw(name)
	if !ok {
		return a.missing(name, def)
	}

	if status == http.StatusUnprocessableEntity {
		if _, isMap := v.(map[string]interface{}); !isMap {
			if _, isSlice := v.([]interface{}); !isSlice {
				return nil, NewError(status, "argument %q is not an object", name)
			}
		}
	}

	return v, nil
}

func stringifyArg(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
