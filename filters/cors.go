package filters

import (
	"net/http"
	"strings"

	"github.com/latticehttp/lattice"
)

// CORS implements Cross-Origin Resource Sharing response headers,
// directly grounded on the teacher's gases/cors.go (allowed-origin
// matching, Vary: Origin, credential/expose-headers passthrough).
type CORS struct {
	path string

	// AllowOrigins is the whitelist of origins that may access the
	// resource; "*" matches any origin. Defaults to []string{"*"}.
	AllowOrigins []string

	// AllowCredentials indicates the response may be exposed when the
	// request's credentials flag is true.
	AllowCredentials bool

	// ExposeHeaders whitelists headers clients are allowed to read.
	ExposeHeaders []string
}

// NewCORS returns a CORS filter scoped to path with AllowOrigins
// defaulted to []string{"*"}.
func NewCORS(path string) *CORS {
	return &CORS{path: path, AllowOrigins: []string{"*"}}
}

func (f *CORS) Path() string { return f.path }

func (f *CORS) Filter(next lattice.Next, req *lattice.Request, resource lattice.Resource) (interface{}, error) {
	resp, err := next(req)
	if err != nil {
		return nil, err
	}

	origin, hasOrigin := req.Headers()["Origin"]
	if resp.Header == nil {
		resp.Header = http.Header{}
	}

	resp.Header.Add("Vary", "Origin")

	if !hasOrigin || len(origin) == 0 {
		return resp, nil
	}

	allowed := ""
	for _, o := range f.AllowOrigins {
		if o == "*" || o == origin[0] {
			allowed = o
			break
		}
	}

	if allowed == "" {
		return resp, nil
	}

	resp.Header.Set("Access-Control-Allow-Origin", allowed)

	if f.AllowCredentials {
		resp.Header.Set("Access-Control-Allow-Credentials", "true")
	}

	if len(f.ExposeHeaders) > 0 {
		resp.Header.Set("Access-Control-Expose-Headers", strings.Join(f.ExposeHeaders, ","))
	}

	return resp, nil
}
