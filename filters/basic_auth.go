package filters

import (
	"github.com/latticehttp/lattice"
	"github.com/latticehttp/lattice/auth"
)

// BasicAuth gates access to a path behind HTTP Basic authentication,
// delegating the actual header parsing and comparison to an
// auth.Basic scheme. Grounded on the teacher's gases/basic_auth.go
// Validator shape, adapted to auth.CredentialsProvider's
// retrieve/verify contract.
type BasicAuth struct {
	path     string
	scheme   *auth.Basic
	provider auth.CredentialsProvider
}

// NewBasicAuth returns a BasicAuth filter scoped to path, verifying
// credentials through provider.
func NewBasicAuth(path, realm string, provider auth.CredentialsProvider) *BasicAuth {
	return &BasicAuth{path: path, scheme: &auth.Basic{Realm: realm}, provider: provider}
}

func (f *BasicAuth) Path() string { return f.path }

func (f *BasicAuth) Filter(next lattice.Next, req *lattice.Request, resource lattice.Resource) (interface{}, error) {
	header, err := req.HeaderFirst("Authorization")
	if err != nil {
		return nil, lattice.NewError(401, "missing Authorization header").WithHeader("WWW-Authenticate", "Basic")
	}

	if verr := f.scheme.VerifyAuthorization(header, req.HTTPRequest(), f.provider); verr != nil {
		if se, ok := verr.(*auth.SchemeError); ok {
			return nil, lattice.NewError(401, se.Error()).WithHeader("WWW-Authenticate", se.Challenge)
		}

		return nil, lattice.NewError(401, verr.Error())
	}

	return next(req)
}
