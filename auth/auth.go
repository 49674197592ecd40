// Package auth implements the pluggable authentication-scheme registry
// (spec.md section 4.2): a factory keyed by lowercase scheme name that
// builds outbound Authorization headers and verifies inbound ones.
//
// Grounded on the teacher's gases/basic_auth.go (Config+fill()+
// Validator shape) and gases/jwt.go (bearer-token extraction and
// verification), generalized from HTTP-filter middleware into a
// standalone scheme abstraction the spec requires.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Mode selects which half of a CredentialsProvider call is wanted.
type Mode int

const (
	// Retrieve asks the provider for outbound credentials, possibly
	// informed by a prior Challenge.
	Retrieve Mode = iota
	// Verify asks the provider for the expected credentials for an
	// inbound identity, so the scheme can compare.
	Verify
)

// Credentials is the minimal identity carried by every scheme.
type Credentials struct {
	Identity string
}

// PasswordCredentials refines Credentials with a shared secret, used by
// Basic.
type PasswordCredentials struct {
	Credentials
	Secret string
}

// BearerCredentials refines Credentials with an opaque token, used by
// Bearer. In Retrieve mode Token is the pre-signed JWT to send
// outbound; in Verify mode it is the signing key Bearer validates an
// inbound token's signature against.
type BearerCredentials struct {
	Credentials
	Token string
}

// Challenge is a WWW-Authenticate header value: scheme, realm and any
// scheme parameters, emitted when authentication fails (spec.md
// section 4.2, section 7).
type Challenge struct {
	Scheme string
	Realm  string
	Params map[string]string
}

// String renders the challenge as a WWW-Authenticate header value.
func (c Challenge) String() string {
	if c.Realm == "" && len(c.Params) == 0 {
		return c.Scheme
	}

	b := &strings.Builder{}
	b.WriteString(c.Scheme)

	if c.Realm != "" {
		fmt.Fprintf(b, ` realm="%s"`, c.Realm)
	}

	for k, v := range c.Params {
		fmt.Fprintf(b, `, %s="%s"`, k, v)
	}

	return b.String()
}

// CredentialsProvider supplies outbound credentials (Retrieve mode) or
// the server's expected credentials for an inbound identity (Verify
// mode). request is the *http.Request under authentication, nil when
// building an outbound Authorization header outside any request
// context.
type CredentialsProvider func(mode Mode, schemeName, identity string, authorization string, challenge *Challenge, request *http.Request) (interface{}, bool)

// SchemeError is raised by a Scheme when verification fails, carrying
// an optional challenge to surface on the 401 response.
type SchemeError struct {
	Scheme    string
	Message   string
	Challenge string
}

func (e *SchemeError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "auth: " + e.Scheme + " verification failed"
}

// Scheme is the capability set every registered authentication scheme
// implements (spec.md REDESIGN FLAGS section: "Auth scheme polymorphism
// uses a capability set ... with tagged variants for Basic and
// Bearer").
type Scheme interface {
	// Name returns the lowercase scheme token, e.g. "basic".
	Name() string

	// CreateAuthorization builds an outbound Authorization header
	// value using provider in Retrieve mode.
	CreateAuthorization(provider CredentialsProvider, identity string) (string, error)

	// VerifyAuthorization checks an inbound Authorization header
	// value using provider in Verify mode. On failure it returns a
	// *SchemeError carrying a Challenge.
	VerifyAuthorization(header string, request *http.Request, provider CredentialsProvider) error
}

// AuthenticationInfoVerifier is implemented by schemes that also check
// an Authentication-Info response header (optional per spec.md section
// 4.2).
type AuthenticationInfoVerifier interface {
	VerifyAuthenticationInfo(header string, request *http.Request, provider CredentialsProvider) error
}

// unknownScheme is the sentinel a Registry.Get returns for an
// unregistered scheme name; every method throws, per spec.md section
// 4.2 "unknown scheme produces a sentinel that throws on every method."
type unknownScheme struct{ name string }

func (u *unknownScheme) Name() string { return u.name }

func (u *unknownScheme) CreateAuthorization(CredentialsProvider, string) (string, error) {
	return "", fmt.Errorf("auth: unknown scheme %q", u.name)
}

func (u *unknownScheme) VerifyAuthorization(string, *http.Request, CredentialsProvider) error {
	return &SchemeError{Scheme: u.name, Message: fmt.Sprintf("auth: unknown scheme %q", u.name)}
}

// Registry is the process-wide, write-once-then-read-only scheme
// factory (spec.md section 5's "Global registries ... are process-wide;
// initialization order must be deterministic"). Directly mirrors
// codec.Registry's Register/lookup shape, specialized to scheme name
// instead of media type.
type Registry struct {
	mu      sync.RWMutex
	schemes map[string]Scheme
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemes: map[string]Scheme{}}
}

// Register installs scheme under its lowercased Name(). Intended to run
// during process startup, before any concurrent dispatch begins.
func (r *Registry) Register(scheme Scheme) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[strings.ToLower(scheme.Name())] = scheme
}

// Get returns the scheme registered under name (case-insensitive), or
// the unknown-scheme sentinel if none is registered.
func (r *Registry) Get(name string) Scheme {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.schemes[strings.ToLower(name)]; ok {
		return s
	}

	return &unknownScheme{name: name}
}

// RegisterBuiltins installs Basic and Bearer, the two schemes spec.md
// section 4.2 ships by default. Grounded on air.go's register_builtins
// pattern referenced for the codec and auth registries alike.
func RegisterBuiltins(r *Registry) {
	r.Register(&Basic{})
	r.Register(&Bearer{})
}

// constantTimeEqual compares a and b in constant time, satisfying
// spec.md section 4.2's "comparisons use constant-time byte equality"
// (testable property P10).
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison so callers can't distinguish a
		// length mismatch from a content mismatch by timing.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
