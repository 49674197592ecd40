package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const basicPrefix = "Basic "

// Basic implements RFC 7617 HTTP Basic authentication, directly
// grounded on the teacher's gases/basic_auth.go: decode the
// base64(identity:secret) payload, split on the first colon, and hand
// both halves to the credentials provider for comparison.
type Basic struct {
	// Realm is included in the challenge on verification failure.
	Realm string
}

func (b *Basic) Name() string { return "basic" }

// CreateAuthorization asks provider for the identity's password
// credentials and builds the base64-encoded "identity:secret" header
// value.
func (b *Basic) CreateAuthorization(provider CredentialsProvider, identity string) (string, error) {
	v, ok := provider(Retrieve, b.Name(), identity, "", nil, nil)
	if !ok {
		return "", &SchemeError{Scheme: b.Name(), Message: "auth: no credentials available for " + identity}
	}

	pc, ok := v.(PasswordCredentials)
	if !ok {
		return "", &SchemeError{Scheme: b.Name(), Message: "auth: basic scheme requires PasswordCredentials"}
	}

	payload := pc.Identity + ":" + pc.Secret

	return basicPrefix + base64.StdEncoding.EncodeToString([]byte(payload)), nil
}

// VerifyAuthorization decodes header and compares the secret against
// the provider's expected credentials for the decoded identity, using
// a constant-time comparison (spec.md section 4.2, testable property
// P10).
func (b *Basic) VerifyAuthorization(header string, request *http.Request, provider CredentialsProvider) error {
	challenge := b.challenge()

	if !strings.HasPrefix(header, basicPrefix) {
		return &SchemeError{Scheme: b.Name(), Message: "auth: malformed basic authorization header", Challenge: challenge.String()}
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, basicPrefix))
	if err != nil {
		return &SchemeError{Scheme: b.Name(), Message: "auth: invalid basic authorization encoding", Challenge: challenge.String()}
	}

	decoded := string(raw)

	idx := strings.IndexByte(decoded, ':')
	if idx < 0 {
		return &SchemeError{Scheme: b.Name(), Message: "auth: malformed basic credentials", Challenge: challenge.String()}
	}

	identity, secret := decoded[:idx], decoded[idx+1:]

	v, ok := provider(Verify, b.Name(), identity, header, &challenge, request)
	if !ok {
		return &SchemeError{Scheme: b.Name(), Message: "auth: unknown identity", Challenge: challenge.String()}
	}

	pc, ok := v.(PasswordCredentials)
	if !ok || !constantTimeEqual(pc.Secret, secret) {
		return &SchemeError{Scheme: b.Name(), Message: "auth: invalid credentials", Challenge: challenge.String()}
	}

	return nil
}

func (b *Basic) challenge() Challenge {
	return Challenge{Scheme: "Basic", Realm: b.Realm}
}
