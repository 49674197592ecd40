package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

// Bearer implements RFC 6750 bearer-token authentication backed by a
// signed JSON Web Token, grounded on the teacher's gases/jwt.go
// (bearer-prefix extraction, signing-method check, claims parsing) and
// generalized from an air.GasFunc middleware into a standalone Scheme.
// The JWT library itself comes from the retrieval pack's
// golang-jwt/jwt/v5 (the maintained successor of the teacher's
// archived dgrijalva/jwt-go).
type Bearer struct {
	// SigningMethod restricts accepted tokens to exactly this
	// algorithm, e.g. jwt.SigningMethodHS256. Defaults to HS256.
	SigningMethod jwt.SigningMethod

	// Realm is included in the challenge on verification failure.
	Realm string
}

func (b *Bearer) Name() string { return "bearer" }

func (b *Bearer) signingMethod() jwt.SigningMethod {
	if b.SigningMethod != nil {
		return b.SigningMethod
	}

	return jwt.SigningMethodHS256
}

// CreateAuthorization asks provider for a signed token for identity and
// returns it as a "Bearer <token>" header value. The provider is
// expected to return an already-signed token string as
// BearerCredentials.Token.
func (b *Bearer) CreateAuthorization(provider CredentialsProvider, identity string) (string, error) {
	v, ok := provider(Retrieve, b.Name(), identity, "", nil, nil)
	if !ok {
		return "", &SchemeError{Scheme: b.Name(), Message: "auth: no credentials available for " + identity}
	}

	bc, ok := v.(BearerCredentials)
	if !ok {
		return "", &SchemeError{Scheme: b.Name(), Message: "auth: bearer scheme requires BearerCredentials"}
	}

	return bearerPrefix + bc.Token, nil
}

// VerifyAuthorization extracts the token from header, parses and
// validates its signature against the key the provider returns for the
// token's claimed identity (the subject claim), and checks the signing
// method matches.
func (b *Bearer) VerifyAuthorization(header string, request *http.Request, provider CredentialsProvider) error {
	challenge := Challenge{Scheme: "Bearer", Realm: b.Realm}

	if !strings.HasPrefix(header, bearerPrefix) {
		return &SchemeError{Scheme: b.Name(), Message: "auth: malformed bearer authorization header", Challenge: challenge.String()}
	}

	raw := strings.TrimPrefix(header, bearerPrefix)

	var keyIdentity string

	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != b.signingMethod().Alg() {
			return nil, fmt.Errorf("auth: unexpected jwt signing method %v", t.Header["alg"])
		}

		if sub, ok := claims["sub"].(string); ok {
			keyIdentity = sub
		}

		v, ok := provider(Verify, b.Name(), keyIdentity, header, &challenge, request)
		if !ok {
			return nil, fmt.Errorf("auth: unknown identity %q", keyIdentity)
		}

		bc, ok := v.(BearerCredentials)
		if !ok {
			return nil, fmt.Errorf("auth: bearer scheme requires BearerCredentials")
		}

		return []byte(bc.Token), nil
	})
	if err != nil || !token.Valid {
		return &SchemeError{Scheme: b.Name(), Message: "auth: invalid bearer token", Challenge: challenge.String()}
	}

	return nil
}
