package auth

import (
	"errors"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestRegistryUnknownSchemeSentinel(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	s := r.Get("digest")
	if s.Name() != "digest" {
		t.Fatalf("expected sentinel to report the requested name, got %q", s.Name())
	}

	if _, err := s.CreateAuthorization(nil, "alice"); err == nil {
		t.Fatal("expected unknown scheme CreateAuthorization to error")
	}

	if err := s.VerifyAuthorization("whatever", nil, nil); err == nil {
		t.Fatal("expected unknown scheme VerifyAuthorization to error")
	}
}

func TestRegistryLooksUpCaseInsensitively(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	if r.Get("BASIC").Name() != "basic" {
		t.Fatal("expected case-insensitive scheme lookup")
	}
}

func TestBasicRoundTrip(t *testing.T) {
	b := &Basic{Realm: "shop"}

	provider := func(mode Mode, scheme, identity, authorization string, challenge *Challenge, request *http.Request) (interface{}, bool) {
		if identity != "alice" {
			return nil, false
		}

		return PasswordCredentials{Credentials: Credentials{Identity: "alice"}, Secret: "hunter2"}, true
	}

	header, err := b.CreateAuthorization(provider, "alice")
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}

	if err := b.VerifyAuthorization(header, nil, provider); err != nil {
		t.Fatalf("VerifyAuthorization: %v", err)
	}
}

func TestBasicRejectsWrongSecret(t *testing.T) {
	b := &Basic{}

	provider := func(mode Mode, scheme, identity, authorization string, challenge *Challenge, request *http.Request) (interface{}, bool) {
		return PasswordCredentials{Credentials: Credentials{Identity: "alice"}, Secret: "hunter2"}, true
	}

	header, err := b.CreateAuthorization(provider, "alice")
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}

	wrong := func(mode Mode, scheme, identity, authorization string, challenge *Challenge, request *http.Request) (interface{}, bool) {
		return PasswordCredentials{Credentials: Credentials{Identity: "alice"}, Secret: "wrong"}, true
	}

	err = b.VerifyAuthorization(header, nil, wrong)
	if err == nil {
		t.Fatal("expected verification to fail for mismatched secret")
	}

	var se *SchemeError
	if !errors.As(err, &se) {
		t.Fatalf("expected a *SchemeError, got %T", err)
	}

	if se.Challenge == "" {
		t.Fatal("expected a challenge to be attached on verification failure")
	}
}

func TestBasicRejectsMalformedHeader(t *testing.T) {
	b := &Basic{}

	provider := func(mode Mode, scheme, identity, authorization string, challenge *Challenge, request *http.Request) (interface{}, bool) {
		return PasswordCredentials{}, true
	}

	if err := b.VerifyAuthorization("Bearer xyz", nil, provider); err == nil {
		t.Fatal("expected a non-Basic header to be rejected")
	}
}

func TestBearerRoundTrip(t *testing.T) {
	br := &Bearer{}

	secretFor := func(mode Mode, scheme, identity, authorization string, challenge *Challenge, request *http.Request) (interface{}, bool) {
		if identity != "" && identity != "alice" {
			return nil, false
		}

		return BearerCredentials{Credentials: Credentials{Identity: "alice"}, Token: "topsecret"}, true
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})

	signed, err := tok.SignedString([]byte("topsecret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := br.VerifyAuthorization("Bearer "+signed, nil, secretFor); err != nil {
		t.Fatalf("VerifyAuthorization: %v", err)
	}
}

func TestBearerRejectsWrongSigningKey(t *testing.T) {
	br := &Bearer{}

	wrongKey := func(mode Mode, scheme, identity, authorization string, challenge *Challenge, request *http.Request) (interface{}, bool) {
		return BearerCredentials{Credentials: Credentials{Identity: "alice"}, Token: "not-the-signing-key"}, true
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})

	signed, err := tok.SignedString([]byte("topsecret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := br.VerifyAuthorization("Bearer "+signed, nil, wrongKey); err == nil {
		t.Fatal("expected verification to fail for mismatched signing key")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("abc", "abc") {
		t.Fatal("expected equal strings to compare equal")
	}

	if constantTimeEqual("abc", "abd") {
		t.Fatal("expected differing strings to compare unequal")
	}

	if constantTimeEqual("abc", "abcd") {
		t.Fatal("expected differing-length strings to compare unequal")
	}
}
