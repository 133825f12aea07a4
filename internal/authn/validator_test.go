package authn

import (
	"testing"

	"github.com/golang-jwt/jwt/v4"
)

func signedToken(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

func TestExtractUID_ReturnsSubClaimWithoutVerifyingSignature(t *testing.T) {
	v := &JWKSValidator{}
	token := signedToken(t, Claims{AccountID: "acc1", Sub: "user-42"})

	uid, err := v.ExtractUID(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid != "user-42" {
		t.Fatalf("expected uid %q, got %q", "user-42", uid)
	}
}

func TestExtractUID_ErrorsWhenSubClaimIsEmpty(t *testing.T) {
	v := &JWKSValidator{}
	token := signedToken(t, Claims{AccountID: "acc1"})

	if _, err := v.ExtractUID(token); err == nil {
		t.Fatal("expected an error for a token with no sub claim")
	}
}

func TestExtractUID_ErrorsOnMalformedToken(t *testing.T) {
	v := &JWKSValidator{}
	if _, err := v.ExtractUID("not-a-jwt"); err == nil {
		t.Fatal("expected an error for a malformed token")
	}
}
