package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	iss, err := NewIssuer("s3cret", "", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	token, exp, err := iss.Issue("user-42", "Ada@Example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}
	claims, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" || claims.Issuer != DefaultIssuer || claims.Email != "ada@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("  ", "x", time.Hour); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewIssuer("s", "x", 0); err == nil {
		t.Fatal("expected ttl error")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	iss, _ := NewIssuer("s3cret", "t", time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return now }
	token, _, err := iss.Issue("u1", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := iss.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	a, _ := NewIssuer("secret-a", "t", time.Hour)
	b, _ := NewIssuer("secret-b", "t", time.Hour)
	c, _ := NewIssuer("secret-a", "other", time.Hour)
	token, _, _ := a.Issue("u1", "")
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret accepted: %v", err)
	}
	if _, err := c.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer accepted: %v", err)
	}
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := a.Verify(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned token accepted: %v", err)
	}
	if _, err := a.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token accepted: %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("expected no user")
	}
	ctx := ContextWithUser(context.Background(), " u1 ")
	if id, ok := UserIDFromContext(ctx); !ok || id != "u1" {
		t.Fatalf("unexpected user %q %v", id, ok)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  xyz": "xyz",
		"Basic abc":   "",
		"Bearer ":     "",
		"":            "",
	}
	for header, want := range cases {
		got, ok := BearerToken(header)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q) = %q, %v", header, got, ok)
		}
	}
}
