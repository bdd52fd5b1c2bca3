package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"teamledger.io/internal/authn"
)

func TestTokenIssue(t *testing.T) {
	t.Setenv("TEAMLEDGER_AUTH_SECRET", "cli-secret")
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs([]string{"token", "issue", "--user", "user-7", "--ttl", "10m"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	issuer, err := authn.NewIssuer("cli-secret", "", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	claims, err := issuer.Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.Subject != "user-7" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if !strings.HasPrefix(errOut.String(), "expires ") {
		t.Fatalf("expected expiry on stderr, got %q", errOut.String())
	}
}

func TestSeedRoleRejectsUnknownRole(t *testing.T) {
	rootCmd.SetArgs([]string{"seed", "role", "superuser", "view_team"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}
