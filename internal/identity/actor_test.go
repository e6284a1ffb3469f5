package identity_test

import (
	"strings"
	"testing"

	"github.com/custodia-forensics/custodia/internal/identity"
)

func TestVerify_roundTrip(t *testing.T) {
	issuer, verifier, err := identity.NewTestIssuer("https://auth.example.test")
	if err != nil {
		t.Fatal(err)
	}

	token, err := issuer.Issue("officer-7", "J. Reyes", "investigator")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.ActorID != "officer-7" {
		t.Errorf("actor_id: got %q", claims.ActorID)
	}
	if claims.Role != "investigator" {
		t.Errorf("role: got %q", claims.Role)
	}
}

func TestVerify_wrongKey(t *testing.T) {
	issuerA, _, err := identity.NewTestIssuer("https://auth.example.test")
	if err != nil {
		t.Fatal(err)
	}
	_, verifierB, err := identity.NewTestIssuer("https://auth.example.test")
	if err != nil {
		t.Fatal(err)
	}

	token, err := issuerA.Issue("officer-7", "J. Reyes", "investigator")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifierB.Verify(token); err == nil {
		t.Error("token signed with a different key must not verify")
	}
}

func TestVerify_garbage(t *testing.T) {
	_, verifier, err := identity.NewTestIssuer("https://auth.example.test")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify("not.a.token"); err == nil {
		t.Error("garbage token must not verify")
	}
}

func TestVerify_tamperedToken(t *testing.T) {
	issuer, verifier, err := identity.NewTestIssuer("https://auth.example.test")
	if err != nil {
		t.Fatal(err)
	}
	token, err := issuer.Issue("officer-7", "J. Reyes", "investigator")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	parts[1] = strings.Repeat("A", len(parts[1]))
	if _, err := verifier.Verify(strings.Join(parts, ".")); err == nil {
		t.Error("tampered payload must not verify")
	}
}
