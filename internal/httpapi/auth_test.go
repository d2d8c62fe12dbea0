package httpapi

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"banhang/backend/internal/domain"
)

func TestAuthManagerRoundTripsActor(t *testing.T) {
	manager := NewAuthManager("test-secret-test-secret-test-secret", time.Hour)

	token, expiresAt, err := manager.Issue(domain.Actor{EmployeeID: 7, BranchID: 2, Username: "thungan01", Role: roleCashier})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected expiry in the future, got %s", expiresAt)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if actor.Username != "thungan01" || actor.Role != roleCashier || actor.EmployeeID != 7 || actor.BranchID != 2 {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestAuthManagerRejectsExpiredToken(t *testing.T) {
	manager := NewAuthManager("test-secret-test-secret-test-secret", time.Minute)
	manager.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }

	token, _, err := manager.Issue(domain.Actor{EmployeeID: 7, Username: "thungan01", Role: roleCashier})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	manager.now = func() time.Time { return time.Now().UTC() }
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestAuthManagerRejectsForeignSecretAndAlgorithm(t *testing.T) {
	issuer := NewAuthManager("another-secret-another-secret-xxxx", time.Hour)
	verifier := NewAuthManager("test-secret-test-secret-test-secret", time.Hour)

	token, _, err := issuer.Issue(domain.Actor{EmployeeID: 1, Username: "quanly", Role: roleManager})
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "quanly"})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none failed: %v", err)
	}
	if _, err := verifier.ParseToken(raw); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}

func TestAuthManagerIssueRequiresIdentity(t *testing.T) {
	manager := NewAuthManager("test-secret-test-secret-test-secret", time.Hour)
	if _, _, err := manager.Issue(domain.Actor{Role: roleCashier}); err == nil {
		t.Fatalf("expected missing username to fail")
	}
}
