package entitlement

import (
	"testing"
	"time"

	"medipos/backend/internal/domain"
)

func TestMintAndVerifyRoundTrip(t *testing.T) {
	signer := NewSigner("test-secret", 24*time.Hour, 25)

	token, minted, err := signer.Mint(domain.EntitlementIssueRequest{
		DeviceID:    "pos-counter-1",
		TenantID:    "tenant-a",
		Permissions: []string{"issue_invoice"},
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if minted.TokenID == "" {
		t.Fatalf("minted entitlement missing token id")
	}
	if minted.MaxOfflineInvoices != 25 {
		t.Fatalf("max offline invoices = %d, want default 25", minted.MaxOfflineInvoices)
	}

	verified, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.TokenID != minted.TokenID {
		t.Fatalf("token id mismatch: %q vs %q", verified.TokenID, minted.TokenID)
	}
	if verified.DeviceID != "pos-counter-1" || verified.TenantID != "tenant-a" {
		t.Fatalf("claims mismatch: %+v", verified)
	}
	if !verified.ExpiresAt.After(verified.IssuedAt) {
		t.Fatalf("expiry %v not after issue %v", verified.ExpiresAt, verified.IssuedAt)
	}
}

func TestMintRequiresDevice(t *testing.T) {
	signer := NewSigner("test-secret", 0, 0)
	if _, _, err := signer.Mint(domain.EntitlementIssueRequest{DeviceID: "   "}); err == nil {
		t.Fatalf("expected error for blank device id")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour, 10)

	base := time.Now().UTC()
	signer.now = func() time.Time { return base }
	token, _, err := signer.Mint(domain.EntitlementIssueRequest{DeviceID: "pos-counter-2", TTLHours: 1})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	signer.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := signer.Verify(token); err == nil {
		t.Fatalf("expected expired token to fail verification")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signer := NewSigner("secret-one", time.Hour, 10)
	token, _, err := signer.Mint(domain.EntitlementIssueRequest{DeviceID: "pos-counter-3"})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	other := NewSigner("secret-two", time.Hour, 10)
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("expected verification failure with wrong secret")
	}
}

func TestInspectReadsClaimsWithoutSecret(t *testing.T) {
	signer := NewSigner("server-only-secret", 12*time.Hour, 40)
	token, minted, err := signer.Mint(domain.EntitlementIssueRequest{
		DeviceID:           "pos-counter-4",
		MaxOfflineInvoices: 7,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	inspected, err := Inspect(token)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if inspected.TokenID != minted.TokenID {
		t.Fatalf("token id mismatch: %q vs %q", inspected.TokenID, minted.TokenID)
	}
	if inspected.MaxOfflineInvoices != 7 {
		t.Fatalf("max offline invoices = %d, want 7", inspected.MaxOfflineInvoices)
	}
}

func TestInspectRejectsGarbage(t *testing.T) {
	if _, err := Inspect("not-a-token"); err == nil {
		t.Fatalf("expected error for malformed token")
	}
}
