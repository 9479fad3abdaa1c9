package auth_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/agroms/internal/auth"
)

const testKeyHex = "707172737475767778797a7b7c7d7e7f808182838485868788898a8b8c8d8e8f"

func TestRoleCapabilities(t *testing.T) {
	cases := []struct {
		name    string
		roles   []string
		allowed []auth.Capability
		denied  []auth.Capability
	}{
		{
			name:    "admin has everything",
			roles:   []string{auth.RoleAdmin},
			allowed: []auth.Capability{auth.CapCustomerWrite, auth.CapSaleCreate, auth.CapPaymentRecord, auth.CapProductWrite, auth.CapMovementWrite, auth.CapLedgerWrite, auth.CapTaxReport},
		},
		{
			name:    "gestionnaire cannot post ledger entries",
			roles:   []string{auth.RoleGestionnaire},
			allowed: []auth.Capability{auth.CapCustomerWrite, auth.CapSaleCreate, auth.CapProductWrite, auth.CapTaxReport},
			denied:  []auth.Capability{auth.CapLedgerWrite},
		},
		{
			name:    "agent terrain sells and moves stock only",
			roles:   []string{auth.RoleAgentTerrain},
			allowed: []auth.Capability{auth.CapSaleCreate, auth.CapMovementWrite},
			denied:  []auth.Capability{auth.CapCustomerWrite, auth.CapPaymentRecord, auth.CapLedgerWrite, auth.CapTaxReport},
		},
		{
			name:    "comptable works with money",
			roles:   []string{auth.RoleComptable},
			allowed: []auth.Capability{auth.CapPaymentRecord, auth.CapLedgerWrite, auth.CapTaxReport},
			denied:  []auth.Capability{auth.CapSaleCreate, auth.CapProductWrite},
		},
		{
			name:    "roles union",
			roles:   []string{auth.RoleAgentTerrain, auth.RoleComptable},
			allowed: []auth.Capability{auth.CapSaleCreate, auth.CapMovementWrite, auth.CapLedgerWrite},
			denied:  []auth.Capability{auth.CapCustomerWrite},
		},
		{
			name:   "unknown role grants nothing",
			roles:  []string{"stagiaire"},
			denied: []auth.Capability{auth.CapSaleCreate, auth.CapTaxReport},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := auth.NewClaims("user-1", "amina", tc.roles)
			for _, capability := range tc.allowed {
				if !claims.Can(capability) {
					t.Fatalf("expected %v to allow %s", tc.roles, capability)
				}
			}
			for _, capability := range tc.denied {
				if claims.Can(capability) {
					t.Fatalf("expected %v to deny %s", tc.roles, capability)
				}
			}
		})
	}
}

func TestVerifier_IssueAndVerify(t *testing.T) {
	verifier, err := auth.NewVerifier(testKeyHex)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	token, err := verifier.Issue("user-1", "amina", []string{auth.RoleGestionnaire}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "amina" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.Can(auth.CapSaleCreate) || claims.Can(auth.CapLedgerWrite) {
		t.Fatalf("capabilities do not match gestionnaire role")
	}
}

func TestVerifier_RejectsBadTokens(t *testing.T) {
	verifier, err := auth.NewVerifier(testKeyHex)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	if _, err := verifier.Verify("v4.local.garbage"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	expired, err := verifier.Issue("user-1", "amina", []string{auth.RoleAdmin}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := verifier.Verify(expired); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	// Токен, выпущенный под другим ключом, не проходит проверку.
	otherKey := strings.Repeat("ff", 32)
	other, err := auth.NewVerifier(otherKey)
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}
	foreign, err := other.Issue("user-1", "amina", []string{auth.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := verifier.Verify(foreign); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected foreign token to be rejected, got %v", err)
	}
}

func TestNewVerifier_RejectsBadKeys(t *testing.T) {
	cases := []struct {
		name string
		key  string
	}{
		{name: "empty", key: ""},
		{name: "not hex", key: "zz"},
		{name: "too short", key: "abcd"},
		{name: "too long", key: strings.Repeat("ab", 40)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.NewVerifier(tc.key); !errors.Is(err, auth.ErrInvalidKey) {
				t.Fatalf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}
