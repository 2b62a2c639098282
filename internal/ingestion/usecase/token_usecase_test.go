package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"talent-inbox/internal/ingestion/domain"

	"golang.org/x/oauth2"
)

func TestRefreshExpiringTokens(t *testing.T) {
	h := newHarness(t)
	soon := time.Now().Add(20 * time.Minute)
	later := time.Now().Add(3 * time.Hour)

	if err := h.connections.UpdateTokens(h.conn.ID, &oauth2.Token{AccessToken: "old", Expiry: soon}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	fresh := &domain.MailboxConnection{
		TenantID:     "tenant-1",
		Provider:     domain.ProviderGmail,
		EmailAddress: "careers@acme.com",
		AccessToken:  "a",
		RefreshToken: "r",
		TokenExpiry:  &later,
		IsActive:     true,
	}
	if err := h.connections.Create(fresh); err != nil {
		t.Fatalf("create: %v", err)
	}

	newExpiry := time.Now().Add(time.Hour).Truncate(time.Second)
	h.mailbox.refreshToken = &oauth2.Token{AccessToken: "new-access", Expiry: newExpiry}

	uc := NewTokenUsecase(h.connections, NewProviders(h.mailbox), time.Hour, nil)
	refreshed, failed, err := uc.RefreshExpiring(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed != 1 || failed != 0 || h.mailbox.refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh, got refreshed=%d failed=%d calls=%d", refreshed, failed, h.mailbox.refreshCalls)
	}

	conn := h.reload(t)
	if conn.AccessToken != "new-access" || conn.RefreshToken != "refresh" {
		t.Fatalf("unexpected tokens %q / %q", conn.AccessToken, conn.RefreshToken)
	}
	if conn.TokenExpiry == nil || !conn.TokenExpiry.Equal(newExpiry) {
		t.Fatalf("expiry not updated: %v", conn.TokenExpiry)
	}
}

func TestRevokedRefreshTokenDeactivatesConnection(t *testing.T) {
	h := newHarness(t)
	soon := time.Now().Add(10 * time.Minute)
	if err := h.connections.UpdateTokens(h.conn.ID, &oauth2.Token{AccessToken: "old", Expiry: soon}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	h.mailbox.refreshErr = fmt.Errorf("refresh: %w", domain.ErrReauthRequired)

	uc := NewTokenUsecase(h.connections, NewProviders(h.mailbox), time.Hour, nil)
	refreshed, failed, err := uc.RefreshExpiring(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed != 0 || failed != 1 {
		t.Fatalf("expected one failure, got refreshed=%d failed=%d", refreshed, failed)
	}
	if conn := h.reload(t); conn.IsActive {
		t.Fatalf("revoked connection should be deactivated")
	}
}
