package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/barberdeskapp/barberdesk-backend/pkg/config"
	"github.com/barberdeskapp/barberdesk-backend/pkg/enums"
	"github.com/google/uuid"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "barberdesk",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()
	subjectID := uuid.New()

	payload := AccessTokenPayload{
		SubjectID:   subjectID,
		Role:        enums.ConnectionRoleWorker,
		TopicScopes: []string{"tickets.assigned", "workers.availability"},
		CanWrite:    true,
	}

	token, err := MintAccessToken(cfg, now, payload)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}

	if claims.SubjectID != subjectID {
		t.Fatalf("expected subject_id %s, got %s", subjectID, claims.SubjectID)
	}
	if claims.Role != enums.ConnectionRoleWorker {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if !claims.CanWrite {
		t.Fatal("can_write not preserved")
	}
	if !claims.HasTopicScope("tickets.assigned") {
		t.Fatal("granted topic scope missing")
	}
	if claims.HasTopicScope("tickets.created") {
		t.Fatal("ungranted topic scope should be denied")
	}
	if claims.ID == "" {
		t.Fatal("expected generated jti")
	}
}

func TestParseAccessTokenRejectsBadIssuer(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().UTC(), AccessTokenPayload{
		SubjectID: uuid.New(),
		Role:      enums.ConnectionRoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	other := cfg
	other.Issuer = "someone-else"
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatal("expected issuer mismatch to fail")
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().UTC().Add(-2*time.Hour), AccessTokenPayload{
		SubjectID: uuid.New(),
		Role:      enums.ConnectionRolePublic,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiration error, got %v", err)
	}
}

func TestMintAccessTokenValidatesInputs(t *testing.T) {
	cfg := testJWTConfig()
	if _, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: "stylist"}); err == nil {
		t.Fatal("expected invalid role to fail")
	}
	cfg.Secret = ""
	if _, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: enums.ConnectionRoleAdmin}); err == nil {
		t.Fatal("expected missing secret to fail")
	}
}

func TestWildcardTopicScope(t *testing.T) {
	claims := &AccessTokenClaims{TopicScopes: []string{"*"}}
	if !claims.HasTopicScope("tickets.completed") {
		t.Fatal("wildcard scope should grant every topic")
	}
}
