package security

import (
	"errors"
	"testing"
	"time"
)

func TestMintAndParseSessionToken(t *testing.T) {
	m := NewTokenManager("trustcore-test", "test-secret", "test-pepper")

	token, tokenHash, err := m.MintSessionToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := m.ParseSessionToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject %q, want user-1", claims.Subject)
	}
	if claims.TokenType != "session" {
		t.Fatalf("token type %q, want session", claims.TokenType)
	}
	if m.HashTokenID(claims.ID) != tokenHash {
		t.Fatal("jti hash does not match the hash returned at mint time")
	}
}

func TestParseSessionTokenRejections(t *testing.T) {
	m := NewTokenManager("trustcore-test", "test-secret", "test-pepper")

	if _, err := m.ParseSessionToken("not-a-jwt"); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("garbage token: got %v, want ErrInvalidSessionToken", err)
	}

	otherSecret := NewTokenManager("trustcore-test", "other-secret", "test-pepper")
	token, _, err := otherSecret.MintSessionToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.ParseSessionToken(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("wrong secret: got %v, want ErrInvalidSessionToken", err)
	}

	otherIssuer := NewTokenManager("someone-else", "test-secret", "test-pepper")
	token, _, err = otherIssuer.MintSessionToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := m.ParseSessionToken(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("wrong issuer: got %v, want ErrInvalidSessionToken", err)
	}

	expired, _, err := m.MintSessionToken("user-1", -time.Minute)
	if err != nil {
		t.Fatalf("mint expired: %v", err)
	}
	if _, err := m.ParseSessionToken(expired); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expired token: got %v, want ErrInvalidSessionToken", err)
	}
}

func TestHashTokenIDUsesPepper(t *testing.T) {
	a := NewTokenManager("iss", "secret", "pepper-a")
	b := NewTokenManager("iss", "secret", "pepper-b")
	if a.HashTokenID("jti-1") == b.HashTokenID("jti-1") {
		t.Fatal("different peppers produced the same hash")
	}
	if a.HashTokenID("jti-1") != a.HashTokenID("jti-1") {
		t.Fatal("hash is not deterministic")
	}
}
