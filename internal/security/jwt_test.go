package security

import (
	"testing"
	"time"
)

func TestSignAndParseUserToken(t *testing.T) {
	token, errSign := SignUserToken("test-secret", 42, "user@example.com", time.Hour)
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}

	claims, errParse := ParseUserToken("test-secret", token)
	if errParse != nil {
		t.Fatalf("parse: %v", errParse)
	}
	if claims.UserID != 42 {
		t.Fatalf("expected user id 42, got %d", claims.UserID)
	}
	if claims.Email != "user@example.com" {
		t.Fatalf("expected email to round-trip, got %q", claims.Email)
	}
}

func TestParseUserToken_WrongSecret(t *testing.T) {
	token, errSign := SignUserToken("test-secret", 42, "user@example.com", time.Hour)
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}
	if _, errParse := ParseUserToken("other-secret", token); errParse == nil {
		t.Fatalf("expected error for wrong secret")
	}
}

func TestParseAdminToken_Expired(t *testing.T) {
	token, errSign := SignAdminToken("test-secret", 7, "root", -time.Minute)
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}
	if _, errParse := ParseAdminToken("test-secret", token); errParse == nil {
		t.Fatalf("expected error for expired token")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hashed, errHash := HashPassword("hunter22")
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	if !CheckPassword(hashed, "hunter22") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hashed, "hunter23") {
		t.Fatalf("expected mismatch for wrong password")
	}
}
