package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewService("test-secret-1234567890", time.Hour)

	token, err := svc.GenerateToken(42, "alice")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("claims.UserID = %d, want 42", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Fatalf("claims.Username = %q, want %q", claims.Username, "alice")
	}
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewService("test-secret-1234567890", -time.Minute)

	token, err := svc.GenerateToken(7, "expired")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	_, err = svc.ValidateToken(token)
	if err != ErrTokenExpired {
		t.Fatalf("ValidateToken error = %v, want %v", err, ErrTokenExpired)
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	svc := NewService("test-secret-1234567890", time.Hour)

	hash, err := svc.HashPassword("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if err := svc.CheckPassword(hash, "correct-horse-battery-staple"); err != nil {
		t.Fatalf("CheckPassword(valid): %v", err)
	}

	if err := svc.CheckPassword(hash, "wrong-password"); err != ErrInvalidCredentials {
		t.Fatalf("CheckPassword(invalid) error = %v, want %v", err, ErrInvalidCredentials)
	}
}

func TestValidateTokenRejectsTamperedSignature(t *testing.T) {
	signer := NewService("shared-secret-1234567890", time.Hour)
	verifier := NewService("shared-secret-1234567890", time.Hour)

	token, err := signer.GenerateToken(1, "carol")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err != nil {
		t.Fatalf("ValidateToken(own issuer): %v", err)
	}

	tampered := token[:len(token)-1] + "x"
	if _, err := verifier.ValidateToken(tampered); err != ErrInvalidToken {
		t.Fatalf("ValidateToken(tampered signature) error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	signer := NewService("secret-a-1234567890", time.Hour)
	verifier := NewService("secret-b-1234567890", time.Hour)

	token, err := signer.GenerateToken(9, "dave")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err != ErrInvalidToken {
		t.Fatalf("ValidateToken(wrong secret) error = %v, want %v", err, ErrInvalidToken)
	}
}
