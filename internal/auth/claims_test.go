package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret-key-for-jwt-signing-32chars"

func TestSignAndParseBearer(t *testing.T) {
	s := &Session{UUID: "u-001", Token: "abc123", ExpiresAt: time.Now().Add(time.Hour)}

	signed, err := SignBearer(s, testJWTSecret)
	if err != nil {
		t.Fatalf("SignBearer() error = %v", err)
	}
	if signed == "" {
		t.Fatal("SignBearer() returned empty token")
	}

	claim, err := ParseBearer(signed, testJWTSecret)
	if err != nil {
		t.Fatalf("ParseBearer() error = %v", err)
	}
	if claim.UUID != "u-001" {
		t.Errorf("UUID = %q, want %q", claim.UUID, "u-001")
	}
	if claim.Token != "abc123" {
		t.Errorf("Token = %q, want %q", claim.Token, "abc123")
	}
}

func TestParseBearer_WrongSecret(t *testing.T) {
	s := &Session{UUID: "u-001", Token: "abc", ExpiresAt: time.Now().Add(time.Hour)}

	signed, err := SignBearer(s, testJWTSecret)
	if err != nil {
		t.Fatalf("SignBearer() error = %v", err)
	}

	_, err = ParseBearer(signed, "another-secret-key-that-is-long-enough")
	if !errors.Is(err, ErrBearerInvalid) {
		t.Errorf("ParseBearer() error = %v, want ErrBearerInvalid", err)
	}
}

func TestParseBearer_Expired(t *testing.T) {
	s := &Session{UUID: "u-001", Token: "abc", ExpiresAt: time.Now().Add(-time.Minute)}

	signed, err := SignBearer(s, testJWTSecret)
	if err != nil {
		t.Fatalf("SignBearer() error = %v", err)
	}

	if _, err := ParseBearer(signed, testJWTSecret); !errors.Is(err, ErrBearerInvalid) {
		t.Errorf("ParseBearer() error = %v, want ErrBearerInvalid", err)
	}
}

func TestParseBearer_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"garbage", func(*testing.T) string { return "not.a.jwt" }},
		{"empty", func(*testing.T) string { return "" }},
		{"none algorithm", func(t *testing.T) string {
			tok := jwt.NewWithClaims(jwt.SigningMethodNone, BearerClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "u-001",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
				Token: "abc",
			})
			s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
			if err != nil {
				t.Fatalf("SignedString() error = %v", err)
			}
			return s
		}},
		{"missing token", func(t *testing.T) string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, BearerClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   "u-001",
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			})
			s, err := tok.SignedString([]byte(testJWTSecret))
			if err != nil {
				t.Fatalf("SignedString() error = %v", err)
			}
			return s
		}},
		{"missing expiry", func(t *testing.T) string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, BearerClaims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "u-001"},
				Token:            "abc",
			})
			s, err := tok.SignedString([]byte(testJWTSecret))
			if err != nil {
				t.Fatalf("SignedString() error = %v", err)
			}
			return s
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseBearer(tt.token(t), testJWTSecret); !errors.Is(err, ErrBearerInvalid) {
				t.Errorf("ParseBearer() error = %v, want ErrBearerInvalid", err)
			}
		})
	}
}
