package session

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier(testSecret)

	id, err := v.Verify(signToken(t, testSecret, "user-42"))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "user-42" {
		t.Errorf("UserID = %q, want user-42", id.UserID)
	}
	if id.Token == "" {
		t.Error("Token should be preserved for upstream forwarding")
	}
}

func TestVerify_Failures(t *testing.T) {
	v := NewVerifier(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", signToken(t, "other-secret", "user-42")},
		{"no subject", signToken(t, testSecret, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.token); err == nil {
				t.Error("Verify() = nil, want error")
			}
		})
	}
}

func TestVerify_RejectsUnsignedAlg(t *testing.T) {
	v := NewVerifier(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-42"})
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := v.Verify(s); err == nil {
		t.Error("alg=none token must be rejected")
	}
}

func TestFromRequest(t *testing.T) {
	v := NewVerifier(testSecret)
	valid := signToken(t, testSecret, "user-42")

	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{"valid bearer", "Bearer " + valid, false},
		{"lowercase scheme", "bearer " + valid, false},
		{"missing header", "", true},
		{"wrong scheme", "Basic " + valid, true},
		{"no token", "Bearer", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/portfolio/summary", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			id, err := v.FromRequest(r)
			if tt.wantErr {
				if err == nil {
					t.Error("FromRequest() = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FromRequest() error = %v", err)
			}
			if id.UserID != "user-42" {
				t.Errorf("UserID = %q", id.UserID)
			}
		})
	}
}
