package auth

import (
	"testing"
	"time"
)

func TestSignAndParse(t *testing.T) {
	tok, err := SignJWTWithRole(42, RoleModerator, "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := ParseJWT(tok, "s3cret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != 42 || claims.Role != RoleModerator {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParse_Rejects(t *testing.T) {
	good, _ := SignJWT(7, "s3cret", time.Hour)
	expired, _ := SignJWT(7, "s3cret", -time.Minute)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", good, "other"},
		{"expired", expired, "s3cret"},
		{"garbage", "not-a-jwt", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseJWT(tt.token, tt.secret); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
