package events

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "hub-test-secret"

func signSessionToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

// unsignedToken builds a syntactically valid JWT with alg "none" and an empty
// signature.
func unsignedToken(claims string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(claims))
	return header + "." + body + "."
}

func TestHandleWebSocket_RejectsBadTokens(t *testing.T) {
	hub := NewHub(nil, testSecret)
	userID := uuid.New()

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong secret", signSessionToken(t, "other-secret", jwt.MapClaims{"user_id": userID.String()})},
		{"unsigned alg none", unsignedToken(`{"user_id":"` + userID.String() + `"}`)},
		{"missing user_id claim", signSessionToken(t, testSecret, jwt.MapClaims{"sub": "someone"})},
		{"malformed user_id claim", signSessionToken(t, testSecret, jwt.MapClaims{"user_id": "not-a-uuid"})},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+tc.token, nil)
			rr := httptest.NewRecorder()

			hub.HandleWebSocket(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", rr.Code)
			}
		})
	}
}

func TestHandleWebSocket_ValidTokenPassesAuth(t *testing.T) {
	hub := NewHub(nil, testSecret)
	token := signSessionToken(t, testSecret, jwt.MapClaims{"user_id": uuid.New().String()})

	// No Upgrade headers, so the handshake itself fails, but authentication
	// must already have succeeded.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?token="+token, nil)
	rr := httptest.NewRecorder()

	hub.HandleWebSocket(rr, req)

	if rr.Code == http.StatusUnauthorized {
		t.Fatalf("Valid token rejected with 401")
	}
}
