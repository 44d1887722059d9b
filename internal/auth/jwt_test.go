package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, expiresAt, err := m.GenerateToken("operator", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("Unexpected expiry %v", expiresAt)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Username != "operator" || claims.Role != RoleAdmin {
		t.Errorf("Unexpected claims %+v", claims)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	token, _, err := NewManager("secret-a", time.Hour).GenerateToken("u", RoleUser)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := NewManager("secret-b", time.Hour).ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidate_Expired(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	m.expiry = -time.Minute

	token, _, err := m.GenerateToken("u", RoleUser)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := m.ValidateToken(token); err != ErrExpiredToken {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestValidate_Garbage(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	if _, err := m.ValidateToken("not-a-token"); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Error("Expected claims in context")
		} else if claims.Username != "operator" {
			t.Errorf("Unexpected username %s", claims.Username)
		}
		w.WriteHeader(http.StatusOK)
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}

	// Valid token.
	token, _, _ := m.GenerateToken("operator", RoleUser)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	handler := m.Middleware(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	userToken, _, _ := m.GenerateToken("viewer", RoleUser)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for user role, got %d", rec.Code)
	}

	adminToken, _, _ := m.GenerateToken("operator", RoleAdmin)
	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for admin role, got %d", rec.Code)
	}
}
