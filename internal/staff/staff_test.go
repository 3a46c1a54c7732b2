package staff

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/SlpAus/agm-voting-backend/internal/platform/config"
)

func newAuth(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return NewAuthenticator(config.StaffConfig{
		JWTSecret: "jwt-secret",
		TokenTTL:  time.Hour,
		Accounts:  []config.StaffAccount{{Username: "chair", PasswordHash: string(hash)}},
	})
}

func TestLoginAndVerify(t *testing.T) {
	a := newAuth(t)

	tok, expires, err := a.Login("chair", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiry, got %v", expires)
	}
	if user, err := a.Verify(tok); err != nil || user != "chair" {
		t.Fatalf("expected chair, got %q %v", user, err)
	}

	if _, _, err := a.Login("chair", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := a.Login("ghost", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	a := newAuth(t)
	tok, _, err := a.Issue("chair")
	if err != nil {
		t.Fatal(err)
	}

	other := NewAuthenticator(config.StaffConfig{JWTSecret: "other-secret"})
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := a.Verify(tok + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := a.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")) != nil {
		t.Fatal("hash does not match")
	}
}

func TestRequireStaffOverHTTP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(newAuth(t), nil)
	r := gin.New()
	r.POST("/api/staff/login", h.Login)
	r.GET("/admin", h.RequireStaff(), func(c *gin.Context) { c.String(http.StatusOK, c.GetString(UsernameKey)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	body, _ := json.Marshal(map[string]string{"username": "chair", "password": "hunter2"})
	req := httptest.NewRequest(http.MethodPost, "/api/staff/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp struct {
		Token string `json:"token"`
	}
	if w.Code != http.StatusOK || json.Unmarshal(w.Body.Bytes(), &resp) != nil || resp.Token == "" {
		t.Fatalf("login failed: %d %s", w.Code, w.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "chair" {
		t.Fatalf("expected access as chair, got %d %q", w.Code, w.Body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin?token="+resp.Token, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected query token accepted, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/staff/login", bytes.NewReader([]byte(`{"username":"chair","password":"nope"}`)))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
