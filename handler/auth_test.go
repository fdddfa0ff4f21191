package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dledger/slipchain/backend/config"
)

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Auth: config.AuthConfig{JWTSecret: "test-secret", TokenExpireHours: 1},
		Users: []config.User{
			{Username: "issuer", Password: "pass123"},
		},
	}
	h := NewAuthHandler(cfg)

	router := gin.New()
	router.POST("/api/auth/login", h.Login)
	return router
}

func doLogin(t *testing.T, router *gin.Engine, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLoginSuccess(t *testing.T) {
	router := newAuthRouter()

	w := doLogin(t, router, `{"username":"issuer","password":"pass123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a token")
	}
	if resp.Username != "issuer" {
		t.Errorf("expected username issuer, got %s", resp.Username)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	router := newAuthRouter()

	w := doLogin(t, router, `{"username":"issuer","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	router := newAuthRouter()

	w := doLogin(t, router, `{"username":"nobody","password":"pass123"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestLoginMalformedBody(t *testing.T) {
	router := newAuthRouter()

	w := doLogin(t, router, `{"username":"issuer"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
