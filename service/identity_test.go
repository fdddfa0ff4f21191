package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dledger/slipchain/backend/config"
)

func newTestResolver(url string) *IdentityService {
	return NewIdentityService(&config.IdentityConfig{APIURL: url, APIKey: "test-key"})
}

func TestResolveSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts:lookup" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("api key not sent")
		}

		var req identityLookupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		if len(req.Email) != 1 || req.Email[0] != "buyer@example.com" {
			t.Errorf("unexpected lookup payload %v", req.Email)
		}

		w.Write([]byte(`{"users":[{"localId":"uid-123","email":"buyer@example.com"}]}`))
	}))
	defer server.Close()

	ownerID, err := newTestResolver(server.URL).Resolve(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ownerID != "uid-123" {
		t.Errorf("expected uid-123, got %s", ownerID)
	}
}

func TestResolveUnknownEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"users":[]}`))
	}))
	defer server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestResolveServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "buyer@example.com")
	if !errors.Is(err, ErrIdentityLookup) {
		t.Errorf("expected ErrIdentityLookup, got %v", err)
	}
}

func TestResolveUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := newTestResolver(server.URL).Resolve(context.Background(), "buyer@example.com")
	if !errors.Is(err, ErrIdentityLookup) {
		t.Errorf("expected ErrIdentityLookup, got %v", err)
	}
}
