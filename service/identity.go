package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dledger/slipchain/backend/config"
)

// IdentityResolver maps an account email to an opaque owner id. The
// production implementation talks to the external auth service; tests
// substitute a stub.
type IdentityResolver interface {
	Resolve(ctx context.Context, email string) (string, error)
}

// IdentityService resolves emails through an identity-toolkit style
// lookup endpoint.
type IdentityService struct {
	config     *config.IdentityConfig
	httpClient *http.Client
}

type identityLookupRequest struct {
	Email []string `json:"email"`
}

type identityLookupResponse struct {
	Users []struct {
		LocalID string `json:"localId"`
		Email   string `json:"email"`
	} `json:"users"`
}

func NewIdentityService(cfg *config.IdentityConfig) *IdentityService {
	return &IdentityService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Resolve looks up the owner id for an email. Unknown emails yield
// ErrIdentityNotFound; anything else wrong with the call is
// ErrIdentityLookup.
func (s *IdentityService) Resolve(ctx context.Context, email string) (string, error) {
	payload, err := json.Marshal(identityLookupRequest{Email: []string{email}})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityLookup, err)
	}

	url := fmt.Sprintf("%s/v1/accounts:lookup?key=%s", s.config.APIURL, s.config.APIKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityLookup, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityLookup, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrIdentityLookup, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrIdentityNotFound, email)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrIdentityLookup, resp.StatusCode, string(body))
	}

	var result identityLookupResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", ErrIdentityLookup, err)
	}
	if len(result.Users) == 0 {
		return "", fmt.Errorf("%w: %s", ErrIdentityNotFound, email)
	}

	return result.Users[0].LocalID, nil
}
