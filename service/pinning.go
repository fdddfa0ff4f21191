package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/dledger/slipchain/backend/config"
	"github.com/ipfs/go-cid"
)

// PinningService uploads documents to the pinning API and returns their
// content identifier. Failures are terminal for the request; there is no
// retry and no delete contract, so a pinned blob is never rolled back.
type PinningService struct {
	config     *config.PinningConfig
	httpClient *http.Client
}

// pinResponse is the JSON body returned by pinFileToIPFS
type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func NewPinningService(cfg *config.PinningConfig) *PinningService {
	return &PinningService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Pin stages content in a temporary file, streams it to the pinning API
// and returns the content identifier. The temp file is removed on every
// exit path.
func (s *PinningService) Pin(ctx context.Context, content []byte, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "slip-*")
	if err != nil {
		return "", fmt.Errorf("%w: staging file: %v", ErrUpload, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("%w: staging write: %v", ErrUpload, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: staging seek: %v", ErrUpload, err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if _, err := io.Copy(part, tmp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.APIURL+"/pinning/pinFileToIPFS", &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("pinata_api_key", s.config.APIKey)
	req.Header.Set("pinata_secret_api_key", s.config.APISecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrUpload, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrUpload, resp.StatusCode, string(respBody))
	}

	var result pinResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("%w: parsing response: %v", ErrUpload, err)
	}
	if result.IpfsHash == "" {
		return "", fmt.Errorf("%w: response missing IpfsHash", ErrUpload)
	}

	// The rest of the pipeline keys on this hash; refuse anything that
	// is not a parseable CID.
	if _, err := cid.Decode(result.IpfsHash); err != nil {
		return "", fmt.Errorf("%w: malformed content id %q: %v", ErrUpload, result.IpfsHash, err)
	}

	return result.IpfsHash, nil
}
