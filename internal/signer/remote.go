package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// RemoteSigner signs through a KMS-style signing service over HTTPS. The
// service holds the sponsor key; this client only ever sees signed bytes.
type RemoteSigner struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	address    string
}

// RemoteConfig holds remote signer configuration.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type signRequest struct {
	// Txn is the base64 of the msgpack-encoded unsigned transaction.
	Txn string `json:"txn"`
}

type signResponse struct {
	TxID      string `json:"txid"`
	SignedTxn string `json:"signed_txn"` // base64 msgpack
}

type addressResponse struct {
	Address string `json:"address"`
}

// NewRemoteSigner creates the client and resolves the service's address.
func NewRemoteSigner(cfg RemoteConfig) (*RemoteSigner, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote signer URL required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	s := &RemoteSigner{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}

	addr, err := s.fetchAddress(context.Background())
	if err != nil {
		return nil, fmt.Errorf("resolve signer address: %w", err)
	}
	s.address = addr
	return s, nil
}

// Address returns the sponsor address reported by the signing service.
func (s *RemoteSigner) Address() string { return s.address }

// Sign sends the unsigned transaction to the service and returns the signed bytes.
func (s *RemoteSigner) Sign(ctx context.Context, txn types.Transaction) (string, []byte, error) {
	reqBody := signRequest{Txn: base64.StdEncoding.EncodeToString(msgpack.Encode(txn))}

	var resp signResponse
	if err := s.post(ctx, "/v1/sign", reqBody, &resp); err != nil {
		return "", nil, err
	}

	stx, err := base64.StdEncoding.DecodeString(resp.SignedTxn)
	if err != nil {
		return "", nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return resp.TxID, stx, nil
}

func (s *RemoteSigner) fetchAddress(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/address", nil)
	if err != nil {
		return "", err
	}
	s.auth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("signer address request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ar addressResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", fmt.Errorf("decode address response: %w", err)
	}
	if _, err := types.DecodeAddress(ar.Address); err != nil {
		return "", fmt.Errorf("signer reported invalid address %q: %w", ar.Address, err)
	}
	return ar.Address, nil
}

func (s *RemoteSigner) post(ctx context.Context, path string, body, target interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.auth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("signer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode signer response: %w", err)
	}
	return nil
}

func (s *RemoteSigner) auth(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}
}
