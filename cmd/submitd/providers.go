package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/emissions-network/submitx/pkg/utils"
)

// hmacCredentials is the default CredentialProvider: a worker address from
// config and an HMAC signer keyed from the environment. Real deployments can
// swap in a wallet-backed provider without touching the daemon.
type hmacCredentials struct {
	addr string
	key  []byte
}

func newHMACCredentials(workerAddr string) (*hmacCredentials, error) {
	raw := utils.Env("SIGNER_KEY", "")
	if raw == "" {
		return nil, fmt.Errorf("SIGNER_KEY must be set")
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode SIGNER_KEY: %w", err)
	}
	return &hmacCredentials{addr: workerAddr, key: key}, nil
}

func (c *hmacCredentials) WorkerAddress() string { return c.addr }

func (c *hmacCredentials) Sign(_ context.Context, payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// sidecarPredictor asks a local model server for the value to submit.
type sidecarPredictor struct {
	url    string
	client *http.Client
}

func newSidecarPredictor(timeout time.Duration) (*sidecarPredictor, error) {
	url := utils.Env("PREDICTOR_URL", "")
	if url == "" {
		return nil, fmt.Errorf("PREDICTOR_URL must be set")
	}
	return &sidecarPredictor{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (p *sidecarPredictor) Predict(ctx context.Context, topicID, nonce uint64) (float64, error) {
	body, err := json.Marshal(map[string]uint64{"topic_id": topicID, "nonce": nonce})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("predictor: %w", err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("predictor: http %d", resp.StatusCode)
	}
	var out struct {
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("predictor: decode: %w", err)
	}
	return out.Value, nil
}
