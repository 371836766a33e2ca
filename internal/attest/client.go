// Package attest talks to the remote attestation oracle and provides
// the signing and verifier-encryption capabilities used by sync.
package attest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"shieldd/internal/config"
	"shieldd/internal/logging"
)

// maxTokenResponse bounds the oracle response body.
const maxTokenResponse = 64 * 1024

// ErrNoOracle indicates no oracle endpoint is configured.
var ErrNoOracle = errors.New("attest: no oracle endpoint configured")

// TokenResult is the outcome of one token request. A failed request
// carries Err and an empty token; the evaluator treats that as token
// absence, never as a fatal condition.
type TokenResult struct {
	Token string
	Err   error
}

// Present reports whether a usable token was obtained.
func (r TokenResult) Present() bool {
	return r.Err == nil && r.Token != ""
}

// Client requests integrity tokens from the oracle.
type Client struct {
	url    string
	client *http.Client
	log    *logging.Logger
}

// NewClient builds a client for the configured oracle endpoint.
func NewClient(cfg config.AttestationConfig, log *logging.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		url:    cfg.OracleURL,
		client: &http.Client{Timeout: timeout},
		log:    log.WithComponent("attest"),
	}
}

type tokenRequest struct {
	ContextBinding string `json:"context_binding"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// RequestToken asks the oracle for a fresh integrity token. The
// request carries an unpredictable context binding so a captured
// response cannot be replayed. All failures resolve into the result;
// this never panics and may be called repeatedly.
func (c *Client) RequestToken(ctx context.Context) TokenResult {
	if c.url == "" {
		return TokenResult{Err: ErrNoOracle}
	}

	binding := fmt.Sprintf("%s.%d", uuid.NewString(), time.Now().UnixNano())

	body, err := json.Marshal(tokenRequest{ContextBinding: binding})
	if err != nil {
		return TokenResult{Err: fmt.Errorf("attest: encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return TokenResult{Err: fmt.Errorf("attest: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("token request failed", "error", err)
		return TokenResult{Err: fmt.Errorf("attest: oracle request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxTokenResponse))
		c.log.Warn("oracle rejected token request", "status", resp.StatusCode)
		return TokenResult{Err: fmt.Errorf("attest: oracle returned %d", resp.StatusCode)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponse)).Decode(&tr); err != nil {
		return TokenResult{Err: fmt.Errorf("attest: decode response: %w", err)}
	}
	if tr.Token == "" {
		return TokenResult{Err: errors.New("attest: oracle returned empty token")}
	}

	c.log.Debug("integrity token obtained")
	return TokenResult{Token: tr.Token}
}
