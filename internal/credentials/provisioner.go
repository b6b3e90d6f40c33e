// Package credentials provisions the short-lived access token the harness
// uses for authenticated requests through the router. The token is held in
// memory for the session and is never persisted or logged in full.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"routercheck/pkg/logging"
)

// issuanceTimeout bounds the key-issuance call.
const issuanceTimeout = 5 * time.Second

// ProvisioningError reports a failed token issuance. Provisioning failures
// are fatal to the session: without a credential no managed-auth test can run.
type ProvisioningError struct {
	URL    string
	Status int
	Reason string
}

func (e *ProvisioningError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("key issuance at %s failed: %d %s", e.URL, e.Status, e.Reason)
	}
	return fmt.Sprintf("key issuance at %s failed: %s", e.URL, e.Reason)
}

// AccessToken is an ephemeral credential issued by the running router. It is
// implicitly invalidated when the router stops.
type AccessToken struct {
	Token string
	Label string
	TTL   time.Duration
}

// Redacted returns a prefix-only form safe for diagnostics.
func (t *AccessToken) Redacted() string {
	if t == nil || t.Token == "" {
		return "<none>"
	}
	const visible = 8
	if len(t.Token) <= visible {
		return t.Token[:1] + "..."
	}
	return t.Token[:visible] + "..."
}

// String implements fmt.Stringer with the redacted form so accidental
// formatting of the token cannot leak it.
func (t *AccessToken) String() string {
	return t.Redacted()
}

type generateRequest struct {
	Label      string `json:"label"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type generateResponse struct {
	Token string `json:"token"`
}

// Provision requests a token from {base}/keys/generate. A non-200 answer or a
// response without a token field fails with *ProvisioningError.
func Provision(ctx context.Context, baseURL, label string, ttl time.Duration) (*AccessToken, error) {
	url := strings.TrimRight(baseURL, "/") + "/keys/generate"

	body, err := json.Marshal(generateRequest{Label: label, TTLSeconds: int(ttl.Seconds())})
	if err != nil {
		return nil, fmt.Errorf("failed to encode key request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build key request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: issuanceTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ProvisioningError{URL: url, Reason: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProvisioningError{URL: url, Reason: fmt.Sprintf("failed to read response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProvisioningError{URL: url, Status: resp.StatusCode, Reason: string(respBody)}
	}

	var keyData generateResponse
	if err := json.Unmarshal(respBody, &keyData); err != nil {
		return nil, &ProvisioningError{URL: url, Reason: fmt.Sprintf("unparseable response: %v", err)}
	}
	if keyData.Token == "" {
		return nil, &ProvisioningError{URL: url, Reason: "no token in response"}
	}

	token := &AccessToken{Token: keyData.Token, Label: label, TTL: ttl}
	logging.Info("Credentials", "provisioned access token %s (label %q, ttl %s)", token.Redacted(), label, ttl)
	return token, nil
}
