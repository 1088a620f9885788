package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const SignatureHeader = "X-Signature"

type WebhookClient struct {
	url    string
	secret []byte
	client *http.Client
}

type Option func(*WebhookClient)

// WithSecret signs every request body with HMAC-SHA256.
func WithSecret(secret string) Option {
	return func(c *WebhookClient) {
		if secret != "" {
			c.secret = []byte(secret)
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *WebhookClient) {
		c.client = hc
	}
}

func NewWebhookClient(url string, opts ...Option) *WebhookClient {
	c := &WebhookClient{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Payload is the body posted to the provider webhook.
type Payload struct {
	Recipient   string `json:"recipient"`
	Message     string `json:"message"`
	MessageType string `json:"messageType,omitempty"`
	Template    string `json:"template,omitempty"`
}

type sendResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
}

// Deliver posts p and returns the provider's message id. 200 and 202 count
// as accepted.
func (c *WebhookClient) Deliver(ctx context.Context, p Payload) (string, error) {
	reqBody, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(c.secret, reqBody))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("missing messageId in response body=%q", string(body))
	}

	return sr.MessageID, nil
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
