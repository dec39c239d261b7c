// internal/provider/chat/adapter.go
// Package chat integrates the conversational messaging provider over its
// HTTP API. Webhook callbacks carry an HMAC-SHA256 signature header.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"notification-engine/internal/common/httpclient"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
)

// Adapter sends conversational messages through the provider's REST API.
// The underlying HTTP client pools connections and is safe for concurrent
// use by multiple dispatcher workers.
type Adapter struct {
	client        *httpclient.Client
	baseURL       string
	apiKey        string
	webhookSecret []byte
}

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

func NewAdapter(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Adapter{
		client:        httpclient.NewClient(timeout),
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		webhookSecret: []byte(cfg.WebhookSecret),
	}
}

func (a *Adapter) Channel() models.Channel {
	return models.ChannelChat
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

func (a *Adapter) Send(ctx context.Context, recipient string, msg *models.RenderedMessage) (*provider.SendResult, error) {
	body, err := json.Marshal(sendRequest{To: recipient, Text: msg.Body})
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.DoWithContext(ctx, req)
	if err != nil {
		// Network failure or timeout: retryable.
		return &provider.SendResult{
			Success:     false,
			ErrorKind:   provider.ErrorTransient,
			ErrorDetail: err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed sendResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.MessageID == "" {
			return &provider.SendResult{
				Success:     false,
				ErrorKind:   provider.ErrorTransient,
				ErrorDetail: fmt.Sprintf("provider returned %d with unreadable body", resp.StatusCode),
			}, nil
		}
		return &provider.SendResult{
			Success:           true,
			ProviderMessageID: parsed.MessageID,
		}, nil
	}

	return classifyHTTPError(resp, respBody), nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequest(http.MethodGet, a.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.DoWithContext(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat provider health check returned %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) VerifyInboundSignature(rawPayload []byte, signatureHeader string) bool {
	return provider.VerifyHMACSignature(a.webhookSecret, rawPayload, signatureHeader)
}

// classifyHTTPError maps provider HTTP status codes into the uniform taxonomy.
func classifyHTTPError(resp *http.Response, body []byte) *provider.SendResult {
	result := &provider.SendResult{
		Success:     false,
		ErrorDetail: fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(body, 256)),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		result.ErrorKind = provider.ErrorRateLimited
		result.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		result.ErrorKind = provider.ErrorUnauthenticated
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Bad recipient, unsupported content: retrying cannot help.
		result.ErrorKind = provider.ErrorPermanent
	default:
		result.ErrorKind = provider.ErrorTransient
	}
	return result
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
