// internal/provider/chat/adapter_test.go
package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"notification-engine/internal/models"
	"notification-engine/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	ts := httptest.NewServer(handler)
	adapter := NewAdapter(Config{
		BaseURL:       ts.URL,
		APIKey:        "api-key",
		WebhookSecret: "secret",
		Timeout:       2 * time.Second,
	})
	return adapter, ts
}

func TestSendSuccess(t *testing.T) {
	var gotAuth string
	var gotReq sendRequest

	adapter, ts := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(sendResponse{MessageID: "chat-123"})
	})
	defer ts.Close()

	result, err := adapter.Send(context.Background(), "user-42", &models.RenderedMessage{Body: "See you at 3pm."})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "chat-123", result.ProviderMessageID)
	assert.Equal(t, "Bearer api-key", gotAuth)
	assert.Equal(t, sendRequest{To: "user-42", Text: "See you at 3pm."}, gotReq)
}

func TestSendStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind provider.ErrorKind
	}{
		{"bad request is permanent", http.StatusBadRequest, provider.ErrorPermanent},
		{"unknown recipient is permanent", http.StatusNotFound, provider.ErrorPermanent},
		{"unauthorized", http.StatusUnauthorized, provider.ErrorUnauthenticated},
		{"forbidden", http.StatusForbidden, provider.ErrorUnauthenticated},
		{"server error is transient", http.StatusInternalServerError, provider.ErrorTransient},
		{"bad gateway is transient", http.StatusBadGateway, provider.ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, ts := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			defer ts.Close()

			result, err := adapter.Send(context.Background(), "user-42", &models.RenderedMessage{Body: "hi"})
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantKind, result.ErrorKind)
		})
	}
}

func TestSendRateLimitedWithRetryAfter(t *testing.T) {
	adapter, ts := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer ts.Close()

	result, err := adapter.Send(context.Background(), "user-42", &models.RenderedMessage{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, provider.ErrorRateLimited, result.ErrorKind)
	assert.Equal(t, 42*time.Second, result.RetryAfter)
}

func TestSendSuccessWithoutMessageIDIsTransient(t *testing.T) {
	adapter, ts := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	defer ts.Close()

	result, err := adapter.Send(context.Background(), "user-42", &models.RenderedMessage{Body: "hi"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, provider.ErrorTransient, result.ErrorKind)
}

func TestSendNetworkFailureIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // refuse connections

	adapter := NewAdapter(Config{BaseURL: ts.URL, APIKey: "api-key", Timeout: time.Second})
	result, err := adapter.Send(context.Background(), "user-42", &models.RenderedMessage{Body: "hi"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, provider.ErrorTransient, result.ErrorKind)
}

func TestHealthCheck(t *testing.T) {
	adapter, ts := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	defer ts.Close()
	assert.NoError(t, adapter.HealthCheck(context.Background()))

	down, ts2 := newTestAdapter(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer ts2.Close()
	assert.Error(t, down.HealthCheck(context.Background()))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 30*time.Second, parseRetryAfter("30"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("not-a-number"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5"))
}
