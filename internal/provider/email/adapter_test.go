// internal/provider/email/adapter_test.go
package email

import (
	"context"
	"fmt"
	"testing"

	"notification-engine/internal/models"
	"notification-engine/internal/provider"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sesError mimics an AWS API error with a code.
type sesError struct {
	code string
}

func (e *sesError) Error() string     { return fmt.Sprintf("api error %s", e.code) }
func (e *sesError) ErrorCode() string { return e.code }

// mockSES scripts SendEmail responses.
type mockSES struct {
	sendErr   error
	messageID string
	lastInput *ses.SendEmailInput
	quotaErr  error
}

func (m *mockSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.lastInput = params
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &ses.SendEmailOutput{MessageId: aws.String(m.messageID)}, nil
}

func (m *mockSES) GetSendQuota(context.Context, *ses.GetSendQuotaInput, ...func(*ses.Options)) (*ses.GetSendQuotaOutput, error) {
	if m.quotaErr != nil {
		return nil, m.quotaErr
	}
	return &ses.GetSendQuotaOutput{}, nil
}

func TestSendSuccess(t *testing.T) {
	mock := &mockSES{messageID: "ses-123"}
	adapter := NewAdapterWithClient(mock, "noreply@example.com", "secret")

	result, err := adapter.Send(context.Background(), "user@example.com", &models.RenderedMessage{
		Subject: "Reminder",
		Body:    "See you at 3pm.",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ses-123", result.ProviderMessageID)

	require.NotNil(t, mock.lastInput)
	assert.Equal(t, "noreply@example.com", aws.ToString(mock.lastInput.Source))
	assert.Equal(t, []string{"user@example.com"}, mock.lastInput.Destination.ToAddresses)
	assert.Equal(t, "Reminder", aws.ToString(mock.lastInput.Message.Subject.Data))
}

func TestSendErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind provider.ErrorKind
	}{
		{"rejected message is permanent", &sesError{code: "MessageRejected"}, provider.ErrorPermanent},
		{"unverified domain is permanent", &sesError{code: "MailFromDomainNotVerified"}, provider.ErrorPermanent},
		{"throttling is rate limited", &sesError{code: "Throttling"}, provider.ErrorRateLimited},
		{"access denied is unauthenticated", &sesError{code: "AccessDenied"}, provider.ErrorUnauthenticated},
		{"bad signature is unauthenticated", &sesError{code: "SignatureDoesNotMatch"}, provider.ErrorUnauthenticated},
		{"unknown code is transient", &sesError{code: "InternalFailure"}, provider.ErrorTransient},
		{"plain error is transient", fmt.Errorf("connection reset"), provider.ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewAdapterWithClient(&mockSES{sendErr: tt.err}, "noreply@example.com", "secret")
			result, err := adapter.Send(context.Background(), "user@example.com", &models.RenderedMessage{Body: "hi"})
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantKind, result.ErrorKind)
		})
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	adapter := NewAdapterWithClient(&mockSES{sendErr: &sesError{code: "Throttling"}}, "noreply@example.com", "secret")

	result, err := adapter.Send(context.Background(), "user@example.com", &models.RenderedMessage{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, provider.ErrorRateLimited, result.ErrorKind)
	assert.Greater(t, result.RetryAfter.Seconds(), 0.0)
}

func TestHealthCheck(t *testing.T) {
	adapter := NewAdapterWithClient(&mockSES{}, "noreply@example.com", "secret")
	assert.NoError(t, adapter.HealthCheck(context.Background()))

	broken := NewAdapterWithClient(&mockSES{quotaErr: fmt.Errorf("down")}, "noreply@example.com", "secret")
	assert.Error(t, broken.HealthCheck(context.Background()))
}

func TestVerifyInboundSignature(t *testing.T) {
	adapter := NewAdapterWithClient(&mockSES{}, "noreply@example.com", "secret")
	payload := []byte(`{"eventType":"delivery"}`)

	assert.True(t, adapter.VerifyInboundSignature(payload, provider.SignPayload([]byte("secret"), payload)))
	assert.False(t, adapter.VerifyInboundSignature(payload, "sha256=deadbeef"))
	assert.False(t, adapter.VerifyInboundSignature(payload, ""))

	// Adapter without a configured secret fails closed.
	unconfigured := NewAdapterWithClient(&mockSES{}, "noreply@example.com", "")
	assert.False(t, unconfigured.VerifyInboundSignature(payload, provider.SignPayload(nil, payload)))
}
