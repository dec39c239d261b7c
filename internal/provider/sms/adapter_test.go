// internal/provider/sms/adapter_test.go
package sms

import (
	"context"
	"fmt"
	"testing"

	"notification-engine/internal/models"
	"notification-engine/internal/provider"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snsError struct {
	code string
}

func (e *snsError) Error() string     { return fmt.Sprintf("api error %s", e.code) }
func (e *snsError) ErrorCode() string { return e.code }

type mockSNS struct {
	publishErr error
	messageID  string
	lastInput  *sns.PublishInput
	attrsErr   error
}

func (m *mockSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.lastInput = params
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	return &sns.PublishOutput{MessageId: aws.String(m.messageID)}, nil
}

func (m *mockSNS) GetSMSAttributes(context.Context, *sns.GetSMSAttributesInput, ...func(*sns.Options)) (*sns.GetSMSAttributesOutput, error) {
	if m.attrsErr != nil {
		return nil, m.attrsErr
	}
	return &sns.GetSMSAttributesOutput{}, nil
}

func TestSendSuccess(t *testing.T) {
	mock := &mockSNS{messageID: "sns-123"}
	adapter := NewAdapterWithClient(mock, "ACME", "secret")

	result, err := adapter.Send(context.Background(), "+15550100", &models.RenderedMessage{Body: "See you at 3pm."})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "sns-123", result.ProviderMessageID)

	require.NotNil(t, mock.lastInput)
	assert.Equal(t, "+15550100", aws.ToString(mock.lastInput.PhoneNumber))
	assert.Equal(t, "See you at 3pm.", aws.ToString(mock.lastInput.Message))

	senderAttr, ok := mock.lastInput.MessageAttributes["AWS.SNS.SMS.SenderID"]
	require.True(t, ok)
	assert.Equal(t, "ACME", aws.ToString(senderAttr.StringValue))
}

func TestSendWithoutSenderID(t *testing.T) {
	mock := &mockSNS{messageID: "sns-123"}
	adapter := NewAdapterWithClient(mock, "", "secret")

	_, err := adapter.Send(context.Background(), "+15550100", &models.RenderedMessage{Body: "hi"})
	require.NoError(t, err)
	assert.Empty(t, mock.lastInput.MessageAttributes)
}

func TestSendErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind provider.ErrorKind
	}{
		{"invalid parameter is permanent", &snsError{code: "InvalidParameter"}, provider.ErrorPermanent},
		{"opted out is permanent", &snsError{code: "OptedOut"}, provider.ErrorPermanent},
		{"throttling is rate limited", &snsError{code: "Throttling"}, provider.ErrorRateLimited},
		{"authorization error is unauthenticated", &snsError{code: "AuthorizationError"}, provider.ErrorUnauthenticated},
		{"unknown code is transient", &snsError{code: "ServiceUnavailable"}, provider.ErrorTransient},
		{"plain error is transient", fmt.Errorf("dial timeout"), provider.ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := NewAdapterWithClient(&mockSNS{publishErr: tt.err}, "", "secret")
			result, err := adapter.Send(context.Background(), "+15550100", &models.RenderedMessage{Body: "hi"})
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tt.wantKind, result.ErrorKind)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	adapter := NewAdapterWithClient(&mockSNS{}, "", "secret")
	assert.NoError(t, adapter.HealthCheck(context.Background()))

	broken := NewAdapterWithClient(&mockSNS{attrsErr: fmt.Errorf("down")}, "", "secret")
	assert.Error(t, broken.HealthCheck(context.Background()))
}
