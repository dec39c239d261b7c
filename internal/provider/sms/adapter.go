// internal/provider/sms/adapter.go
package sms

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"notification-engine/internal/models"
	"notification-engine/internal/provider"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the subset of the SNS client used by the adapter, extracted for
// mocking.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetSMSAttributes(ctx context.Context, params *sns.GetSMSAttributesInput, optFns ...func(*sns.Options)) (*sns.GetSMSAttributesOutput, error)
}

// Adapter sends SMS through AWS SNS.
type Adapter struct {
	client        SNSAPI
	senderID      string
	webhookSecret []byte
}

type Config struct {
	AWSRegion     string
	SenderID      string
	WebhookSecret string
}

func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Adapter{
		client:        sns.NewFromConfig(awsCfg),
		senderID:      cfg.SenderID,
		webhookSecret: []byte(cfg.WebhookSecret),
	}, nil
}

// NewAdapterWithClient wires an explicit SNS client, used by tests.
func NewAdapterWithClient(client SNSAPI, senderID, webhookSecret string) *Adapter {
	return &Adapter{client: client, senderID: senderID, webhookSecret: []byte(webhookSecret)}
}

func (a *Adapter) Channel() models.Channel {
	return models.ChannelSMS
}

func (a *Adapter) Send(ctx context.Context, recipient string, msg *models.RenderedMessage) (*provider.SendResult, error) {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(recipient),
		Message:     aws.String(msg.Body),
	}
	if a.senderID != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(a.senderID),
			},
		}
	}

	out, err := a.client.Publish(ctx, input)
	if err != nil {
		return classifySNSError(err), nil
	}

	return &provider.SendResult{
		Success:           true,
		ProviderMessageID: aws.ToString(out.MessageId),
	}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.GetSMSAttributes(ctx, &sns.GetSMSAttributesInput{})
	return err
}

func (a *Adapter) VerifyInboundSignature(rawPayload []byte, signatureHeader string) bool {
	return provider.VerifyHMACSignature(a.webhookSecret, rawPayload, signatureHeader)
}

// classifySNSError maps SNS failures into the uniform error taxonomy.
func classifySNSError(err error) *provider.SendResult {
	result := &provider.SendResult{
		Success:     false,
		ErrorDetail: err.Error(),
	}

	var apiErr interface{ ErrorCode() string }
	if !stderrors.As(err, &apiErr) {
		result.ErrorKind = provider.ErrorTransient
		return result
	}

	switch apiErr.ErrorCode() {
	case "InvalidParameter", "InvalidParameterValue", "ParameterValueInvalid", "OptedOut":
		result.ErrorKind = provider.ErrorPermanent
	case "Throttling", "ThrottledException", "TooManyRequestsException":
		result.ErrorKind = provider.ErrorRateLimited
		result.RetryAfter = 30 * time.Second
	case "AuthorizationError", "AccessDeniedException", "InvalidClientTokenId", "SignatureDoesNotMatch":
		result.ErrorKind = provider.ErrorUnauthenticated
	default:
		result.ErrorKind = provider.ErrorTransient
	}
	return result
}
