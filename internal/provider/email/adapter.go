// internal/provider/email/adapter.go
package email

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"notification-engine/internal/models"
	"notification-engine/internal/provider"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the subset of the SES client used by the adapter, extracted for
// mocking.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	GetSendQuota(ctx context.Context, params *ses.GetSendQuotaInput, optFns ...func(*ses.Options)) (*ses.GetSendQuotaOutput, error)
}

// Adapter sends email through AWS SES.
type Adapter struct {
	client        SESAPI
	fromEmail     string
	webhookSecret []byte
}

type Config struct {
	AWSRegion     string
	FromEmail     string
	WebhookSecret string
}

func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &Adapter{
		client:        ses.NewFromConfig(awsCfg),
		fromEmail:     cfg.FromEmail,
		webhookSecret: []byte(cfg.WebhookSecret),
	}, nil
}

// NewAdapterWithClient wires an explicit SES client, used by tests.
func NewAdapterWithClient(client SESAPI, fromEmail, webhookSecret string) *Adapter {
	return &Adapter{client: client, fromEmail: fromEmail, webhookSecret: []byte(webhookSecret)}
}

func (a *Adapter) Channel() models.Channel {
	return models.ChannelEmail
}

func (a *Adapter) Send(ctx context.Context, recipient string, msg *models.RenderedMessage) (*provider.SendResult, error) {
	out, err := a.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body)},
			},
		},
		Source: aws.String(a.fromEmail),
	})
	if err != nil {
		return classifySESError(err), nil
	}

	return &provider.SendResult{
		Success:           true,
		ProviderMessageID: aws.ToString(out.MessageId),
	}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.GetSendQuota(ctx, &ses.GetSendQuotaInput{})
	return err
}

func (a *Adapter) VerifyInboundSignature(rawPayload []byte, signatureHeader string) bool {
	return provider.VerifyHMACSignature(a.webhookSecret, rawPayload, signatureHeader)
}

// classifySESError maps SES failures into the uniform error taxonomy.
func classifySESError(err error) *provider.SendResult {
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
	case "MessageRejected", "MailFromDomainNotVerified", "ConfigurationSetDoesNotExist", "InvalidParameterValue":
		result.ErrorKind = provider.ErrorPermanent
	case "Throttling", "ThrottlingException", "TooManyRequestsException", "LimitExceededException":
		result.ErrorKind = provider.ErrorRateLimited
		result.RetryAfter = 30 * time.Second
	case "AccessDenied", "AccessDeniedException", "InvalidClientTokenId", "UnrecognizedClientException", "SignatureDoesNotMatch":
		result.ErrorKind = provider.ErrorUnauthenticated
	default:
		result.ErrorKind = provider.ErrorTransient
	}
	return result
}
