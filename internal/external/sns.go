package external

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"alertflow/internal/types"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// ValidPhoneNumber reports whether phone is in E.164 form.
func ValidPhoneNumber(phone string) bool {
	return e164.MatchString(phone)
}

// SNSClient sends transactional SMS through SNS Publish.
type SNSClient struct {
	api      SNSAPI
	senderID string
	logger   *slog.Logger
}

// NewSNSClient wraps an SNS API client.
func NewSNSClient(api SNSAPI, senderID string, logger *slog.Logger) *SNSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SNSClient{api: api, senderID: senderID, logger: logger}
}

// SendSMS publishes body directly to phone.
func (c *SNSClient) SendSMS(ctx context.Context, phone, body string) (string, error) {
	if !ValidPhoneNumber(phone) {
		return "", permanentAppError(types.ErrCodeUpstreamSMSProvider, "phone number is not E.164: "+phone, nil)
	}
	attrs := map[string]snstypes.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if c.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(c.senderID)}
	}

	out, err := c.api.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return "", classifyAWSError(types.ErrCodeUpstreamSMSProvider, "SNS", err)
	}
	return aws.ToString(out.MessageId), nil
}

var _ SMSProvider = (*SNSClient)(nil)
