package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"alertflow/internal/types"
)

// SESAPI is the subset of the SES v2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient sends email through SES v2 using IAM credentials.
type SESClient struct {
	api           SESAPI
	configSetName string
	logger        *slog.Logger
}

// NewSESClient wraps an SES v2 API client.
func NewSESClient(api SESAPI, configSetName string, logger *slog.Logger) *SESClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESClient{api: api, configSetName: configSetName, logger: logger}
}

// Send transmits msg as simple content.
func (s *SESClient) Send(ctx context.Context, msg EmailMessage) (string, error) {
	from := msg.FromAddress
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromAddress)
	}

	body := &sestypes.Body{}
	if msg.BodyText != "" {
		body.Text = &sestypes.Content{Data: aws.String(msg.BodyText), Charset: aws.String("UTF-8")}
	}
	if msg.BodyHTML != "" {
		body.Html = &sestypes.Content{Data: aws.String(msg.BodyHTML), Charset: aws.String("UTF-8")}
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &sestypes.Destination{ToAddresses: []string{msg.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
	if s.configSetName != "" {
		in.ConfigurationSetName = aws.String(s.configSetName)
	}
	if msg.ReferenceID != "" {
		in.EmailTags = []sestypes.MessageTag{{Name: aws.String("DispatchID"), Value: aws.String(msg.ReferenceID)}}
	}

	out, err := s.api.SendEmail(ctx, in)
	if err != nil {
		return "", mapSESError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func mapSESError(err error) error {
	var rejected *sestypes.MessageRejected
	if errors.As(err, &rejected) {
		return permanentAppError(types.ErrCodeEmailBlocked, "SES rejected message", err)
	}
	var throttled *sestypes.TooManyRequestsException
	if errors.As(err, &throttled) {
		return transientAppError(types.ErrCodeUpstreamRateLimited, "SES rate limit exceeded", err)
	}
	var paused *sestypes.SendingPausedException
	if errors.As(err, &paused) {
		return permanentAppError(types.ErrCodeUpstreamEmailProvider, "SES sending is paused for the account", err)
	}
	return classifyAWSError(types.ErrCodeUpstreamEmailProvider, "SES", err)
}

var _ EmailProvider = (*SESClient)(nil)
