package mail

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/pixelvide/ownmailer/pkg/email"
)

var (
	_ Mailer         = &SESMailer{}
	_ IdentityLister = &SESMailer{}
)

type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	ListEmailIdentities(ctx context.Context, params *sesv2.ListEmailIdentitiesInput, optFns ...func(*sesv2.Options)) (*sesv2.ListEmailIdentitiesOutput, error)
}

// SESMailer sends through Amazon SES. When a configuration set is given,
// SES publishes delivery events for every message, which come back through
// the webhook or the SQS queue.
type SESMailer struct {
	client           SESClient
	configurationSet string
}

func NewSESMailer(client SESClient, configurationSet string) *SESMailer {
	return &SESMailer{client: client, configurationSet: configurationSet}
}

func (m *SESMailer) Send(ctx context.Context, msg *Message) (string, error) {
	input := &sesv2.SendEmailInput{
		Content: &types.EmailContent{
			Simple: &types.Message{
				Body: &types.Body{
					Html: optionalContent(msg.HTML),
					Text: optionalContent(msg.Text),
				},
				Subject:     utf8Content(msg.Subject),
				Headers:     headersToAWS(msg.Headers),
				Attachments: attachmentsToAWS(msg.Attachments),
			},
		},
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		FromEmailAddress: aws.String(msg.From),
		ReplyToAddresses: msg.ReplyTo,
		EmailTags:        tagsToAWS(msg.Tags),
	}
	if m.configurationSet != "" {
		input.ConfigurationSetName = aws.String(m.configurationSet)
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return "", categorizeAWSError(err)
	}
	return aws.ToString(out.MessageId), nil
}

// ListIdentities pages through every email identity of the account.
func (m *SESMailer) ListIdentities(ctx context.Context) ([]Identity, error) {
	var (
		identities []Identity
		token      *string
	)
	for {
		out, err := m.client.ListEmailIdentities(ctx, &sesv2.ListEmailIdentitiesInput{NextToken: token})
		if err != nil {
			return nil, categorizeAWSError(err)
		}
		for _, info := range out.EmailIdentities {
			identities = append(identities, Identity{
				Name:           aws.ToString(info.IdentityName),
				Type:           strings.ToLower(string(info.IdentityType)),
				Status:         strings.ToLower(string(info.VerificationStatus)),
				SendingEnabled: info.SendingEnabled,
			})
		}
		if out.NextToken == nil || *out.NextToken == "" {
			return identities, nil
		}
		token = out.NextToken
	}
}

func attachmentsToAWS(attachments []Attachment) []types.Attachment {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]types.Attachment, len(attachments))
	for i, a := range attachments {
		out[i] = types.Attachment{
			FileName:           aws.String(a.Filename),
			RawContent:         a.Content,
			ContentDisposition: types.AttachmentContentDispositionAttachment,
		}
		if a.ContentType != "" {
			out[i].ContentType = aws.String(a.ContentType)
		}
		if a.Inline {
			out[i].ContentDisposition = types.AttachmentContentDispositionInline
		}
		if a.CID != "" {
			out[i].ContentId = aws.String(a.CID)
		}
	}
	return out
}

func headersToAWS(headers map[string]string) []types.MessageHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]types.MessageHeader, 0, len(headers))
	for _, k := range sortedKeys(headers) {
		out = append(out, types.MessageHeader{Name: aws.String(k), Value: aws.String(headers[k])})
	}
	return out
}

func tagsToAWS(tags map[string]string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.MessageTag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		out = append(out, types.MessageTag{Name: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func optionalContent(s string) *types.Content {
	if s == "" {
		return nil
	}
	return utf8Content(s)
}

func utf8Content(s string) *types.Content {
	return &types.Content{
		Data:    aws.String(s),
		Charset: aws.String("UTF-8"),
	}
}

func categorizeAWSError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "LimitExceededException":
			return email.NewProviderError("SES sending rate limit exceeded", err)
		case "MessageRejected":
			return email.NewProviderError("message rejected by SES", err)
		case "MailFromDomainNotVerifiedException", "NotFoundException":
			return email.NewProviderError("sender identity not verified in SES", err)
		case "AccountSuspendedException", "SendingPausedException":
			return email.NewProviderError("SES sending is disabled for this account", err)
		case "BadRequestException", "InvalidParameterValueException":
			return email.NewProviderError("SES refused the request parameters", err)
		}
	}

	return email.NewProviderError("SES request failed", err)
}
