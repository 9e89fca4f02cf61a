// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/maildeck/internal/awscfg"
	"github.com/shineum/maildeck/internal/email"
	"github.com/shineum/maildeck/internal/provider"
)

// identityPageSize is the page size used when listing email identities.
const identityPageSize = 100

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

// SESProvider sends emails via the AWS SES v2 API.
type SESProvider struct {
	configurationSet string
	client           SESAPI
}

// SESAPI is the subset of the SES v2 client used by the provider.
// Used for testing with mock implementations.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	ListEmailIdentities(ctx context.Context, params *sesv2.ListEmailIdentitiesInput, optFns ...func(*sesv2.Options)) (*sesv2.ListEmailIdentitiesOutput, error)
}

// New creates a new SESProvider with the given configuration. The SDK
// retryer is limited to a single attempt.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	awsCfg, err := awscfg.Load(ctx, awscfg.Options{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	return &SESProvider{
		configurationSet: cfg.ConfigurationSet,
		client:           sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(configurationSet string, client SESAPI) *SESProvider {
	return &SESProvider{
		configurationSet: configurationSet,
		client:           client,
	}
}

// Send submits raw as a raw MIME message. Bcc recipients travel only in the
// envelope destination.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email, raw []byte) (string, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("SES API request failed: %w", err)
	}

	id := aws.ToString(out.MessageId)
	if id == "" {
		return "", fmt.Errorf("SES API returned no message id")
	}

	slog.Debug("message accepted by SES", "message_id", id, "recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	return id, nil
}

// VerifiedIdentities lists every email address and domain identity that is
// verified and enabled for sending.
func (s *SESProvider) VerifiedIdentities(ctx context.Context) ([]provider.Identity, error) {
	var identities []provider.Identity
	var nextToken *string

	for {
		out, err := s.client.ListEmailIdentities(ctx, &sesv2.ListEmailIdentitiesInput{
			NextToken: nextToken,
			PageSize:  aws.Int32(identityPageSize),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list SES identities: %w", err)
		}

		for _, info := range out.EmailIdentities {
			if !info.SendingEnabled || info.VerificationStatus != types.VerificationStatusSuccess {
				continue
			}
			name := aws.ToString(info.IdentityName)
			if name == "" {
				continue
			}
			switch info.IdentityType {
			case types.IdentityTypeEmailAddress:
				identities = append(identities, provider.Identity{Name: name})
			case types.IdentityTypeDomain, types.IdentityTypeManagedDomain:
				identities = append(identities, provider.Identity{Name: name, Domain: true})
			}
		}

		if aws.ToString(out.NextToken) == "" {
			break
		}
		nextToken = out.NextToken
	}

	return identities, nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}
