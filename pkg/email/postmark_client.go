package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkAPI is the part of the Postmark client used for delivery.
type PostmarkAPI interface {
	SendTemplatedEmail(ctx context.Context, email postmark.TemplatedEmail) (postmark.EmailResponse, error)
}

type postmarkClient struct {
	api    PostmarkAPI
	config Config
}

// PostmarkOption configures the Postmark sender.
type PostmarkOption func(*postmarkClient)

// WithPostmarkAPI replaces the Postmark HTTP client.
func WithPostmarkAPI(api PostmarkAPI) PostmarkOption {
	return func(c *postmarkClient) {
		if api != nil {
			c.api = api
		}
	}
}

// NewPostmarkClient creates a Sender that uses Postmark template aliases.
func NewPostmarkClient(cfg Config, opts ...PostmarkOption) (Sender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if !validAddress(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if !validAddress(cfg.SupportEmail) {
		return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
	}

	c := &postmarkClient{
		api:    postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// MustNewPostmarkClient is NewPostmarkClient that panics on invalid config.
func MustNewPostmarkClient(cfg Config, opts ...PostmarkOption) Sender {
	client, err := NewPostmarkClient(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return client
}

// SendTemplate sends the message with Reply-To set to the support address.
func (c *postmarkClient) SendTemplate(ctx context.Context, params TemplateParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := c.api.SendTemplatedEmail(ctx, postmark.TemplatedEmail{
		TemplateAlias: params.Template,
		TemplateModel: params.Model,
		From:          c.config.SenderEmail,
		ReplyTo:       c.config.SupportEmail,
		To:            params.SendTo,
		Tag:           params.Tag,
		TrackOpens:    true,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
