package email

import (
	"context"
	"fmt"
	"net/mail"
)

// Sender delivers a message rendered from a provider-side template.
type Sender interface {
	SendTemplate(ctx context.Context, params TemplateParams) error
}

// TemplateParams describes one templated message.
type TemplateParams struct {
	SendTo   string         `json:"send_to"`
	Template string         `json:"template"` // template alias
	Model    map[string]any `json:"model,omitempty"`
	Tag      string         `json:"tag,omitempty"`
}

// Validate checks the recipient and template alias.
func (p TemplateParams) Validate() error {
	if p.SendTo == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidParams)
	}
	if _, err := mail.ParseAddress(p.SendTo); err != nil {
		return fmt.Errorf("%w: recipient is not a valid address", ErrInvalidParams)
	}
	if p.Template == "" {
		return fmt.Errorf("%w: template is required", ErrInvalidParams)
	}
	return nil
}

func validAddress(s string) bool {
	_, err := mail.ParseAddress(s)
	return err == nil
}
