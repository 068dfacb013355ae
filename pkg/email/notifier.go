package email

import (
	"context"

	"github.com/dmitrymomot/tiersync/pkg/subscription"
)

// Notifier delivers subscription notifications through a Sender. The
// notification template name is used as the Postmark template alias.
type Notifier struct {
	sender Sender
}

var _ subscription.Notifier = (*Notifier)(nil)

func NewNotifier(sender Sender) *Notifier {
	if sender == nil {
		panic("email: sender is required")
	}
	return &Notifier{sender: sender}
}

func (n *Notifier) Notify(ctx context.Context, msg subscription.Notification) error {
	return n.sender.SendTemplate(ctx, TemplateParams{
		SendTo:   msg.To,
		Template: msg.Template,
		Model:    msg.Data,
		Tag:      msg.Tag,
	})
}
