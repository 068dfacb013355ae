package subscription

import "context"

// Notification templates sent by the engine.
const (
	TemplateWelcome       = "welcome"
	TemplatePaymentFailed = "payment_failed"
)

// Notification is a templated message request. Rendering and delivery belong to the Notifier.
type Notification struct {
	To       string
	Template string
	Data     map[string]any
	Tag      string
}

// Notifier delivers templated notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
