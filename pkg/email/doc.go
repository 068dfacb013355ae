// Package email delivers transactional notifications.
//
// Messages are rendered by Postmark from template aliases, so the service
// only sends the alias and a model. NewPostmarkClient builds the production
// Sender; DevSender writes JSON files for local runs. Notifier adapts a Sender
// to subscription.Notifier, which the provisioner uses for the welcome mail
// and the reconciler for payment failure notices.
//
//	sender, err := email.NewPostmarkClient(cfg)
//	if err != nil {
//		return err
//	}
//	notifier := email.NewNotifier(sender)
package email
