package notifier

import (
	"context"
	"fmt"
	"os"

	"github.com/yairfalse/permitwatch/internal/logger"
	"github.com/yairfalse/permitwatch/pkg/config"
	"github.com/yairfalse/permitwatch/pkg/types"
)

// Message is one notification. IsError selects the error recipients.
type Message struct {
	Subject string
	Body    string
	IsError bool
	// Report is the structured form of Body for backends that can use it
	Report types.DiffReport
}

// Notifier delivers messages. A failed delivery is reported, never retried.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the notifiers named in settings, fanned out through a Multi
func New(settings *config.Settings, log logger.Logger) (*Multi, error) {
	var notifiers []Notifier
	for _, name := range settings.Notifiers {
		switch name {
		case config.NotifierEmail:
			notifiers = append(notifiers, NewSMTPNotifier(SMTPConfig{
				Host:     settings.Emails.Host,
				Port:     settings.Emails.Port,
				From:     settings.Emails.SendFrom.Email,
				Password: settings.Emails.SendFrom.AppPass,
				To:       settings.Emails.SendTo,
				ErrorsTo: settings.Emails.ErrorRecipients(),
			}))
		case config.NotifierWebhook:
			notifiers = append(notifiers, NewWebhookNotifier(settings.Webhook.URL, settings.Webhook.ErrorURL))
		case config.NotifierConsole:
			notifiers = append(notifiers, NewConsoleNotifier(os.Stdout))
		case config.NotifierDesktop:
			notifiers = append(notifiers, NewDesktopNotifier())
		default:
			return nil, fmt.Errorf("unknown notifier %q", name)
		}
		log.WithField("notifier", name).Debug("notifier enabled")
	}
	return NewMulti(notifiers...), nil
}
