package notify

import (
	"github.com/rs/zerolog"
)

// Settings selects the notification channels to enable.
type Settings struct {
	SlackWebhookURL string
	WebhookURL      string
	WebhookTemplate string
	DryRun          bool
}

// Build assembles the configured notifiers. With nothing configured it
// returns a noop notifier; with DryRun set delivery is replaced by logging.
func Build(logger zerolog.Logger, settings Settings) (Notifier, error) {
	logger = logger.With().Str("component", "notify").Logger()

	var slackNotifier Notifier
	if settings.SlackWebhookURL != "" {
		slackNotifier = NewSlackNotifier(logger, settings.SlackWebhookURL)
	}
	webhook, err := NewWebhookNotifier(logger, settings.WebhookURL, settings.WebhookTemplate)
	if err != nil {
		return nil, err
	}

	multi := NewMultiNotifier(slackNotifier, webhook)
	if multi.Len() == 0 {
		return NewNoop(logger, "no notification channels configured; notifications disabled"), nil
	}
	if settings.DryRun {
		return NewDryRunNotifier(logger, multi), nil
	}
	return multi, nil
}
