package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/nholik/stack-updater/internal/transition"
	"github.com/nholik/stack-updater/internal/update"
	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"stack":{{ toJson .Stack }},"message":{{ toJson .Message }},"result":{{ toJson .Result }},"transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Stack       string
	Message     string
	Result      update.Result
	Transitions []transition.ServiceTransition
	GeneratedAt time.Time
}

// WebhookNotifier sends update events to a generic webhook.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *poster
	now      func() time.Time
}

// WebhookOption customizes WebhookNotifier behavior.
type WebhookOption func(*WebhookNotifier)

// WithWebhookTiming overrides delivery timing.
func WithWebhookTiming(timing Timing) WebhookOption {
	return func(n *WebhookNotifier) {
		n.poster.timing = timing
		n.poster.client.HTTPClient.Timeout = timing.Timeout
	}
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when no URL is configured.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL, tmpl string, opts ...WebhookOption) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	notifier := &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newPoster(logger, "webhook", webhookURL, DefaultTiming),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	return notifier, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil {
		return nil
	}
	if err := n.poster.wait(ctx, event.Stack()); err != nil {
		return err
	}

	payload := WebhookPayload{
		Stack:       event.Stack(),
		Message:     event.Summary(),
		Result:      event.Result,
		Transitions: event.Transitions,
		GeneratedAt: n.now().UTC(),
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}

	if err := n.poster.post(ctx, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("stack", payload.Stack).
		Str("state", string(event.Result.State)).
		Int("transitions", len(event.Transitions)).
		Msg("webhook notification sent")

	return nil
}
