package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nholik/stack-updater/internal/health"
	"github.com/nholik/stack-updater/internal/transition"
	"github.com/nholik/stack-updater/internal/update"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// header, run summary and context blocks are repeated in each message
	slackReservedBlocks = 3
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts update events to a Slack incoming webhook.
type SlackNotifier struct {
	logger zerolog.Logger
	timing Timing
	poster *poster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides delivery timing.
func WithSlackTiming(timing Timing) SlackOption {
	return func(s *SlackNotifier) {
		s.timing = timing
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; slack notifications disabled")
	}

	notifier := &SlackNotifier{
		logger: logger,
		timing: DefaultTiming,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	notifier.poster = newPoster(logger, "slack", webhookURL, notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if err := n.poster.wait(ctx, event.Stack()); err != nil {
		return err
	}

	messages := buildSlackMessages(event)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.post(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("stack", event.Stack()).
		Str("state", string(event.Result.State)).
		Int("transitions", len(event.Transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessages(event Event) []slack.WebhookMessage {
	transitions := event.Transitions
	if len(transitions) == 0 {
		return []slack.WebhookMessage{buildSlackMessage(event, nil, 1, 1)}
	}

	total := len(transitions)
	chunkTotal := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, chunkTotal)
	for i := 0; i < total; i += slackMaxTransitions {
		end := min(i+slackMaxTransitions, total)
		partIndex := (i / slackMaxTransitions) + 1
		messages = append(messages, buildSlackMessage(event, transitions[i:end], partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(event Event, transitions []transition.ServiceTransition, partIndex, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("%s %s", stateEmoji(event.Result.State), event.Summary())
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", truncate(summary, 150), true, false))

	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Stack: *%s*", event.Stack()), false, false),
	}
	if event.Result.RunID != "" {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", "Run: `"+event.Result.RunID+"`", false, false))
	}
	if len(event.Transitions) > 0 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("%d service transition(s)", len(event.Transitions)), false, false))
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}

	blocks := []slack.Block{header, buildRunBlock(event.Result), slack.NewContextBlock("", contextElements...)}
	for _, change := range transitions {
		blocks = append(blocks, buildTransitionBlock(change))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildRunBlock(result update.Result) slack.Block {
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*State:*\n`%s` (last stage `%s`)", result.State, result.Stage), false, false),
	}
	if check := result.VersionCheck; check != nil && !check.Skipped {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn",
			fmt.Sprintf("*Version:*\ndeployed `%s`, latest `%s`", orUnknown(check.Deployed), orUnknown(check.Latest)), false, false))
	}
	if result.RevisionBefore != "" || result.RevisionAfter != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn",
			fmt.Sprintf("*Revision:*\n`%s` → `%s`", shortRevision(result.RevisionBefore), shortRevision(result.RevisionAfter)), false, false))
	}
	if result.Health != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", formatHealth(*result.Health), false, false))
	}
	if result.Error != "" {
		errorText := "*Error:*\n" + truncate(result.Error, 500)
		if result.Hint != "" {
			errorText += "\n_" + result.Hint + "_"
		}
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", errorText, false, false))
	}
	if duration := result.Duration(); duration > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Duration:*\n"+duration.Round(100*time.Millisecond).String(), false, false))
	}

	// Slack section blocks accept at most ten fields.
	if len(fields) > 10 {
		fields = fields[:10]
	}
	return slack.NewSectionBlock(nil, fields, nil)
}

func buildTransitionBlock(change transition.ServiceTransition) slack.Block {
	title := fmt.Sprintf("*%s*: `%s` → `%s`", change.Name, statusLabel(change.PreviousStatus), statusLabel(change.CurrentStatus))
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 3)
	if len(change.Reasons) > 0 {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Reasons:*\n"+strings.Join(change.Reasons, ", "), false, false))
	}
	if change.ContainerChange != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", formatContainerChange(change.ContainerChange), false, false))
	}
	if change.ImageChange != nil {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn",
			fmt.Sprintf("*Image:*\n`%s` → `%s`", orUnknown(change.ImageChange.Previous), orUnknown(change.ImageChange.Current)), false, false))
	}
	if len(fields) == 0 {
		fields = nil
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func formatHealth(snapshot health.Snapshot) string {
	return fmt.Sprintf("*Health:*\n%d/%d running (%s via %s)", snapshot.Running, snapshot.Total, snapshot.Status, snapshot.Source)
}

func formatContainerChange(change *transition.ContainerChange) string {
	return fmt.Sprintf("*Containers:*\nRunning %d/%d (Δ %d)", change.CurrentRunning, change.CurrentTotal, change.RunningDelta)
}

func stateEmoji(state update.State) string {
	switch state {
	case update.StateSuccess:
		return ":white_check_mark:"
	case update.StatePartialFailure:
		return ":warning:"
	case update.StateAborted:
		return ":no_entry_sign:"
	case update.StateShortCircuit:
		return ":zzz:"
	default:
		return ":x:"
	}
}

func statusLabel(status health.ServiceStatus) string {
	if status == "" {
		return "UNKNOWN"
	}
	return string(status)
}

func shortRevision(revision string) string {
	if revision == "" {
		return "unknown"
	}
	if len(revision) > 12 {
		return revision[:12]
	}
	return revision
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
