package notify

import (
	"context"
	"errors"
	"reflect"
)

// MultiNotifier fans out events to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that dispatches to all provided notifiers.
// Nil notifiers, including typed nil pointers, are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if isNil(notifier) {
			continue
		}
		filtered = append(filtered, notifier)
	}
	return &MultiNotifier{notifiers: filtered}
}

// Len reports how many notifiers receive events.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Notify implements Notifier. Every notifier is attempted; failures are joined.
func (m *MultiNotifier) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isNil(notifier Notifier) bool {
	if notifier == nil {
		return true
	}
	value := reflect.ValueOf(notifier)
	return value.Kind() == reflect.Pointer && value.IsNil()
}
