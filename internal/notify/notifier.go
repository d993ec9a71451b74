// Package notify pushes alerts when a native scheduler rejects a change.
package notify

import (
	"context"
	"errors"
)

// Notifier delivers a short alert.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans an alert out to several notifiers. Every notifier is
// tried; failures are joined.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoOpNotifier drops every alert.
type NoOpNotifier struct{}

func (NoOpNotifier) Send(context.Context, string, string) error {
	return nil
}
