// Package noop discards run events.
package noop

import "context"

// Publisher drops every event.
type Publisher struct{}

// New returns a noop Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish discards the payload.
func (*Publisher) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
