package messenger

import (
	"context"
	"errors"
)

var (
	ErrNoRecipients = errors.New("messenger: no recipients")
	ErrDisabled     = errors.New("messenger: channel disabled")
)

// Message is one rendered reminder ready for delivery.
type Message struct {
	Subject string
	HTML    string // primary body
	Text    string // plain-text fallback, may be empty
}

// Messenger delivers a message to every recipient or fails.
type Messenger interface {
	Send(ctx context.Context, recipients []string, msg Message) error
}

// Func adapts a function to the Messenger interface.
type Func func(ctx context.Context, recipients []string, msg Message) error

func (f Func) Send(ctx context.Context, recipients []string, msg Message) error {
	return f(ctx, recipients, msg)
}
