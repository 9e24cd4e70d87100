package messenger

import (
	"context"
	"errors"
)

// Multi splits a recipient list by channel and fans the message out.
// Either channel may be nil; recipients for a missing channel fail the send.
type Multi struct {
	Mail     Messenger
	Telegram Messenger
}

func (m *Multi) Send(ctx context.Context, recipients []string, msg Message) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	var mail, tg []string
	for _, r := range recipients {
		if IsTelegram(r) {
			tg = append(tg, r)
		} else {
			mail = append(mail, r)
		}
	}

	var errs []error
	if len(mail) > 0 {
		if m.Mail == nil {
			errs = append(errs, ErrDisabled)
		} else if err := m.Mail.Send(ctx, mail, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(tg) > 0 {
		if m.Telegram == nil {
			errs = append(errs, ErrDisabled)
		} else if err := m.Telegram.Send(ctx, tg, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
