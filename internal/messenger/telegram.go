package messenger

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	logx "duewatch/pkg/logx"
)

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Token string
}

// Telegram delivers messages to Telegram chats. Recipients are chat IDs
// carrying the "tg:" prefix, e.g. "tg:123456789".
type Telegram struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Send-only: no poller, no handler registration.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, log: log}, nil
}

func (t *Telegram) Send(ctx context.Context, recipients []string, msg Message) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	text := telegramBody(msg)
	var firstErr error
	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		chatID, err := ParseChatID(r)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		_, err = t.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		if err != nil {
			t.log.Warn("telegram send failed", logx.Int64("chat_id", chatID), logx.Err(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("telegram chat %d: %w", chatID, err)
			}
			continue
		}
	}
	return firstErr
}

// telegramBody renders the message for Telegram's restricted HTML parse
// mode: a bold subject line over the plain-text body, entities escaped.
// The mail HTML is never sent here; Telegram rejects tags outside its
// small allowed set.
func telegramBody(msg Message) string {
	body := msg.Text
	if body == "" {
		body = msg.Subject
	}
	var b strings.Builder
	if msg.Subject != "" && msg.Subject != body {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(msg.Subject))
		b.WriteString("</b>\n\n")
	}
	b.WriteString(html.EscapeString(strings.TrimSpace(body)))
	return b.String()
}

// ParseChatID extracts the numeric chat ID from a "tg:<id>" recipient.
func ParseChatID(recipient string) (int64, error) {
	raw, ok := strings.CutPrefix(recipient, "tg:")
	if !ok {
		return 0, fmt.Errorf("not a telegram recipient: %q", recipient)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad telegram chat id %q: %w", raw, err)
	}
	return id, nil
}

// IsTelegram reports whether the recipient routes to the Telegram channel.
func IsTelegram(recipient string) bool {
	return strings.HasPrefix(recipient, "tg:")
}
