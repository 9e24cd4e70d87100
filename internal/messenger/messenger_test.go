package messenger

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type capture struct {
	recipients []string
	calls      int
	err        error
}

func (c *capture) Send(_ context.Context, recipients []string, _ Message) error {
	c.calls++
	c.recipients = append([]string(nil), recipients...)
	return c.err
}

func TestMultiRoutesByPrefix(t *testing.T) {
	t.Parallel()
	mail := &capture{}
	tg := &capture{}
	m := &Multi{Mail: mail, Telegram: tg}

	err := m.Send(context.Background(), []string{"a@example.com", "tg:42", "b@example.com"}, Message{Subject: "x"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if mail.calls != 1 || len(mail.recipients) != 2 {
		t.Fatalf("mail got %v", mail.recipients)
	}
	if tg.calls != 1 || len(tg.recipients) != 1 || tg.recipients[0] != "tg:42" {
		t.Fatalf("telegram got %v", tg.recipients)
	}
}

func TestMultiSingleChannelSkipsOther(t *testing.T) {
	t.Parallel()
	mail := &capture{}
	m := &Multi{Mail: mail}

	if err := m.Send(context.Background(), []string{"a@example.com"}, Message{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if mail.calls != 1 {
		t.Fatal("mail channel not called")
	}

	err := m.Send(context.Background(), []string{"tg:42"}, Message{})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("want ErrDisabled for missing telegram channel, got %v", err)
	}
}

func TestMultiJoinsChannelErrors(t *testing.T) {
	t.Parallel()
	mailErr := errors.New("smtp down")
	m := &Multi{Mail: &capture{err: mailErr}, Telegram: &capture{}}

	err := m.Send(context.Background(), []string{"a@example.com", "tg:42"}, Message{})
	if !errors.Is(err, mailErr) {
		t.Fatalf("mail error lost: %v", err)
	}
}

func TestMultiNoRecipients(t *testing.T) {
	t.Parallel()
	m := &Multi{Mail: &capture{}}
	if err := m.Send(context.Background(), nil, Message{}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("want ErrNoRecipients, got %v", err)
	}
}

func TestParseChatID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"tg:42", 42, false},
		{"tg:-1001234567890", -1001234567890, false},
		{"tg: 7 ", 7, false},
		{"42", 0, true},
		{"tg:abc", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseChatID(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseChatID(%q): want error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseChatID(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestTelegramBodyUsesRestrictedHTML(t *testing.T) {
	t.Parallel()
	msg := Message{
		Subject: "Payment reminder: R&D <loan> due in 30 days",
		HTML:    `<div style="color:red"><h2>Payment reminder</h2><table><tr><td>x</td></tr></table></div>`,
		Text:    "R&D <loan> is due in 30 days.\nDue date: 2025-02-01\n",
	}
	got := telegramBody(msg)

	// Telegram's HTML parse mode only accepts b/i/a/code/pre and kin;
	// any mail markup leaking through fails the whole send.
	for _, banned := range []string{"<div", "<h2", "<table", "<tr", "<td", "style="} {
		if strings.Contains(got, banned) {
			t.Errorf("telegram body must not carry mail markup %q: %q", banned, got)
		}
	}
	if !strings.HasPrefix(got, "<b>") {
		t.Errorf("subject line should be bolded: %q", got)
	}
	for _, want := range []string{"R&amp;D", "&lt;loan&gt;", "2025-02-01"} {
		if !strings.Contains(got, want) {
			t.Errorf("body missing escaped content %q: %q", want, got)
		}
	}

	// Text-less messages fall back to the subject alone, unduplicated.
	got = telegramBody(Message{Subject: "only subject", HTML: "<p>x</p>"})
	if got != "only subject" {
		t.Errorf("subject-only fallback = %q", got)
	}
}

func TestBuildMIME(t *testing.T) {
	t.Parallel()
	msg := Message{
		Subject: "Payment due",
		HTML:    "<b>30 days left</b>",
		Text:    "30 days left",
	}
	raw := string(buildMIME("noreply@example.com", []string{"a@example.com", "b@example.com"}, msg))

	for _, want := range []string{
		"From: noreply@example.com",
		"To: a@example.com, b@example.com",
		"multipart/alternative",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Type: text/html; charset=utf-8",
		"<b>30 days left</b>",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("mime missing %q", want)
		}
	}
	if strings.Contains(raw, "\n\n") && !strings.Contains(raw, "\r\n\r\n") {
		t.Error("mime must use CRLF line endings")
	}

	// Without a plain part the body is a single html payload.
	raw = string(buildMIME("noreply@example.com", []string{"a@example.com"}, Message{Subject: "s", HTML: "<p>x</p>"}))
	if strings.Contains(raw, "multipart") {
		t.Error("single-part message must not be multipart")
	}
}
