package messenger

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	logx "duewatch/pkg/logx"
)

// SMTPConfig configures the mail channel.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	SendTimeout time.Duration // whole-session deadline; 0 means 30s
}

// SMTP sends mail over a single SMTP session per call.
// STARTTLS is used when the server offers it.
type SMTP struct {
	cfg SMTPConfig
	log logx.Logger
}

func NewSMTP(cfg SMTPConfig, log logx.Logger) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SMTP{cfg: cfg, log: log}, nil
}

func (s *SMTP) Send(ctx context.Context, recipients []string, msg Message) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	deadline := time.Now().Add(s.cfg.SendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMIME(s.cfg.From, recipients, msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	err = c.Quit()
	if err != nil {
		// Delivery already succeeded at this point; log and move on.
		s.log.Debug("smtp quit failed", logx.Err(err))
	}
	s.log.Debug("mail sent",
		logx.String("subject", msg.Subject),
		logx.Int("recipients", len(recipients)))
	return nil
}

// buildMIME renders a multipart/alternative message with a plain part
// (when present) and an HTML part. CRLF line endings throughout.
func buildMIME(from string, to []string, msg Message) []byte {
	var b strings.Builder
	boundary := "duewatch-alt-7b3f9c"

	write := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\r\n", args...)
	}
	write("From: %s", from)
	write("To: %s", strings.Join(to, ", "))
	write("Subject: %s", mime.QEncoding.Encode("utf-8", msg.Subject))
	write("MIME-Version: 1.0")
	write("Date: %s", time.Now().Format(time.RFC1123Z))

	if msg.Text == "" {
		write("Content-Type: text/html; charset=utf-8")
		write("")
		write("%s", crlf(msg.HTML))
		return []byte(b.String())
	}

	write("Content-Type: multipart/alternative; boundary=%q", boundary)
	write("")
	write("--%s", boundary)
	write("Content-Type: text/plain; charset=utf-8")
	write("")
	write("%s", crlf(msg.Text))
	write("--%s", boundary)
	write("Content-Type: text/html; charset=utf-8")
	write("")
	write("%s", crlf(msg.HTML))
	write("--%s--", boundary)
	return []byte(b.String())
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
