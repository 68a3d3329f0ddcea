package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"tolka/internal/config"
)

// SMTPMailer delivers notification mail over plain SMTP with AUTH.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to, name, subject, template string, data map[string]string) error {
	if to == "" {
		return fmt.Errorf("empty recipient address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := m.buildMessage(to, name, subject, template, data)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}

func (m *SMTPMailer) buildMessage(to, name, subject, template string, data map[string]string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s <%s>\r\n", m.cfg.FromName, m.cfg.From)
	if name != "" {
		fmt.Fprintf(&b, "To: %s <%s>\r\n", name, to)
	} else {
		fmt.Fprintf(&b, "To: %s\r\n", to)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "X-Template: %s\r\n", template)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, data[k])
	}

	return []byte(b.String())
}
