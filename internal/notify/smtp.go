package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one outgoing email, already rendered.
type Message struct {
	From     string
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers a rendered message. The production implementation is
// SMTPSender; tests substitute a recorder.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds connection settings for the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// StartTLS upgrades the connection after connect. Default: true when
	// a password is set.
	StartTLS bool
	// Timeout bounds the TCP connect. Default: 30s.
	Timeout time.Duration
}

func (c *SMTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FromName == "" {
		c.FromName = "Fundawatch"
	}
}

// SMTPSender sends mail over a plain SMTP session with optional STARTTLS
// and PLAIN auth.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates a sender from config.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	cfg.defaults()
	return &SMTPSender{cfg: cfg}
}

// Send delivers msg in one SMTP session, all recipients on the same
// message.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = s.cfg.From
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: connect %s: %w", addr, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	defer client.Close()

	if s.cfg.StartTLS || s.cfg.Password != "" {
		tlsCfg := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("notify: auth: %w", err)
		}
	}

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("notify: mail from: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("notify: rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("notify: data: %w", err)
	}
	if _, err := w.Write([]byte(buildMIME(s.cfg.FromName, msg))); err != nil {
		return fmt.Errorf("notify: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: close body: %w", err)
	}

	// The message was accepted; a failed QUIT is not a delivery failure.
	_ = client.Quit()
	return nil
}

// buildMIME assembles a multipart/alternative message with text and HTML
// parts and a unique Message-ID.
func buildMIME(fromName string, msg Message) string {
	boundary := "b_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	domain := "fundawatch.local"
	if i := strings.LastIndexByte(msg.From, '@'); i >= 0 {
		domain = msg.From[i+1:]
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", fromName), msg.From))
	b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	b.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.NewString(), domain))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary))
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(msg.TextBody)
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(msg.HTMLBody)
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return b.String()
}
