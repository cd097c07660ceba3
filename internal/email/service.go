// Package email delivers activity notifications via SMTP or SendGrid.
package email

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
)

var ErrNotConfigured = errors.New("email not configured")

// Message is one outgoing email. ReplyTo lets a mail be answered by the
// party it is sent on behalf of.
type Message struct {
	To      []mail.Address
	ReplyTo *mail.Address
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages over one transport.
type Sender interface {
	IsConfigured() bool
	Send(ctx context.Context, msg Message) error
}

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service sends mail through an SMTP relay.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) Send(ctx context.Context, msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		recipients = append(recipients, to.Address)
	}
	from := mail.Address{Name: s.config.FromName, Address: s.config.From}

	if err := smtp.SendMail(s.server, s.auth, s.config.From, recipients, buildMIME(from, msg)); err != nil {
		return errors.Wrap(err, "smtp send")
	}
	return nil
}

const mimeBoundary = "boundary-activities"

func buildMIME(from mail.Address, msg Message) []byte {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, addr.String())
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	if msg.ReplyTo != nil {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.ReplyTo.String())
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", encodeHeader(msg.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", mimeBoundary)
	fmt.Fprintf(&buf, "\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "%s\r\n", msg.Text)
	fmt.Fprintf(&buf, "\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "%s\r\n", msg.HTML)
	fmt.Fprintf(&buf, "\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", mimeBoundary)
	return buf.Bytes()
}

// encodeHeader applies RFC 2047 encoding when the subject is not plain ASCII.
func encodeHeader(value string) string {
	for _, r := range value {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", value)
		}
	}
	return value
}
