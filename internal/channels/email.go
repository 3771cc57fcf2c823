package channels

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmailSender delivers replies over SMTP.
type EmailSender struct {
	addr     string
	from     string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender creates a sender relaying through addr (host:port). PLAIN
// auth is used when username is set.
func NewEmailSender(addr, from, username, password string) *EmailSender {
	var auth smtp.Auth
	if username != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &EmailSender{addr: addr, from: from, auth: auth, sendMail: smtp.SendMail}
}

// Send returns the generated Message-ID.
func (s *EmailSender) Send(ctx context.Context, msg Outgoing) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.To == "" || strings.ContainsAny(msg.To, "\r\n") {
		return "", fmt.Errorf("email: invalid recipient %q", msg.To)
	}
	subject := msg.Subject
	if subject == "" {
		subject = "Re: your message"
	}

	domain := "missiond.local"
	if i := strings.LastIndex(s.from, "@"); i >= 0 {
		domain = s.from[i+1:]
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", strings.NewReplacer("\r", " ", "\n", " ").Replace(subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Text, "\n", "\r\n"))

	if err := s.sendMail(s.addr, s.auth, s.from, []string{msg.To}, []byte(b.String())); err != nil {
		return "", fmt.Errorf("email: %w", err)
	}
	return messageID, nil
}
