// Package mail sends built templates as test emails and checks them for
// constructs email clients are known to mishandle.
package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
)

// ErrMissingRecipient is returned when a message has no To address.
var ErrMissingRecipient = errors.New("mail: recipient is required")

// ErrMissingSender is returned when no From address is configured.
var ErrMissingSender = errors.New("mail: from address is required")

// Config holds configuration for sending emails via SMTP.
type Config struct {
	SMTPHost  string
	SMTPPort  string
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Message is one test email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// sendMail is swapped in tests.
var sendMail = smtp.SendMail

// Send delivers msg over SMTP and returns the Message-ID it was sent with.
func Send(ctx context.Context, config Config, msg Message) (string, error) {
	if msg.To == "" {
		return "", ErrMissingRecipient
	}
	if config.FromEmail == "" {
		return "", ErrMissingSender
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := messageID(config.FromEmail)
	raw := buildMessage(config, msg, id, time.Now())

	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.SMTPHost)
	}

	if err := sendMail(config.SMTPHost+":"+config.SMTPPort, auth, config.FromEmail, []string{msg.To}, raw); err != nil {
		return "", fmt.Errorf("send to %s: %w", msg.To, err)
	}

	logx.WithContext(ctx).Infow("Test email sent",
		logx.Field("to", msg.To),
		logx.Field("subject", msg.Subject),
		logx.Field("message_id", id),
	)
	return id, nil
}

func messageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// buildMessage renders the RFC 5322 message. The body is base64 encoded so
// long inlined lines stay under the SMTP line limit.
func buildMessage(config Config, msg Message, id string, now time.Time) []byte {
	var b bytes.Buffer

	from := config.FromEmail
	if config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", config.FromName), config.FromEmail)
	}

	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", id)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.HTML))
	for len(encoded) > 76 {
		b.WriteString(encoded[:76])
		b.WriteString("\r\n")
		encoded = encoded[76:]
	}
	if encoded != "" {
		b.WriteString(encoded)
		b.WriteString("\r\n")
	}

	return b.Bytes()
}
