package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

type Sender interface {
	Send(to string, subject string, body string) error
}

// SMTPSender delivers plain-text mail over SMTP. Auth is optional so the
// same sender works against Mailpit in dev and a real relay in production.
type SMTPSender struct {
	addr string
	host string
	from string
	auth smtp.Auth
}

func NewSMTPSender(host, port, from, username, password string) *SMTPSender {
	host = strings.TrimSpace(host)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@poolbook.local"
	}
	s := &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, strings.TrimSpace(port)),
		host: host,
		from: from,
	}
	if username = strings.TrimSpace(username); username != "" {
		s.auth = smtp.PlainAuth("", username, password, host)
	}
	return s
}

func (s *SMTPSender) Send(to string, subject string, body string) error {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.from, to, subject, body,
	)
	return smtp.SendMail(s.addr, s.auth, s.from, []string{to}, []byte(msg))
}
