package email

import (
	"fmt"
	"net/smtp"
)

// Sender delivers a single message. The notifier treats any error as fatal
// for the whole batch run.
type Sender interface {
	Send(to, subject, body string) error
}

type SMTPSender struct {
	host     string
	port     string
	user     string
	password string
	from     string
	fromName string
}

func NewSMTPSender(host, port, user, password, from, fromName string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		fromName: fromName,
	}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", s.fromName, s.from)
	message += fmt.Sprintf("To: %s\r\n", to)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "\r\n" + body

	var auth smtp.Auth
	if s.user != "" && s.password != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}

	addr := s.host + ":" + s.port
	return smtp.SendMail(addr, auth, s.from, []string{to}, []byte(message))
}
