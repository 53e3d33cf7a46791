package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Email: исходящее письмо.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Mailer отправляет письма.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer пишет письма в лог вместо отправки.
type LogMailer struct {
	logger *log.Entry
}

// NewLogMailer создаёт LogMailer.
func NewLogMailer(logger *log.Entry) *LogMailer {
	if logger == nil {
		logger = log.WithField("component", "mailer")
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.logger.WithFields(log.Fields{
		"to":      email.To,
		"subject": email.Subject,
	}).Info("email sent")
	return nil
}
