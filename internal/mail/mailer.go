// Package mail отвечает за отправку писем с кодами подтверждения.
// Доставка почты — внешний коллаборатор: сервис зависит только от
// интерфейса Mailer, SMTP-реализация подключается в app.
package mail

import (
	"fmt"
	"net/smtp"

	log "github.com/sirupsen/logrus"

	"account-api/internal/config"
)

// Mailer отправляет пользователю код подтверждения email.
type Mailer interface {
	SendVerificationCode(to, code string) error
}

// SMTPMailer — реализация поверх обычного SMTP со STARTTLS.
type SMTPMailer struct {
	cfg *config.Config
}

// NewSMTPMailer создаёт SMTP-отправитель.
func NewSMTPMailer(cfg *config.Config) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// SendVerificationCode отправляет письмо со ссылкой подтверждения.
func (m *SMTPMailer) SendVerificationCode(to, code string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
	auth := smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPassword, m.cfg.SMTPHost)

	link := fmt.Sprintf("%s/users/verify/%s", m.cfg.VerifyBaseURL, code)
	body := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: Подтверждение адреса\r\n\r\n"+
			"Для подтверждения адреса перейдите по ссылке:\r\n%s\r\n",
		m.cfg.SMTPFrom, to, link,
	)

	if err := smtp.SendMail(addr, auth, m.cfg.SMTPFrom, []string{to}, []byte(body)); err != nil {
		return fmt.Errorf("ошибка отправки письма: %w", err)
	}
	return nil
}

// LogMailer пишет код в лог вместо отправки. Используется в development
// и в тестах, когда SMTP не настроен.
type LogMailer struct{}

// SendVerificationCode логирует код вместо отправки письма.
func (LogMailer) SendVerificationCode(to, code string) error {
	preview := code
	if len(preview) > 16 {
		preview = preview[:16] + "..."
	}
	log.WithFields(log.Fields{
		"to":   to,
		"code": preview,
	}).Info("SMTP не настроен, код подтверждения только в логе")
	return nil
}
