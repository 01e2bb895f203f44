package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"bookstore/internal/config"

	"gopkg.in/gomail.v2"
)

// mailSender 抽象 SMTP 发送，*gomail.Dialer 实现了该接口。
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 通过 SMTP 发送账户相关邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	sender mailSender
}

// NewEmailNotifier 创建邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
		sender: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
	}
}

// Configured 判断 SMTP 配置是否完整。
func (n *EmailNotifier) Configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// SendWelcome 发送注册欢迎邮件。SMTP 未配置时跳过并返回 nil。
func (n *EmailNotifier) SendWelcome(ctx context.Context, name, toEmail string) error {
	if !n.Configured() {
		n.logger.Warn("email config missing, skip welcome mail")
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "Welcome to the Bookstore")
	m.SetBody("text/html", welcomeBody(name))

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("welcome email sent", slog.String("to", toEmail))
	return nil
}

func welcomeBody(name string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Welcome, %s!</h2>
    <p>Your bookstore account is ready. You can now sign in and browse the catalogue.</p>
  </div>
</body>
</html>`, html.EscapeString(name))
}
