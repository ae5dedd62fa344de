package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/saidmaadan/inventtiveapp/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 通过 SMTP 实现 Mailer。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendVerificationEmail 发送邮箱验证邮件。
func (n *EmailNotifier) SendVerificationEmail(to string, link string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Verify Your Email</h2>
    <p>Thanks for signing up! Click the button below to verify your email address:</p>
    <p><a href="%s" style="display: inline-block; padding: 12px 24px; background-color: #4F46E5; color: white; text-decoration: none; border-radius: 4px;">Verify Email</a></p>
    <p>If you didn't create an account, you can safely ignore this email.</p>
    <div style="margin-top: 20px; font-size: 0.9em; color: #666;">
      <p>If the button doesn't work, copy and paste this link into your browser:</p>
      <p>%s</p>
    </div>
  </div>
</body>
</html>`, link, link)

	if err := n.send(to, "Verify Your Email", body); err != nil {
		return err
	}
	n.logger.Info("verification email sent", slog.String("to", to))
	return nil
}

// SendPasswordResetEmail 发送密码重置邮件。
func (n *EmailNotifier) SendPasswordResetEmail(to string, link string) error {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Reset Your Password</h2>
    <p>You requested to reset your password. Click the button below to set a new password:</p>
    <p><a href="%s" style="display: inline-block; padding: 12px 24px; background-color: #4F46E5; color: white; text-decoration: none; border-radius: 4px;">Reset Password</a></p>
    <p>If you didn't request this, you can safely ignore this email.</p>
    <p>This link will expire in 1 hour.</p>
    <div style="margin-top: 20px; font-size: 0.9em; color: #666;">
      <p>If the button doesn't work, copy and paste this link into your browser:</p>
      <p>%s</p>
    </div>
  </div>
</body>
</html>`, link, link)

	if err := n.send(to, "Reset Your Password", body); err != nil {
		return err
	}
	n.logger.Info("password reset email sent", slog.String("to", to))
	return nil
}

// SendWelcomeEmail 发送订阅欢迎邮件。
func (n *EmailNotifier) SendWelcomeEmail(to string, back bool) error {
	subject := "Welcome to Inventtive Newsletter!"
	body := `<h1>Welcome to Inventtive Newsletter!</h1>
<p>Thank you for subscribing to our newsletter.</p>
<p>You'll receive updates about our latest content and features.</p>`
	if back {
		subject = "Welcome Back to Inventtive Newsletter!"
		body = `<h1>Welcome Back!</h1>
<p>We're glad to have you back on our newsletter list.</p>
<p>You'll start receiving our updates again.</p>`
	}

	if err := n.send(to, subject, body); err != nil {
		return err
	}
	n.logger.Info("welcome email sent", slog.String("to", to))
	return nil
}

// SendCampaign 发送一封快讯邮件。
func (n *EmailNotifier) SendCampaign(to string, subject string, html string) error {
	return n.send(to, subject, html)
}

func (n *EmailNotifier) send(to string, subject string, body string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.cfg.FromEmail, n.cfg.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
