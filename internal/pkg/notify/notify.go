package notify

// Mailer 定义邮件发送接口。
type Mailer interface {
	// SendVerificationEmail 发送邮箱验证邮件，link 为完整验证链接。
	SendVerificationEmail(to string, link string) error
	// SendPasswordResetEmail 发送密码重置邮件，link 为完整重置链接。
	SendPasswordResetEmail(to string, link string) error
	// SendWelcomeEmail 发送订阅欢迎邮件；back 表示重新订阅。
	SendWelcomeEmail(to string, back bool) error
	// SendCampaign 发送一封快讯邮件（HTML 正文）。
	SendCampaign(to string, subject string, html string) error
}
