package mailer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/config"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/repository"
)

// Dialer SMTP 发送边界（便于单元测试注入）
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailLogStore 邮件审计日志边界
type EmailLogStore interface {
	Append(ctx context.Context, entry *models.EmailNotificationLog) error
}

// Mailer 通知邮件的渲染与发送
type Mailer struct {
	config   *config.SMTPConfig
	dialer   Dialer
	emailLog EmailLogStore
	logger   *zap.Logger
}

// NewMailer 创建邮件发送器
func NewMailer(cfg *config.SMTPConfig, emailLog EmailLogStore, logger *zap.Logger) *Mailer {
	return &Mailer{
		config:   cfg,
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		emailLog: emailLog,
		logger:   logger,
	}
}

// NewMailerWithDialer 使用自定义 Dialer 创建（测试用）
func NewMailerWithDialer(cfg *config.SMTPConfig, dialer Dialer, emailLog EmailLogStore, logger *zap.Logger) *Mailer {
	return &Mailer{
		config:   cfg,
		dialer:   dialer,
		emailLog: emailLog,
		logger:   logger,
	}
}

// Compose 渲染邮件标题与正文（事件时间按 UTC 展示）
func Compose(deviceID, deviceName, currentStatus string, eventTime time.Time) (title string, content string) {
	title = fmt.Sprintf("[CityOS] Device %s is %s", deviceName, currentStatus)
	content = fmt.Sprintf(
		`<html><body>
<p>Device status changed.</p>
<table>
<tr><td>Device ID</td><td>%s</td></tr>
<tr><td>Device Name</td><td>%s</td></tr>
<tr><td>Status</td><td>%s</td></tr>
<tr><td>Time (UTC)</td><td>%s</td></tr>
</table>
<img src="cid:branding.png" alt=""/>
</body></html>`,
		deviceID, deviceName, currentStatus, eventTime.UTC().Format(time.RFC3339),
	)
	return title, content
}

// Notify 给全部接收人逐一发送变迁通知
// 单个接收人发送失败不影响其余接收人；每次尝试都写一条审计日志
func (m *Mailer) Notify(
	ctx context.Context,
	device *repository.DeviceInfo,
	previousStatus string,
	currentStatus string,
	eventTime time.Time,
	recipients []models.NotificationRecipient,
) {
	for _, recipient := range recipients {
		title, content := Compose(device.DeviceID, device.DeviceName, currentStatus, eventTime)

		msg := gomail.NewMessage()
		msg.SetHeader("From", m.config.From)
		msg.SetHeader("To", recipient.Email)
		msg.SetHeader("Subject", title)
		msg.SetBody("text/html", content)
		if m.config.BrandingImage != "" {
			msg.Embed(m.config.BrandingImage, gomail.Rename("branding.png"))
		}

		if err := m.dialer.DialAndSend(msg); err != nil {
			m.logger.Error("Failed to send notification email",
				zap.String("device_id", device.DeviceID),
				zap.String("email", recipient.Email),
				zap.Error(err),
			)
		}

		// 无论成败都记录尝试
		logEntry := &models.EmailNotificationLog{
			DeviceID:       device.DeviceID,
			Name:           device.DeviceName,
			UserName:       recipient.RecipientName,
			PreviousStatus: previousStatus,
			CurrentStatus:  currentStatus,
			Email:          recipient.Email,
			EmailTitle:     title,
			EmailContent:   content,
			CreatedAt:      time.Now().UTC(),
		}
		if err := m.emailLog.Append(ctx, logEntry); err != nil {
			m.logger.Error("Failed to write email notification log",
				zap.String("device_id", device.DeviceID),
				zap.String("email", recipient.Email),
				zap.Error(err),
			)
		}
	}
}
