package models

import "time"

// 通知渠道
const (
	ChannelEmail = "EMAIL"
)

// NotificationRecipient 单次变迁通知的接收人（派生数据，不落库）
type NotificationRecipient struct {
	DeviceID       string
	DeviceName     string
	PreviousStatus string
	RecipientName  string
	Email          string
	LineID         string
	Phone          string
	EmailTitle     string
	EmailContent   string
	Language       string
}

// EmailNotificationLog 邮件发送审计日志（每次尝试一行，无论成败）
type EmailNotificationLog struct {
	DeviceID       string
	Name           string
	UserName       string
	PreviousStatus string
	CurrentStatus  string
	Email          string
	EmailTitle     string
	EmailContent   string
	CreatedAt      time.Time
}
