package mailer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/config"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/mailer"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/repository"
)

// fakeDialer 仅用于单元测试（记录发送、可注入失败）
type fakeDialer struct {
	sent    []*gomail.Message
	failFor map[string]error // key = 收件人地址
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	for _, msg := range m {
		to := msg.GetHeader("To")
		if len(to) > 0 {
			if err, ok := f.failFor[to[0]]; ok {
				return err
			}
		}
		f.sent = append(f.sent, msg)
	}
	return nil
}

// fakeEmailLog 仅用于单元测试（内存审计日志）
type fakeEmailLog struct {
	entries []models.EmailNotificationLog
}

func (f *fakeEmailLog) Append(ctx context.Context, entry *models.EmailNotificationLog) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func setupMailer(t *testing.T) (*fakeDialer, *fakeEmailLog, *mailer.Mailer) {
	t.Helper()

	cfg := &config.SMTPConfig{
		Host: "localhost",
		Port: 25,
		From: "noreply@cityos.local",
	}
	dialer := &fakeDialer{failFor: make(map[string]error)}
	emailLog := &fakeEmailLog{}

	m := mailer.NewMailerWithDialer(cfg, dialer, emailLog, zap.NewNop())
	return dialer, emailLog, m
}

var testDevice = &repository.DeviceInfo{
	DeviceID:   "lamp-001",
	DeviceName: "Lamp 001",
}

func TestCompose(t *testing.T) {
	eventTime := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)

	title, content := mailer.Compose("lamp-001", "Lamp 001", "ERROR", eventTime)

	assert.Equal(t, "[CityOS] Device Lamp 001 is ERROR", title)
	assert.Contains(t, content, "lamp-001")
	assert.Contains(t, content, "Lamp 001")
	assert.Contains(t, content, "ERROR")
	assert.Contains(t, content, "2026-08-30T15:04:05Z")
}

func TestNotify_SendsOneMailPerRecipientAndLogsEach(t *testing.T) {
	dialer, emailLog, m := setupMailer(t)

	recipients := []models.NotificationRecipient{
		{RecipientName: "Alice", Email: "alice@example.com", PreviousStatus: "ACTIVE"},
		{RecipientName: "Bob", Email: "bob@example.com", PreviousStatus: "ACTIVE"},
	}

	m.Notify(context.Background(), testDevice, "ACTIVE", "ERROR", time.Now().UTC(), recipients)

	require.Len(t, dialer.sent, 2)
	assert.Equal(t, []string{"alice@example.com"}, dialer.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"bob@example.com"}, dialer.sent[1].GetHeader("To"))

	// 每次尝试一条审计日志
	require.Len(t, emailLog.entries, 2)
	assert.Equal(t, "lamp-001", emailLog.entries[0].DeviceID)
	assert.Equal(t, "Lamp 001", emailLog.entries[0].Name)
	assert.Equal(t, "Alice", emailLog.entries[0].UserName)
	assert.Equal(t, "ACTIVE", emailLog.entries[0].PreviousStatus)
	assert.Equal(t, "ERROR", emailLog.entries[0].CurrentStatus)
	assert.NotEmpty(t, emailLog.entries[0].EmailTitle)
	assert.NotEmpty(t, emailLog.entries[0].EmailContent)
}

func TestNotify_PartialFailureDoesNotAbortRemaining(t *testing.T) {
	dialer, emailLog, m := setupMailer(t)
	dialer.failFor["alice@example.com"] = errors.New("smtp unavailable")

	recipients := []models.NotificationRecipient{
		{RecipientName: "Alice", Email: "alice@example.com"},
		{RecipientName: "Bob", Email: "bob@example.com"},
	}

	m.Notify(context.Background(), testDevice, "ACTIVE", "ERROR", time.Now().UTC(), recipients)

	// Alice 失败，Bob 仍然发送
	require.Len(t, dialer.sent, 1)
	assert.Equal(t, []string{"bob@example.com"}, dialer.sent[0].GetHeader("To"))

	// 两次尝试都记录
	require.Len(t, emailLog.entries, 2)
	assert.Equal(t, "alice@example.com", emailLog.entries[0].Email)
	assert.Equal(t, "bob@example.com", emailLog.entries[1].Email)
}

func TestNotify_NoRecipientsIsValid(t *testing.T) {
	dialer, emailLog, m := setupMailer(t)

	m.Notify(context.Background(), testDevice, "ACTIVE", "ERROR", time.Now().UTC(), nil)

	assert.Empty(t, dialer.sent)
	assert.Empty(t, emailLog.entries)
}
