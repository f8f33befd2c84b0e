package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
)

// EmailLogRepository 邮件发送审计日志（只增）
type EmailLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEmailLogRepository 创建邮件日志仓库
func NewEmailLogRepository(db *sql.DB, logger *zap.Logger) *EmailLogRepository {
	return &EmailLogRepository{
		db:     db,
		logger: logger,
	}
}

// Append 记录一次邮件发送尝试（成功与失败都要记录）
func (r *EmailLogRepository) Append(ctx context.Context, entry *models.EmailNotificationLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_notification_log
			(device_id, name, user_name, previous_status, current_status,
			 email, email_title, email_content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		entry.DeviceID,
		entry.Name,
		entry.UserName,
		entry.PreviousStatus,
		entry.CurrentStatus,
		entry.Email,
		entry.EmailTitle,
		entry.EmailContent,
		entry.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to append email log for %s: %w", entry.DeviceID, err)
	}

	return nil
}
