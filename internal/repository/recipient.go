package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
)

// RecipientRepository 通知接收人解析
// 关联链: 设备类型 → 启用且渠道匹配的通知规则 → 规则目标部门 ∩ 设备归属部门
//         → 部门内 is_maintenance 且账号有效的员工
type RecipientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecipientRepository 创建接收人仓库
func NewRecipientRepository(db *sql.DB, logger *zap.Logger) *RecipientRepository {
	return &RecipientRepository{
		db:     db,
		logger: logger,
	}
}

// ResolveRecipients 解析指定设备与渠道的全部接收人；空结果是合法的
func (r *RecipientRepository) ResolveRecipients(ctx context.Context, deviceID string, channel string) ([]models.NotificationRecipient, error) {
	query := `
		SELECT DISTINCT
			d.device_id,
			d.device_name,
			s.user_name,
			s.email,
			COALESCE(s.line_id, ''),
			COALESCE(s.phone, ''),
			COALESCE(s.language, '')
		FROM devices d
		JOIN notify_rules nr
			ON nr.device_type = d.device_type
			AND nr.enabled = TRUE
			AND nr.channel = $2
		JOIN notify_rule_divisions nrd
			ON nrd.rule_id = nr.rule_id
		JOIN device_divisions dd
			ON dd.division_id = nrd.division_id
			AND dd.device_id = d.device_id
		JOIN staff_divisions sd
			ON sd.division_id = nrd.division_id
		JOIN staff s
			ON s.user_id = sd.user_id
			AND s.is_maintenance = TRUE
			AND s.status = 'active'
		WHERE d.device_id = $1
		ORDER BY s.email
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []models.NotificationRecipient
	for rows.Next() {
		var recipient models.NotificationRecipient
		if err := rows.Scan(
			&recipient.DeviceID,
			&recipient.DeviceName,
			&recipient.RecipientName,
			&recipient.Email,
			&recipient.LineID,
			&recipient.Phone,
			&recipient.Language,
		); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipients: %w", err)
	}

	r.logger.Debug("Resolved notification recipients",
		zap.String("device_id", deviceID),
		zap.String("channel", channel),
		zap.Int("recipient_count", len(recipients)),
	)

	return recipients, nil
}
