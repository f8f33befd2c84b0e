package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
)

// StatusRepository 设备状态存储（device_status_info + device_status_log）
type StatusRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStatusRepository 创建状态存储
func NewStatusRepository(db *sql.DB, logger *zap.Logger) *StatusRepository {
	return &StatusRepository{
		db:     db,
		logger: logger,
	}
}

// Initialize 启动对账：清空状态表，按设备集合快照重建，每设备写一条基线日志
// 必须在任何 Broker 事件进入管道之前完成
func (r *StatusRepository) Initialize(ctx context.Context, devices []DeviceInfo) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_status_info`); err != nil {
		return fmt.Errorf("failed to clear status info: %w", err)
	}

	now := time.Now().UTC()

	for _, device := range devices {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO device_status_info
				(device_id, status, previous_status, related_status, groups_length, created_at, updated_at)
			VALUES ($1, $2, '', '', $3, $4, $4)
		`, device.DeviceID, device.LastStatus, device.GroupsLength, now)
		if err != nil {
			return fmt.Errorf("failed to insert status info for %s: %w", device.DeviceID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO device_status_log
				(device_id, status, previous_status, groups_length, log_date_time)
			VALUES ($1, $2, '', $3, $4)
		`, device.DeviceID, device.LastStatus, device.GroupsLength, now)
		if err != nil {
			return fmt.Errorf("failed to insert status log for %s: %w", device.DeviceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status initialization: %w", err)
	}

	r.logger.Info("Status store initialized",
		zap.Int("device_count", len(devices)),
	)

	return nil
}

// Get 获取设备当前状态；设备未知时返回 (nil, nil)
func (r *StatusRepository) Get(ctx context.Context, deviceID string) (*models.DeviceStatusInfo, error) {
	query := `
		SELECT device_id, status, previous_status, related_status, groups_length, created_at, updated_at
		FROM device_status_info
		WHERE device_id = $1
	`

	var info models.DeviceStatusInfo
	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&info.DeviceID,
		&info.Status,
		&info.PreviousStatus,
		&info.RelatedStatus,
		&info.GroupsLength,
		&info.CreatedAt,
		&info.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			// 设备可能在事件到达前被移除，这不是错误
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query status info: %w", err)
	}

	return &info, nil
}

// SetStatus 无条件覆盖设备状态，旧值滚动到 previous_status
// 设备未知时为空操作；审计日志由调用方（Transition Detector）负责写入
func (r *StatusRepository) SetStatus(ctx context.Context, deviceID string, newStatus string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_status_info
		SET previous_status = status,
		    status = $2,
		    updated_at = $3
		WHERE device_id = $1
	`, deviceID, newStatus, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", deviceID, err)
	}

	return nil
}

// SetRelatedStatus 写入派生的挂载状态（不算状态变迁，不触发通知）
func (r *StatusRepository) SetRelatedStatus(ctx context.Context, deviceID string, relatedStatus string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_status_info
		SET related_status = $2,
		    updated_at = $3
		WHERE device_id = $1
	`, deviceID, relatedStatus, time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to update related status for %s: %w", deviceID, err)
	}

	return nil
}

// AppendLog 追加一条状态变迁日志
func (r *StatusRepository) AppendLog(ctx context.Context, entry *models.DeviceStatusLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_status_log
			(device_id, status, previous_status, groups_length, log_date_time)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.DeviceID, entry.Status, entry.PreviousStatus, entry.GroupsLength, entry.LogDateTime)

	if err != nil {
		return fmt.Errorf("failed to append status log for %s: %w", entry.DeviceID, err)
	}

	return nil
}

// RecentLogs 获取设备最近的变迁日志（按时间倒序）
func (r *StatusRepository) RecentLogs(ctx context.Context, deviceID string, limit int) ([]models.DeviceStatusLog, error) {
	query := `
		SELECT id, device_id, status, previous_status, groups_length, log_date_time
		FROM device_status_log
		WHERE device_id = $1
		ORDER BY log_date_time DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query status logs: %w", err)
	}
	defer rows.Close()

	var logs []models.DeviceStatusLog
	for rows.Next() {
		var entry models.DeviceStatusLog
		if err := rows.Scan(
			&entry.ID,
			&entry.DeviceID,
			&entry.Status,
			&entry.PreviousStatus,
			&entry.GroupsLength,
			&entry.LogDateTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan status log: %w", err)
		}
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status logs: %w", err)
	}

	return logs, nil
}
