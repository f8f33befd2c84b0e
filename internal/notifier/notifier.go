package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/repository"
)

// StatusStore 状态存储边界
type StatusStore interface {
	Get(ctx context.Context, deviceID string) (*models.DeviceStatusInfo, error)
	SetStatus(ctx context.Context, deviceID string, newStatus string) error
	AppendLog(ctx context.Context, entry *models.DeviceStatusLog) error
}

// DeviceSource 设备查询边界
type DeviceSource interface {
	GetDevice(ctx context.Context, deviceID string) (*repository.DeviceInfo, error)
}

// RecipientSource 接收人解析边界
type RecipientSource interface {
	ResolveRecipients(ctx context.Context, deviceID string, channel string) ([]models.NotificationRecipient, error)
}

// Notifier 通知投递边界
type Notifier interface {
	Notify(ctx context.Context, device *repository.DeviceInfo, previousStatus, currentStatus string, eventTime time.Time, recipients []models.NotificationRecipient)
}

// AttachmentResolver 挂载状态重算边界
type AttachmentResolver interface {
	Apply(ctx context.Context, device *repository.DeviceInfo) error
}

// TransitionDetector 状态变迁检测与通知编排
// 规则：
//   - 未知设备的事件直接丢弃
//   - 首次观测（当前状态为空）只落库，不通知、不写审计日志
//   - 归一化后与当前状态相同的事件为重复事件，完全空操作（去重保证）
//   - 真正的状态变迁才触发：接收人解析 → 逐人发邮件 → 状态覆盖 → 审计日志
type TransitionDetector struct {
	store       StatusStore
	devices     DeviceSource
	recipients  RecipientSource
	mailer      Notifier
	attachments AttachmentResolver
	logger      *zap.Logger
}

// NewTransitionDetector 创建变迁检测器
func NewTransitionDetector(
	store StatusStore,
	devices DeviceSource,
	recipients RecipientSource,
	mailer Notifier,
	attachments AttachmentResolver,
	logger *zap.Logger,
) *TransitionDetector {
	return &TransitionDetector{
		store:       store,
		devices:     devices,
		recipients:  recipients,
		mailer:      mailer,
		attachments: attachments,
		logger:      logger,
	}
}

// HandleEvent 处理一条解析后的状态事件
// 同一设备的事件由其 Broker 连接串行投递，这里不做设备级加锁
func (d *TransitionDetector) HandleEvent(ctx context.Context, event models.StatusEvent) error {
	normalized := models.NormalizeStatus(event.Status)

	info, err := d.store.Get(ctx, event.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to read status info: %w", err)
	}
	if info == nil {
		// 设备可能已被移除，静默丢弃
		d.logger.Debug("Dropping event for unknown device",
			zap.String("device_id", event.DeviceID),
		)
		return nil
	}

	current := strings.TrimSpace(info.Status)

	// 重复事件：同一状态值只通知一次
	if current == normalized {
		d.logger.Debug("Duplicate status event, no-op",
			zap.String("device_id", event.DeviceID),
			zap.String("status", normalized),
		)
		return nil
	}

	device, err := d.devices.GetDevice(ctx, event.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to read device: %w", err)
	}
	if device == nil {
		d.logger.Debug("Dropping event for removed device",
			zap.String("device_id", event.DeviceID),
		)
		return nil
	}

	// 首次观测：只建立基线，不算变迁
	if current == "" {
		if err := d.store.SetStatus(ctx, event.DeviceID, normalized); err != nil {
			return err
		}
		if err := d.attachments.Apply(ctx, device); err != nil {
			d.logger.Error("Failed to recompute attachment status",
				zap.String("device_id", event.DeviceID),
				zap.Error(err),
			)
		}
		d.logger.Info("First status observation recorded",
			zap.String("device_id", event.DeviceID),
			zap.String("status", normalized),
		)
		return nil
	}

	// 状态变迁
	recipients, err := d.recipients.ResolveRecipients(ctx, event.DeviceID, models.ChannelEmail)
	if err != nil {
		// 接收人解析失败不丢状态，降级为零通知
		d.logger.Error("Failed to resolve recipients",
			zap.String("device_id", event.DeviceID),
			zap.Error(err),
		)
		recipients = nil
	}
	for i := range recipients {
		recipients[i].PreviousStatus = current
	}

	if len(recipients) > 0 {
		d.mailer.Notify(ctx, device, current, normalized, event.Time, recipients)
	}

	if err := d.store.SetStatus(ctx, event.DeviceID, normalized); err != nil {
		return err
	}

	if err := d.store.AppendLog(ctx, &models.DeviceStatusLog{
		DeviceID:       event.DeviceID,
		Status:         normalized,
		PreviousStatus: current,
		GroupsLength:   info.GroupsLength,
		LogDateTime:    time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := d.attachments.Apply(ctx, device); err != nil {
		d.logger.Error("Failed to recompute attachment status",
			zap.String("device_id", event.DeviceID),
			zap.Error(err),
		)
	}

	d.logger.Info("Status transition applied",
		zap.String("device_id", event.DeviceID),
		zap.String("previous_status", current),
		zap.String("status", normalized),
		zap.Int("recipient_count", len(recipients)),
	)

	return nil
}
