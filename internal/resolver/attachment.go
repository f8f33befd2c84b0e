package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/repository"
)

// 挂载关系最多一层（数据录入侧保证），超出时只记录不传播
const maxAttachDepth = 1

// DeviceSource 设备查询边界
type DeviceSource interface {
	GetDeviceByURI(ctx context.Context, uri string) (*repository.DeviceInfo, error)
	GetAttachedDevices(ctx context.Context, hostURI string) ([]repository.DeviceInfo, error)
}

// StatusStore 状态读写边界
type StatusStore interface {
	Get(ctx context.Context, deviceID string) (*models.DeviceStatusInfo, error)
	SetRelatedStatus(ctx context.Context, deviceID string, relatedStatus string) error
}

// AttachmentResolver 挂载状态解析器
// 设备 D 状态落库后：
//  1. 若 D 挂载在宿主 H 上，重算 H 的 related_status
//  2. 若 D 自身是宿主，按挂载设备集合重算 D 的 related_status；
//     没有挂载设备时 D 的 related_status 默认 ACTIVE
type AttachmentResolver struct {
	devices DeviceSource
	status  StatusStore
	logger  *zap.Logger
}

// NewAttachmentResolver 创建挂载状态解析器
func NewAttachmentResolver(devices DeviceSource, status StatusStore, logger *zap.Logger) *AttachmentResolver {
	return &AttachmentResolver{
		devices: devices,
		status:  status,
		logger:  logger,
	}
}

// Apply 在设备自身状态写入后重算相关设备的 related_status
func (r *AttachmentResolver) Apply(ctx context.Context, device *repository.DeviceInfo) error {
	// 1. D 挂载在宿主上：重算宿主的 related_status
	if device.AttachedToURI.Valid && device.AttachedToURI.String != "" {
		host, err := r.devices.GetDeviceByURI(ctx, device.AttachedToURI.String)
		if err != nil {
			return fmt.Errorf("failed to look up host device: %w", err)
		}
		if host == nil {
			r.logger.Warn("Attached-to host not found",
				zap.String("device_id", device.DeviceID),
				zap.String("host_uri", device.AttachedToURI.String),
			)
		} else {
			if err := r.recomputeHost(ctx, host, 1); err != nil {
				return err
			}
		}
	}

	// 2. D 作为宿主：有挂载设备时按集合重算，否则默认 ACTIVE
	attached, err := r.devices.GetAttachedDevices(ctx, device.URI)
	if err != nil {
		return fmt.Errorf("failed to query attached devices: %w", err)
	}

	related := models.StatusActive
	if len(attached) > 0 {
		related, err = r.aggregate(ctx, attached)
		if err != nil {
			return err
		}
	}

	if err := r.status.SetRelatedStatus(ctx, device.DeviceID, related); err != nil {
		return err
	}

	return nil
}

// recomputeHost 重算宿主的 related_status（深度受 maxAttachDepth 限制）
func (r *AttachmentResolver) recomputeHost(ctx context.Context, host *repository.DeviceInfo, depth int) error {
	if depth > maxAttachDepth {
		r.logger.Warn("Attachment chain deeper than one level, propagation stopped",
			zap.String("device_id", host.DeviceID),
			zap.Int("depth", depth),
		)
		return nil
	}

	// 宿主自己又挂载在别的设备上：数据违反一层约束，记录但不继续传播
	if host.AttachedToURI.Valid && host.AttachedToURI.String != "" {
		r.logger.Warn("Host device is itself attached to another device",
			zap.String("device_id", host.DeviceID),
			zap.String("host_uri", host.AttachedToURI.String),
		)
	}

	attached, err := r.devices.GetAttachedDevices(ctx, host.URI)
	if err != nil {
		return fmt.Errorf("failed to query attached devices for host %s: %w", host.DeviceID, err)
	}

	related := models.StatusActive
	if len(attached) > 0 {
		related, err = r.aggregate(ctx, attached)
		if err != nil {
			return err
		}
	}

	if err := r.status.SetRelatedStatus(ctx, host.DeviceID, related); err != nil {
		return err
	}

	r.logger.Debug("Recomputed host related status",
		zap.String("device_id", host.DeviceID),
		zap.String("related_status", related),
		zap.Int("attached_count", len(attached)),
	)

	return nil
}

// aggregate 全部挂载设备 ACTIVE 时为 ACTIVE，否则 ERROR
func (r *AttachmentResolver) aggregate(ctx context.Context, attached []repository.DeviceInfo) (string, error) {
	for _, device := range attached {
		info, err := r.status.Get(ctx, device.DeviceID)
		if err != nil {
			return "", fmt.Errorf("failed to read status for attached device %s: %w", device.DeviceID, err)
		}
		// 未知或非 ACTIVE 的挂载设备都会把宿主拉到 ERROR
		if info == nil || info.Status != models.StatusActive {
			return models.StatusError, nil
		}
	}
	return models.StatusActive, nil
}
