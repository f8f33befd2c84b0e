package models

import "time"

// DeviceStatusInfo 设备当前状态（device_status_info 表，每设备一行）
// 仅由 Transition Detector 写入；进程启动时全量重建
type DeviceStatusInfo struct {
	DeviceID       string
	Status         string
	PreviousStatus string
	// RelatedStatus 挂载设备聚合出的派生状态（区别于设备自身 Status）
	RelatedStatus string
	GroupsLength  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeviceStatusLog 状态变迁审计日志（device_status_log 表，只增不改）
type DeviceStatusLog struct {
	ID             int64
	DeviceID       string
	Status         string
	PreviousStatus string
	GroupsLength   int
	LogDateTime    time.Time
}
