package models

import (
	"strings"
	"time"
)

// 设备状态枚举值
const (
	StatusActive = "ACTIVE"
	StatusError  = "ERROR"
)

// NormalizeStatus 归一化设备上报的原始状态字符串
// "start" / "online" 视为 ACTIVE，其余一律视为 ERROR
func NormalizeStatus(raw string) string {
	switch strings.TrimSpace(raw) {
	case "start", "online":
		return StatusActive
	default:
		return StatusError
	}
}

// RawStatusMessage 设备上报的原始 MQTT 负载
// 主题格式: /v1/device/{deviceId}/active
type RawStatusMessage struct {
	DeviceID   string `json:"deviceId"`
	Status     string `json:"status"`
	CreateTime string `json:"createTime"` // ISO-8601
}

// StatusEvent 解析后的状态事件（归一化前的状态保留在 Status 中）
type StatusEvent struct {
	DeviceID string
	Status   string
	Time     time.Time
}

// BusEvent 发布到实时事件频道的归一化元组
type BusEvent struct {
	DeviceID string    `json:"deviceId"`
	Status   string    `json:"status"`
	Time     time.Time `json:"time"`
}
