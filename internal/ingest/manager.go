package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/config"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/models"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/mqtt"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/repository"
)

// EventHandler 状态事件处理边界（Transition Detector）
type EventHandler interface {
	HandleEvent(ctx context.Context, event models.StatusEvent) error
}

// Publisher 实时事件发布边界（Event Bus）
type Publisher interface {
	Publish(ctx context.Context, event models.BusEvent) error
}

// BrokerManager 按租户维护 MQTT 连接并订阅设备状态主题
// 每个租户 project key 一条连接，用户名与密码都是该 key；
// 订阅该租户全部设备的 /v1/device/{deviceId}/active 主题（QoS 0）
type BrokerManager struct {
	config    *config.Config
	handler   EventHandler
	publisher Publisher
	logger    *zap.Logger

	mu      sync.Mutex
	conns   map[string]*tenantConn
	stopped bool

	// 丢弃的畸形消息计数（可观测性，见 DroppedMessages）
	dropped int64
}

type tenantConn struct {
	projectKey string
	client     *mqtt.Client
	deviceIDs  []string
	cancel     context.CancelFunc
}

// NewBrokerManager 创建连接管理器
func NewBrokerManager(cfg *config.Config, handler EventHandler, publisher Publisher, logger *zap.Logger) *BrokerManager {
	return &BrokerManager{
		config:    cfg,
		handler:   handler,
		publisher: publisher,
		logger:    logger,
		conns:     make(map[string]*tenantConn),
	}
}

// BuildTenantMap 把设备集合折叠成 project key → deviceId 列表
// 一个设备可属于多个分组，因此可能出现在多个租户连接里
func BuildTenantMap(devices []repository.DeviceInfo) map[string][]string {
	tenants := make(map[string][]string)
	for _, device := range devices {
		for _, key := range device.ProjectKeys {
			if key == "" {
				continue
			}
			tenants[key] = append(tenants[key], device.DeviceID)
		}
	}
	return tenants
}

// Start 为每个租户建立连接（各自独立的 goroutine 重试，互不阻塞）
func (m *BrokerManager) Start(ctx context.Context, tenants map[string][]string) error {
	for projectKey, deviceIDs := range tenants {
		if err := m.AddTenant(ctx, projectKey, deviceIDs); err != nil {
			return err
		}
	}

	m.logger.Info("Broker manager started",
		zap.Int("tenant_count", len(tenants)),
	)

	return nil
}

// AddTenant 为新租户开一条连接（设备上线无需重启进程）
func (m *BrokerManager) AddTenant(ctx context.Context, projectKey string, deviceIDs []string) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("broker manager is stopped")
	}
	if _, exists := m.conns[projectKey]; exists {
		m.mu.Unlock()
		return fmt.Errorf("tenant %s already has a connection", projectKey)
	}
	m.mu.Unlock()

	mqttCfg := &config.MQTTConfig{
		Broker:   m.config.Status.Broker,
		ClientID: m.config.Status.ClientIDPrefix + projectKey,
		// 租户 project key 同时作为用户名和密码
		Username:             projectKey,
		Password:             projectKey,
		QoS:                  m.config.Status.QoS,
		MaxReconnectInterval: m.config.Status.ReconnectMaxDelay,
	}

	conn := &tenantConn{
		projectKey: projectKey,
		deviceIDs:  deviceIDs,
	}

	// 每次连接建立（含自动重连）后恢复全部订阅
	client := mqtt.NewClient(mqttCfg, func() {
		m.subscribeAll(conn)
	}, m.logger)
	conn.client = client

	connCtx, cancel := context.WithCancel(ctx)
	conn.cancel = cancel

	m.mu.Lock()
	m.conns[projectKey] = conn
	m.mu.Unlock()

	go m.connectLoop(connCtx, conn)

	return nil
}

// RemoveTenant 拆除指定租户的连接与订阅
func (m *BrokerManager) RemoveTenant(projectKey string) {
	m.mu.Lock()
	conn, exists := m.conns[projectKey]
	if exists {
		delete(m.conns, projectKey)
	}
	m.mu.Unlock()

	if !exists {
		return
	}

	conn.cancel()
	if conn.client.IsConnected() {
		topics := make([]string, 0, len(conn.deviceIDs))
		for _, deviceID := range conn.deviceIDs {
			topics = append(topics, m.topicFor(deviceID))
		}
		if err := conn.client.Unsubscribe(topics...); err != nil {
			m.logger.Warn("Failed to unsubscribe tenant topics",
				zap.String("project_key", projectKey),
				zap.Error(err),
			)
		}
	}
	conn.client.Disconnect()

	m.logger.Info("Tenant connection removed",
		zap.String("project_key", projectKey),
	)
}

// Stop 拆除全部连接
func (m *BrokerManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	keys := make([]string, 0, len(m.conns))
	for key := range m.conns {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.RemoveTenant(key)
	}

	m.logger.Info("Broker manager stopped")
}

// DroppedMessages 已丢弃的畸形消息数
func (m *BrokerManager) DroppedMessages() int64 {
	return atomic.LoadInt64(&m.dropped)
}

// connectLoop 指数退避重试连接，间隔上限 2 秒
func (m *BrokerManager) connectLoop(ctx context.Context, conn *tenantConn) {
	delay := m.config.Status.ReconnectInitialDelay

	for {
		if ctx.Err() != nil {
			return
		}

		err := conn.client.Connect()
		if err == nil {
			// 订阅在 onConnect 回调里完成
			m.logger.Info("Tenant broker connected",
				zap.String("project_key", conn.projectKey),
				zap.Int("device_count", len(conn.deviceIDs)),
			)
			return
		}

		m.logger.Warn("Tenant broker connect failed, retrying",
			zap.String("project_key", conn.projectKey),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > m.config.Status.ReconnectMaxDelay {
			delay = m.config.Status.ReconnectMaxDelay
		}
	}
}

// subscribeAll 订阅租户全部设备主题
func (m *BrokerManager) subscribeAll(conn *tenantConn) {
	for _, deviceID := range conn.deviceIDs {
		topic := m.topicFor(deviceID)
		if err := conn.client.Subscribe(topic, m.config.Status.QoS, m.handleMessage); err != nil {
			m.logger.Error("Failed to subscribe device topic",
				zap.String("project_key", conn.projectKey),
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}
}

func (m *BrokerManager) topicFor(deviceID string) string {
	return fmt.Sprintf(m.config.Status.TopicTemplate, deviceID)
}

// handleMessage 解析原始负载并送入管道
// 畸形负载记日志并丢弃，连接保持存活
func (m *BrokerManager) handleMessage(topic string, payload []byte) error {
	event, err := ParseStatusMessage(topic, payload)
	if err != nil {
		atomic.AddInt64(&m.dropped, 1)
		m.logger.Warn("Dropping malformed status message",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	ctx := context.Background()

	// 实时总线永远收到事件，与变迁判定无关
	if err := m.publisher.Publish(ctx, models.BusEvent{
		DeviceID: event.DeviceID,
		Status:   models.NormalizeStatus(event.Status),
		Time:     event.Time,
	}); err != nil {
		m.logger.Error("Failed to publish bus event",
			zap.String("device_id", event.DeviceID),
			zap.Error(err),
		)
	}

	if err := m.handler.HandleEvent(ctx, *event); err != nil {
		m.logger.Error("Failed to handle status event",
			zap.String("device_id", event.DeviceID),
			zap.Error(err),
		)
	}

	return nil
}

// ParseStatusMessage 解析设备状态消息
// 主题: /v1/device/{deviceId}/active，负载: {"deviceId","status","createTime"}
func ParseStatusMessage(topic string, payload []byte) (*models.StatusEvent, error) {
	var msg models.RawStatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	deviceID := strings.TrimSpace(msg.DeviceID)
	if deviceID == "" {
		// 负载缺 deviceId 时退回主题段
		deviceID = deviceIDFromTopic(topic)
	}
	if deviceID == "" {
		return nil, fmt.Errorf("missing deviceId in topic %q and payload", topic)
	}

	eventTime := time.Now().UTC()
	if msg.CreateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.CreateTime); err == nil {
			eventTime = parsed
		}
	}

	return &models.StatusEvent{
		DeviceID: deviceID,
		Status:   msg.Status,
		Time:     eventTime,
	}, nil
}

func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	// "/v1/device/{deviceId}/active" → ["", "v1", "device", deviceId, "active"]
	if len(parts) == 5 && parts[1] == "v1" && parts[2] == "device" && parts[4] == "active" {
		return parts[3]
	}
	return ""
}
