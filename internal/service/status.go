package service

import (
	"context"
	"database/sql"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/bus"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/config"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/database"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/ingest"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/mailer"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/notifier"
	redisclient "github.com/rudolf1238/cityos-phase1-sub006/internal/redis"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/repository"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/resolver"
)

// StatusService 设备状态管道（整合各层）
type StatusService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *goredis.Client
	logger      *zap.Logger

	// 各层组件
	deviceRepo    *repository.DeviceRepository
	statusRepo    *repository.StatusRepository
	recipientRepo *repository.RecipientRepository
	emailLogRepo  *repository.EmailLogRepository
	eventBus      *bus.EventBus
	mailSender    *mailer.Mailer
	attachments   *resolver.AttachmentResolver
	detector      *notifier.TransitionDetector
	brokerManager *ingest.BrokerManager
}

// NewStatusService 创建状态服务
func NewStatusService(cfg *config.Config, logger *zap.Logger) (*StatusService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis
	redisClient := redisclient.NewRedisClient(&cfg.Redis)
	if err := redisclient.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	deviceRepo := repository.NewDeviceRepository(db, logger)
	statusRepo := repository.NewStatusRepository(db, logger)
	recipientRepo := repository.NewRecipientRepository(db, logger)
	emailLogRepo := repository.NewEmailLogRepository(db, logger)

	// 4. 事件总线与邮件发送
	eventBus := bus.NewEventBus(redisClient, cfg.Status.EventChannel, logger)
	mailSender := mailer.NewMailer(&cfg.SMTP, emailLogRepo, logger)

	// 5. 挂载解析与变迁检测
	attachments := resolver.NewAttachmentResolver(deviceRepo, statusRepo, logger)
	detector := notifier.NewTransitionDetector(
		statusRepo,
		deviceRepo,
		recipientRepo,
		mailSender,
		attachments,
		logger,
	)

	// 6. Broker 连接管理
	brokerManager := ingest.NewBrokerManager(cfg, detector, eventBus, logger)

	return &StatusService{
		config:        cfg,
		db:            db,
		redisClient:   redisClient,
		logger:        logger,
		deviceRepo:    deviceRepo,
		statusRepo:    statusRepo,
		recipientRepo: recipientRepo,
		emailLogRepo:  emailLogRepo,
		eventBus:      eventBus,
		mailSender:    mailSender,
		attachments:   attachments,
		detector:      detector,
		brokerManager: brokerManager,
	}, nil
}

// EventBus 实时事件总线（供订阅方使用）
func (s *StatusService) EventBus() *bus.EventBus {
	return s.eventBus
}

// BrokerManager Broker 连接管理器（供动态增删租户使用）
func (s *StatusService) BrokerManager() *ingest.BrokerManager {
	return s.brokerManager
}

// Start 启动服务
// 启动顺序约束：状态表对账必须在任何 Broker 事件进入管道之前完成；
// 设备集合读不到时直接失败，禁止在未知基线上处理实时事件
func (s *StatusService) Start(ctx context.Context) error {
	s.logger.Info("Starting status service")

	devices, err := s.deviceRepo.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device collection: %w", err)
	}

	if err := s.statusRepo.Initialize(ctx, devices); err != nil {
		return fmt.Errorf("failed to initialize status store: %w", err)
	}

	tenants := ingest.BuildTenantMap(devices)
	if err := s.brokerManager.Start(ctx, tenants); err != nil {
		return fmt.Errorf("failed to start broker manager: %w", err)
	}

	s.logger.Info("Status service started",
		zap.Int("device_count", len(devices)),
		zap.Int("tenant_count", len(tenants)),
	)

	return nil
}

// Stop 停止服务
func (s *StatusService) Stop() error {
	s.logger.Info("Stopping status service")

	s.brokerManager.Stop()
	s.eventBus.Shutdown()

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	return nil
}
