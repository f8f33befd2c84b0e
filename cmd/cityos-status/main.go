package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rudolf1238/cityos-phase1-sub006/internal/config"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/logger"
	"github.com/rudolf1238/cityos-phase1-sub006/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "cityos-status")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting cityos-status service",
		zap.String("mqtt_broker", cfg.Status.Broker),
		zap.String("event_channel", cfg.Status.EventChannel),
	)

	// 创建服务
	statusService, err := service.NewStatusService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create status service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := statusService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start status service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := statusService.Stop(); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
