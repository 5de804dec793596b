package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	logpkg "forgecore/common/logger"
	"forgecore/internal/config"
	"forgecore/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "forgecore-thermal")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting forgecore-thermal service",
		zap.Duration("poll_interval", cfg.Thermal.PollInterval),
		zap.Int("sensors", len(cfg.Thermal.Sensors)),
		zap.String("output_driver", cfg.Output.Driver),
		zap.Bool("audit_postgres", cfg.Audit.PostgresSink),
		zap.Bool("audit_redis", cfg.Audit.RedisSink),
	)

	// 创建服务
	thermalService, err := service.NewThermalService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create thermal service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := thermalService.Start(ctx); err != nil {
		thermalService.Stop()
		logger.Fatal("Failed to start thermal service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case <-thermalService.Loop().Done():
		logger.Error("Control loop exited unexpectedly")
	}

	// 先停止控制循环（输出禁用），再排空审计
	cancel()
	if err := thermalService.Stop(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
