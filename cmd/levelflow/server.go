package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/levelflow/levelflow/api/handlers"
	"github.com/levelflow/levelflow/api/stream"
	"github.com/levelflow/levelflow/config"
	"github.com/levelflow/levelflow/internal/database"
	"github.com/levelflow/levelflow/internal/metrics"
	"github.com/levelflow/levelflow/internal/server"
	"github.com/levelflow/levelflow/internal/telemetry"
	"github.com/levelflow/levelflow/provider"
	"github.com/levelflow/levelflow/service"
	"github.com/levelflow/levelflow/storage"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 LevelFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager
	orch        *service.Orchestrator
	hub         *stream.Hub
	dbMonitor   *database.Monitor

	// 指标收集器
	collector *metrics.Collector

	// OpenTelemetry providers
	otelProviders *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.collector = metrics.NewCollector("levelflow", s.logger)

	// 2. 初始化 OpenTelemetry
	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otelProviders = otelProviders

	// 3. 构建执行进度枢纽与服务编排器
	s.hub = stream.NewHub(s.logger)
	s.orch = service.NewOrchestrator(s.serviceConfig(), s.logger)

	// 4. 预热服务：启动时就完成初始化并重新武装持久化的触发器
	svc, err := s.orch.Get(context.Background())
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	s.startDBMonitor(svc)

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("addr", s.cfg.Server.Addr),
		zap.String("storage", s.cfg.Storage.Type),
	)
	return nil
}

// serviceConfig 把应用配置映射为编排器配置
func (s *Server) serviceConfig() service.Config {
	return service.Config{
		Storage: storage.Config{
			Type: storage.StoreType(s.cfg.Storage.Type),
			DSN:  s.cfg.Storage.BuildDSN(),
			Redis: storage.RedisConfig{
				Host:      s.cfg.Storage.Host,
				Port:      s.cfg.Storage.Port,
				Password:  s.cfg.Storage.Password,
				DB:        s.cfg.Storage.RedisDB,
				PoolSize:  s.cfg.Storage.PoolSize,
				KeyPrefix: s.cfg.Storage.KeyPrefix,
			},
			Pool: storage.PoolConfig{
				MaxIdleConns:    s.cfg.Storage.MaxIdleConns,
				MaxOpenConns:    s.cfg.Storage.MaxOpenConns,
				ConnMaxLifetime: s.cfg.Storage.ConnMaxLifetime,
			},
			RunRetention: s.cfg.Storage.RunRetention,
		},
		Provider: provider.Config{
			APIKey:  s.cfg.Provider.APIKey,
			BaseURL: s.cfg.Provider.BaseURL,
			Model:   s.cfg.Provider.Model,
			Timeout: s.cfg.Provider.Timeout,
		},
		LevelTimeout:   s.cfg.Engine.LevelTimeout,
		HealthInterval: s.cfg.Health.Interval,
		HealthMonitor:  s.cfg.HealthMonitorEnabled(),
		Metrics:        s.collector,
		Observer:       s.hub,
	}
}

// startDBMonitor 对 SQL 后端启动连接池采样，其他后端无事可做
func (s *Server) startDBMonitor(svc *service.Service) {
	gs, ok := svc.Store.(*storage.GormStore)
	if !ok {
		return
	}
	sqlDB, err := gs.DB().DB()
	if err != nil {
		s.logger.Warn("failed to access sql.DB for pool monitoring", zap.Error(err))
		return
	}
	s.dbMonitor = database.NewMonitor(s.cfg.Storage.Type, sqlDB, s.collector, s.cfg.Health.Interval, s.logger)
	s.dbMonitor.Start()
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 生产环境对客户端隐藏内部错误细节
	handlers.SetProductionMode(s.cfg.Production())

	// REST 路由（含 /healthz /readyz /v1/status）
	handlers.RegisterRoutes(mux, s.orch, s.logger)

	// WebSocket 执行日志流
	stream.NewHandler(s.orch, s.hub, s.logger).RegisterRoutes(mux)

	// 版本信息端点
	mux.HandleFunc("GET /version", handlers.HandleVersion(Version, BuildTime, GitCommit))

	// Prometheus 指标
	mux.Handle("GET /metrics", promhttp.Handler())

	// ========================================
	// 构建中间件链
	// ========================================
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.RateLimit.Enabled {
		rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = rateLimiterCancel
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger))
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager(handler, s.cfg.Server, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.cfg.Server.Addr))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine 与连接池采样
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.dbMonitor != nil {
		s.dbMonitor.Stop()
	}

	// 1. 关闭 HTTP 服务器，不再接收新请求
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭编排器：停触发器、等在途执行、关存储
	if s.orch != nil {
		if err := s.orch.Shutdown(ctx); err != nil {
			s.logger.Error("Orchestrator shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭遥测导出器
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
