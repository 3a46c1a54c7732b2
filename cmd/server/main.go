package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SlpAus/agm-voting-backend/api"
	"github.com/SlpAus/agm-voting-backend/internal/platform/config"
	"github.com/SlpAus/agm-voting-backend/internal/platform/database"
	"github.com/SlpAus/agm-voting-backend/internal/platform/health"
	"github.com/SlpAus/agm-voting-backend/internal/platform/shutdown"
	"github.com/SlpAus/agm-voting-backend/internal/platform/startup"
	"github.com/SlpAus/agm-voting-backend/pkg/lifecycle"
)

func newLogger(mode string) *slog.Logger {
	if mode == gin.ReleaseMode {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("加载配置失败", "error", err)
		os.Exit(1)
	}
	gin.SetMode(cfg.Server.Mode)
	logger := newLogger(cfg.Server.Mode)
	slog.SetDefault(logger)

	ctx := context.Background()

	// 1. 连接持久化数据库与Redis
	if err := database.InitDB(cfg.Database); err != nil {
		fatal(logger, "数据库初始化失败", err)
	}
	rdb := database.InitRedis(cfg.Redis)

	app := api.NewApp(cfg, database.DB, rdb, logger)

	// 2. 阻塞式获取初始Run ID
	var checker *health.Checker
	if rdb != nil {
		checker = health.NewChecker(rdb, app.RebuildCache, logger.With("component", "health"))
		checker.InitializeRunID(ctx)
	}

	// 3. 执行应用首次启动初始化流程
	if err := startup.InitializeApplication(ctx, database.DB, app.Motions); err != nil {
		fatal(logger, "应用初始化失败，无法启动", err)
	}

	// 4. 阻塞式执行一次启动后健康检查
	if checker != nil {
		logger.Info("正在执行启动后健康检查")
		checker.PerformCheck(ctx)
	}

	// 5. 启动后台服务
	graceful := lifecycle.NewManager(logger)
	forceful := lifecycle.NewManager(logger)
	if checker != nil {
		if err := forceful.Go("redis-health", checker.Run); err != nil {
			fatal(logger, "启动健康检查失败", err)
		}
	}
	err = graceful.Go("motion-autoclose", func(h *lifecycle.Handle) {
		app.Motions.RunAutoClose(h, cfg.Motions.AutoCloseInterval)
	})
	if err != nil {
		fatal(logger, "启动自动关闭任务失败", err)
	}
	err = graceful.Go("tally-reconciler", func(h *lifecycle.Handle) {
		app.Motions.RunReconciler(h, cfg.Motions.ReconcileInterval)
	})
	if err != nil {
		fatal(logger, "启动计票校正任务失败", err)
	}

	// 6. 启动HTTP服务器
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           app.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("服务器已准备就绪", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "HTTP服务器异常退出", err)
		}
	}()

	// 7. 等待信号并停机
	coordinator := shutdown.NewCoordinator(graceful, forceful, logger)
	coordinator.Finalizers = append(coordinator.Finalizers, func() error {
		if rdb != nil {
			return rdb.Close()
		}
		return nil
	}, database.Close)
	coordinator.ListenForSignalsAndShutdown(server)
}
