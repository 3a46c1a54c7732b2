package shutdown

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SlpAus/agm-voting-backend/pkg/lifecycle"
)

// Coordinator 负责编排应用程序的优雅停机流程。
// 它接收外部创建的生命周期管理器，并使用它们来协调停机。
type Coordinator struct {
	GracefulManager *lifecycle.Manager
	ForcefulManager *lifecycle.Manager

	// Finalizers 在所有后台服务退出后按顺序执行，例如关闭数据库连接
	Finalizers []func() error

	HTTPTimeout     time.Duration
	GracefulTimeout time.Duration
	ForcefulTimeout time.Duration

	logger *slog.Logger
}

// NewCoordinator 创建一个新的停机协调器。
func NewCoordinator(gracefulMgr, forcefulMgr *lifecycle.Manager, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		GracefulManager: gracefulMgr,
		ForcefulManager: forcefulMgr,
		HTTPTimeout:     15 * time.Second,
		GracefulTimeout: 30 * time.Second,
		ForcefulTimeout: 1 * time.Second,
		logger:          logger,
	}
}

// ListenForSignalsAndShutdown 启动信号监听并阻塞，直到停机流程完成。
func (c *Coordinator) ListenForSignalsAndShutdown(server *http.Server) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.Run(ctx, server)
}

// Run 阻塞直到 ctx 结束，然后执行停机流程
func (c *Coordinator) Run(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	c.logger.Info("收到关闭信号，开始优雅停机")

	// 关闭HTTP服务器，允许正在进行的请求完成
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.HTTPTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.logger.Error("HTTP服务器关闭错误", "error", err)
		} else {
			c.logger.Info("HTTP服务器已关闭")
		}
	}

	// --- 阶段一: 优雅停机 ---
	c.logger.Info("第一阶段停机", "timeout", c.GracefulTimeout)
	c.GracefulManager.Shutdown()

	remaining := c.GracefulManager.WaitWithTimeout(c.GracefulTimeout)
	if len(remaining) == 0 {
		c.logger.Info("所有服务已在第一阶段优雅关闭")
	} else {
		// --- 阶段二: 强制停机 ---
		c.logger.Warn("第一阶段超时，发送强制停机信号", "remaining", remaining, "timeout", c.ForcefulTimeout)
		c.ForcefulManager.Shutdown()
		c.ForcefulManager.WaitWithTimeout(c.ForcefulTimeout)
	}

	// --- 最终步骤 ---
	for _, finalize := range c.Finalizers {
		if err := finalize(); err != nil {
			c.logger.Error("停机收尾失败", "error", err)
		}
	}
	c.logger.Info("优雅停机完成")
}
