package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager 协调后台服务的停机。
// 它由上层模块（如shutdown）持有，并向各个后台服务分发句柄(Handle)。
type Manager struct {
	wg       sync.WaitGroup
	mu       sync.Mutex
	services map[string]bool
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager 创建一个新的生命周期管理器。logger 为nil时使用 slog.Default()。
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		services: make(map[string]bool),
		logger:   logger,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// NewServiceHandle 为一个服务创建生命周期句柄，并增加WaitGroup计数。
// 同名服务只能注册一次。
func (m *Manager) NewServiceHandle(name string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.services[name] {
		return nil, fmt.Errorf("生命周期管理器: 服务 '%s' 已被注册", name)
	}
	m.services[name] = true
	m.wg.Add(1)
	m.logger.Debug("生命周期管理器: 服务已注册", "service", name)

	var once sync.Once
	return &Handle{
		ctx: m.ctx,
		Close: func() {
			once.Do(func() {
				m.mu.Lock()
				defer m.mu.Unlock()
				delete(m.services, name)
				m.wg.Done()
			})
		},
	}, nil
}

// Go 注册一个服务并在新的goroutine中运行它，run 返回时句柄自动关闭。
func (m *Manager) Go(name string, run func(h *Handle)) error {
	h, err := m.NewServiceHandle(name)
	if err != nil {
		return err
	}
	go func() {
		defer h.Close()
		run(h)
	}()
	return nil
}

// Shutdown 广播停机信号
func (m *Manager) Shutdown() {
	m.logger.Info("生命周期管理器: 广播停机信号")
	m.cancel()
}

// WaitWithTimeout 等待所有已注册的服务完成，超时后返回仍未退出的服务名。
func (m *Manager) WaitWithTimeout(timeout time.Duration) []string {
	doneChan := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(doneChan)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-doneChan:
		return nil
	case <-timer.C:
		m.mu.Lock()
		defer m.mu.Unlock()
		remaining := make([]string, 0, len(m.services))
		for name := range m.services {
			remaining = append(remaining, name)
		}
		sort.Strings(remaining)
		return remaining
	}
}
