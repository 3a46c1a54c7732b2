package lifecycle

import (
	"context"
	"time"
)

// Handle 是分发给每个后台服务的生命周期控制器。
type Handle struct {
	ctx context.Context
	// Close 通知Manager其所属的服务已经退出，应在服务的goroutine退出前 defer 调用。
	// 重复调用是安全的。
	Close func()
}

// Ctx 返回Handle内部的ctx
func (h *Handle) Ctx() context.Context {
	return h.ctx
}

// Done 返回一个channel，当生命周期管理器发出停机信号时关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Err 在Done()关闭后返回上下文被取消的原因。
func (h *Handle) Err() error {
	return h.ctx.Err()
}

// Sleep 暂停指定的时长，如果句柄被取消则提前返回错误。
// 所有后台轮询循环都应该用它代替 time.Sleep。
func (h *Handle) Sleep(duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-h.Done():
		return h.Err()
	case <-timer.C:
		return nil
	}
}

// Tick 按固定间隔调用 fn，直到句柄被取消。
func (h *Handle) Tick(interval time.Duration, fn func()) {
	for {
		if err := h.Sleep(interval); err != nil {
			return
		}
		fn()
	}
}
