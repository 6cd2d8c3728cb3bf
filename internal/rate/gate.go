package rate

import (
	"context"
	"time"

	xrate "golang.org/x/time/rate"
)

// Gate: 主动限速闸门（每分钟请求数），并发安全。
// nil *Gate 或 rpm<=0 时所有方法立即放行。
type Gate struct {
	lim *xrate.Limiter
	rpm int
}

// NewGate 按 rpm 构造闸门；突发容量为 1，即请求均匀摊开。
func NewGate(rpm int) *Gate {
	if rpm <= 0 {
		return &Gate{}
	}
	every := time.Minute / time.Duration(rpm)
	return &Gate{lim: xrate.NewLimiter(xrate.Every(every), 1), rpm: rpm}
}

// Enabled 是否启用限速。
func (g *Gate) Enabled() bool { return g != nil && g.lim != nil }

// RPM 返回配置的每分钟请求数；未启用为 0。
func (g *Gate) RPM() int {
	if !g.Enabled() {
		return 0
	}
	return g.rpm
}

// Wait 阻塞直到额度可用或 ctx 取消。
func (g *Gate) Wait(ctx context.Context) error {
	if !g.Enabled() {
		return ctx.Err()
	}
	return g.lim.Wait(ctx)
}

// SleepCtx 睡眠 d 或直到 ctx 取消（返回 ctx.Err()）。
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
