package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"submeta/internal/diag"
	"submeta/internal/rate"
	"submeta/pkg/contract"
)

// 默认值。
const (
	DefaultAttempts = 10
	DefaultBackoff  = time.Minute
)

// Fetcher 包装 LookupClient：限流时固定退避、有限次重试；单线程同步调用。
type Fetcher struct {
	Client contract.LookupClient
	// Attempts: 尝试预算（含首次）；<=0 使用默认 10。
	// 最后一次尝试仍被限流时直接返回 ErrRetryExhausted，不再退避：
	// N 次尝试最多睡眠 N-1 次。
	Attempts int
	// Backoff: 限流后的退避时长；<0 使用默认 60s，0 表示不等待。
	Backoff time.Duration
	// Sleep: 可注入的睡眠（测试可跳过时间）；nil 使用 rate.SleepCtx。
	Sleep func(ctx context.Context, d time.Duration) error
	// Gate: 可选的主动限速；每次查询前等待。
	Gate *rate.Gate

	Logger   *diag.Logger
	Console  *diag.Console
	Counters *diag.Counters
}

// Fetch 为一行输入产生恰好一条结果。
// - 成功：Available=true；
// - ErrNotFound：Available=false，不重试；
// - ErrRateLimited：记录、退避、重试，直到预算耗尽返回 ErrRetryExhausted；
// - ctx 取消：立即返回 ctx.Err()；
// - 其他错误：原样返回（调用方视为致命）。
func (f *Fetcher) Fetch(ctx context.Context, row contract.InputRow) (contract.LookupResult, error) {
	if f == nil || f.Client == nil {
		return contract.LookupResult{}, errors.New("fetch: missing client")
	}
	name := strings.TrimSpace(row.Name)
	if name == "" {
		return contract.LookupResult{}, fmt.Errorf("%w: empty community name at row %d", contract.ErrInvalidInput, row.Index)
	}
	attempts := f.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	backoff := f.Backoff
	if backoff < 0 {
		backoff = DefaultBackoff
	}
	sleep := f.Sleep
	if sleep == nil {
		sleep = rate.SleepCtx
	}
	batch := fmt.Sprintf("%d", row.Index)

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := f.Gate.Wait(ctx); err != nil {
			return contract.LookupResult{}, err
		}
		t := f.Logger.StartWithKV("fetch", "lookup", batch, map[string]string{
			"subreddit": name,
			"attempt":   fmt.Sprintf("%d", attempt),
		})
		about, err := f.Client.Lookup(ctx, name)
		if err == nil {
			t.Finish("lookup", 1)
			f.Counters.Inc(diag.MetricFetched, 1)
			return contract.Found(row.Name, about), nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return contract.LookupResult{}, cerr
		}
		switch {
		case errors.Is(err, contract.ErrNotFound):
			// 不存在/封禁/私有：本地恢复
			f.Logger.Info("fetch", "unavailable", map[string]string{"subreddit": name})
			f.Counters.Inc(diag.MetricFetched, 1)
			f.Counters.Inc(diag.MetricUnavailable, 1)
			return contract.Unavailable(row.Name), nil
		case errors.Is(err, contract.ErrRateLimited):
			f.Counters.Inc(diag.MetricRateLimited, 1)
			f.Logger.Warn("fetch", string(diag.CodeRateLimited), "rate limited", upstreamKV(err, map[string]string{
				"subreddit": name,
				"attempt":   fmt.Sprintf("%d", attempt),
			}))
			if attempt == attempts {
				break
			}
			f.Console.Printf("TooManyRequests: Retrying in %s", humanDur(backoff))
			if serr := sleep(ctx, backoff); serr != nil {
				return contract.LookupResult{}, serr
			}
			continue
		default:
			f.Logger.ErrorWithKV("fetch", string(diag.Classify(err)), "lookup failed", nil, batch, upstreamKV(err, map[string]string{"subreddit": name}))
			return contract.LookupResult{}, fmt.Errorf("lookup %q: %w", name, err)
		}
	}
	f.Logger.ErrorWithKV("fetch", string(diag.CodeBudget), "retry budget exhausted", nil, batch, map[string]string{
		"subreddit": name,
		"attempts":  fmt.Sprintf("%d", attempts),
	})
	return contract.LookupResult{}, fmt.Errorf("lookup %q after %d attempts: %w", name, attempts, contract.ErrRetryExhausted)
}

// upstreamKV 若为上游 HTTP 错误，附带状态码/消息。
func upstreamKV(err error, kv map[string]string) map[string]string {
	var ue contract.UpstreamError
	if !errors.As(err, &ue) {
		return kv
	}
	kv["http_status"] = fmt.Sprintf("%d", ue.UpstreamStatus())
	if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
		if len(m) > 200 {
			m = m[:200]
		}
		kv["upstream_msg"] = m
	}
	return kv
}

func humanDur(d time.Duration) string {
	if d == time.Minute {
		return "1 minute"
	}
	return d.String()
}
