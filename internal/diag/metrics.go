package diag

import (
	"sort"
	"sync"
)

// 计数器名称。
const (
	MetricFetched     = "fetched"
	MetricUnavailable = "unavailable"
	MetricRateLimited = "rate_limited"
	MetricBatches     = "batches"
	MetricRows        = "rows_written"
)

// Counters 进程内计数器（并发安全），用于运行结束时的汇总。
// nil *Counters 为 no-op。
type Counters struct {
	mu sync.Mutex
	m  map[string]int64
}

func NewCounters() *Counters { return &Counters{m: make(map[string]int64)} }

// Inc 累加计数。
func (c *Counters) Inc(name string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.m[name] += n
	c.mu.Unlock()
}

// Get 返回当前值。
func (c *Counters) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

// Names 返回已出现的计数器名（升序）。
func (c *Counters) Names() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.m))
	for k := range c.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
