package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Console 控制台提示（面向操作者）：每行形如 "[15:04:05] message"，本地时间。
// 并发安全；写失败后进入禁用态为 no-op。nil *Console 同样为 no-op。
type Console struct {
	w       io.Writer
	enabled bool
	now     func() time.Time
	mu      sync.Mutex
}

// NewConsole 构造控制台提示器；w 为空时写 stdout。
func NewConsole(w io.Writer, enabled bool) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w, enabled: enabled, now: time.Now}
}

// Printf 输出一行带时间戳的消息。
func (c *Console) Printf(format string, a ...any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	msg := safe(fmt.Sprintf(format, a...))
	line := fmt.Sprintf("[%s] %s\n", c.now().Format("15:04:05"), msg)
	if _, err := io.WriteString(c.w, line); err != nil {
		c.enabled = false
	}
}

// Progress 输出进度与线性 ETA。
func (c *Console) Progress(done, total int, window time.Duration, etaMinutes int) {
	c.Printf("Processing... [%d/%d] +%s  (Time left: %d minutes)", done, total, formatDur(window), etaMinutes)
}

// safe 避免换行等控制字符污染终端。
func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
