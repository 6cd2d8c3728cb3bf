package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"submeta/pkg/contract"
)

// Options: 离线调试/集成测试用的确定性客户端配置。
type Options struct {
	// Identity: Authenticate 返回的身份；留空时取凭据用户名，再留空为 "mock"。
	Identity string `json:"identity,omitempty"`
	// Unavailable: 视为不存在的社区名（大小写不敏感）。
	Unavailable []string `json:"unavailable,omitempty"`
	// RateLimitFirst: 前 N 次 Lookup 返回 ErrRateLimited。
	RateLimitFirst int `json:"rate_limit_first,omitempty"`
	// NSFW: 标记为成人内容的社区名。
	NSFW []string `json:"nsfw,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 按名称哈希产出稳定的元信息，不发起任何网络请求。
type Client struct {
	identity    string
	unavailable map[string]struct{}
	nsfw        map[string]struct{}
	limitFirst  int32
	logPath     string

	count atomic.Int32
	mu    sync.Mutex
	seen  []string
}

var _ contract.LookupClient = (*Client)(nil)

// New 构造 Client。
func New(opts *Options, creds contract.Credentials) (*Client, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.RateLimitFirst < 0 {
		return nil, fmt.Errorf("mock: rate_limit_first must be >= 0: %w", contract.ErrInvalidInput)
	}
	id := o.Identity
	if id == "" {
		id = creds.Username
	}
	if id == "" {
		id = "mock"
	}
	return &Client{
		identity:    id,
		unavailable: setOf(o.Unavailable),
		nsfw:        setOf(o.NSFW),
		limitFirst:  int32(o.RateLimitFirst),
		logPath:     o.LogPath,
	}, nil
}

func setOf(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return m
}

func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.identity, nil
}

// Lookup 实现 contract.LookupClient。
func (c *Client) Lookup(ctx context.Context, name string) (contract.About, error) {
	if err := ctx.Err(); err != nil {
		return contract.About{}, err
	}
	n := c.count.Add(1)
	c.mu.Lock()
	c.seen = append(c.seen, name)
	c.mu.Unlock()
	if n <= c.limitFirst {
		c.log("rate_limited " + name)
		return contract.About{}, contract.ErrRateLimited
	}
	key := strings.ToLower(name)
	if _, ok := c.unavailable[key]; ok {
		c.log("not_found " + name)
		return contract.About{}, fmt.Errorf("mock %q: %w", name, contract.ErrNotFound)
	}
	c.log("ok " + name)
	_, adult := c.nsfw[key]
	return aboutFor(name, adult), nil
}

// Calls 返回累计 Lookup 次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

// Seen 返回按调用顺序记录的社区名副本。
func (c *Client) Seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

// aboutFor 由名称哈希派生 fullname 与订阅数。
func aboutFor(name string, nsfw bool) contract.About {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(name)))
	sum := h.Sum32()
	return contract.About{
		NSFW:        nsfw,
		Name:        "t5_" + strconv.FormatUint(uint64(sum), 36),
		Subscribers: int64(sum % 1_000_000),
	}
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}
