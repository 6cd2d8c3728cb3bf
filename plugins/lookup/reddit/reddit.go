package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"submeta/pkg/contract"
)

// Options: 最小必需配置；凭据不在此处，由 contract.Credentials 显式传入。
type Options struct {
	AuthURL        string `json:"auth_url"`        // 令牌端点，默认 https://www.reddit.com/api/v1/access_token
	APIURL         string `json:"api_url"`         // API 根，默认 https://oauth.reddit.com
	TimeoutSeconds int    `json:"timeout_seconds"` // 单次请求超时（秒），默认 30
}

func (o *Options) defaults() {
	if o.AuthURL == "" {
		o.AuthURL = "https://www.reddit.com/api/v1/access_token"
	}
	if o.APIURL == "" {
		o.APIURL = "https://oauth.reddit.com"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 30
	}
}

// Client 基于 OAuth2 password grant 的只读客户端（script 类型应用）。
// 令牌过期时由 ReuseTokenSource 自动重新登录。
type Client struct {
	conf  *oauth2.Config
	creds contract.Credentials
	base  *http.Client
	api   string
	do    func(*http.Request) (*http.Response, error)
}

var _ contract.LookupClient = (*Client)(nil)

// New 构造客户端；凭据缺失返回 ErrAuth。
func New(opts *Options, creds contract.Credentials) (*Client, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.defaults()
	var missing []string
	for k, v := range map[string]string{
		"CLIENT_ID":       creds.ClientID,
		"CLIENT_SECRET":   creds.ClientSecret,
		"REDDIT_USERNAME": creds.Username,
		"REDDIT_PASSWORD": creds.Password,
	} {
		if v == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("reddit: %w: missing %s", contract.ErrAuth, strings.Join(missing, ", "))
	}
	if strings.TrimSpace(creds.UserAgent) == "" {
		creds.UserAgent = "social_network_bot:v0.0.1"
	}
	timeout := time.Duration(o.TimeoutSeconds) * time.Second
	base := &http.Client{
		Timeout:   timeout,
		Transport: &uaTransport{ua: creds.UserAgent, base: http.DefaultTransport},
	}
	return &Client{
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: o.AuthURL, AuthStyle: oauth2.AuthStyleInHeader},
		},
		creds: creds,
		base:  base,
		api:   strings.TrimRight(o.APIURL, "/"),
	}, nil
}

// uaTransport 为每个请求设置 User-Agent（远端要求描述性 UA）。
type uaTransport struct {
	ua   string
	base http.RoundTripper
}

func (t *uaTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(r2)
}

// passwordSource 每次 Token() 走一次 password grant。
// ctx 为 Authenticate 时的运行上下文，中断后续期立即失败。
type passwordSource struct {
	ctx context.Context
	c   *Client
}

func (s passwordSource) Token() (*oauth2.Token, error) {
	return s.c.login(s.ctx)
}

func (c *Client) login(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	tok, err := c.conf.PasswordCredentialsToken(ctx, c.creds.Username, c.creds.Password)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("reddit login: %w: %v", contract.ErrAuth, err)
	}
	return tok, nil
}

// Authenticate 登录并返回当前身份（/api/v1/me 的 name）。
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	tok, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	api := &http.Client{
		Timeout:   c.base.Timeout,
		Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(tok, passwordSource{ctx: ctx, c: c}), Base: c.base.Transport},
		// 重定向表示社区不存在（跳转到搜索页），不跟随
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	c.do = api.Do

	var me struct {
		Name string `json:"name"`
	}
	status, err := c.getJSON(ctx, "/api/v1/me", &me)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || me.Name == "" {
		return "", fmt.Errorf("reddit identity %d: %w", status, contract.ErrAuth)
	}
	return me.Name, nil
}

// about 响应的最小必要字段。
type aboutResp struct {
	Kind string `json:"kind"`
	Data struct {
		Over18      bool   `json:"over18"`
		Name        string `json:"name"`
		Subscribers *int64 `json:"subscribers"`
	} `json:"data"`
}

// Lookup 查询 /r/{name}/about。
// 3xx/403/404 或非社区类型 → ErrNotFound；429 → ErrRateLimited。
func (c *Client) Lookup(ctx context.Context, name string) (contract.About, error) {
	if c.do == nil {
		return contract.About{}, fmt.Errorf("reddit: %w: not authenticated", contract.ErrAuth)
	}
	var ar aboutResp
	status, err := c.getJSON(ctx, "/r/"+url.PathEscape(name)+"/about", &ar)
	if err != nil {
		return contract.About{}, err
	}
	if status != http.StatusOK {
		return contract.About{}, fmt.Errorf("reddit about %q: %w", name, contract.ErrNotFound)
	}
	if ar.Kind != "t5" || ar.Data.Name == "" {
		return contract.About{}, fmt.Errorf("reddit about %q kind %q: %w", name, ar.Kind, contract.ErrNotFound)
	}
	a := contract.About{NSFW: ar.Data.Over18, Name: ar.Data.Name}
	if ar.Data.Subscribers != nil {
		a.Subscribers = *ar.Data.Subscribers
	}
	return a, nil
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("reddit upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// rateLimitedError 携带状态码与重置提示，同时满足 errors.Is(err, ErrRateLimited)。
type rateLimitedError struct{ upstreamError }

func (e rateLimitedError) Unwrap() error { return contract.ErrRateLimited }

// getJSON 发起 GET 并在 2xx 时解码 v；返回状态码。
// 重定向/403/404 返回 (status, nil) 由调用方判定；其余非 2xx 映射为分类错误。
func (c *Client) getJSON(ctx context.Context, path string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.api+path+"?raw_json=1", nil)
	if err != nil {
		return 0, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if cerr := ctx.Err(); cerr != nil {
				return 0, cerr
			}
		}
		// 令牌刷新失败
		var re *oauth2.RetrieveError
		if errors.As(err, &re) || errors.Is(err, contract.ErrAuth) {
			return 0, fmt.Errorf("reddit token: %w: %v", contract.ErrAuth, err)
		}
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 3, resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.StatusCode, rateLimitedError{upstreamError{status: resp.StatusCode, msg: rateInfo(resp.Header)}}
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, fmt.Errorf("reddit upstream %d: %w", resp.StatusCode, contract.ErrAuth)
	case resp.StatusCode/100 != 2:
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(slurp))
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
			return resp.StatusCode, upstreamError{status: resp.StatusCode, msg: msg}
		}
		return resp.StatusCode, fmt.Errorf("reddit upstream %d: %w", resp.StatusCode, contract.ErrInvalidInput)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	return resp.StatusCode, nil
}

// rateInfo 摘取远端的限流头（剩余/重置秒数）。
func rateInfo(h http.Header) string {
	var parts []string
	for _, k := range []string{"X-Ratelimit-Remaining", "X-Ratelimit-Reset"} {
		if v := h.Get(k); v != "" {
			parts = append(parts, strings.ToLower(strings.TrimPrefix(k, "X-Ratelimit-"))+"="+v)
		}
	}
	return strings.Join(parts, " ")
}
