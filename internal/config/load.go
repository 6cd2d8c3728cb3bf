package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"submeta/pkg/contract"
)

// 默认值。
const (
	DefaultInput     = "subreddits"
	DefaultOutput    = "subreddits-meta"
	DefaultSplit     = 1000
	DefaultRetries   = 10
	DefaultBackoff   = Duration(60 * time.Second)
	DefaultUserAgent = "social_network_bot:v0.0.1"
	EnvPrefix        = "SUBMETA_"
)

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Input:     DefaultInput,
		Output:    DefaultOutput,
		Split:     DefaultSplit,
		Retries:   DefaultRetries,
		Backoff:   DefaultBackoff,
		UserAgent: DefaultUserAgent,
		Logging:   Logging{Level: "info"},
		Components: Components{
			Client: "reddit",
			Sink:   "fs",
		},
	}
}

// Unset 返回覆盖层的空白雏形：可取 0 的数值字段以 -1 标记未设置。
func Unset() Config {
	return Config{Skip: -1, Max: -1, Split: -1, Retries: -1, RPM: -1, Backoff: -1}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 返回值为覆盖层：缺省字段保持未设置。
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Unset()
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if s := strings.TrimSpace(over.Input); s != "" {
		out.Input = s
	}
	if s := strings.TrimSpace(over.Output); s != "" {
		out.Output = s
	}
	// 0 具有语义（不跳过/不限量/关闭限速），以 >=0 判定是否覆盖。
	if over.Skip >= 0 {
		out.Skip = over.Skip
	}
	if over.Max >= 0 {
		out.Max = over.Max
	}
	if over.Retries >= 0 {
		out.Retries = over.Retries
	}
	if over.RPM >= 0 {
		out.RPM = over.RPM
	}
	if over.Backoff >= 0 {
		out.Backoff = over.Backoff
	}
	// 显式 0 也覆盖，交由 Validate 拒绝。
	if over.Split >= 0 {
		out.Split = over.Split
	}
	if over.Debug {
		out.Debug = true
	}
	if over.Compress {
		out.Compress = true
	}
	if s := strings.TrimSpace(over.UserAgent); s != "" {
		out.UserAgent = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Postgres.DSN); s != "" {
		out.Postgres.DSN = s
	}
	if s := strings.TrimSpace(over.Postgres.Schema); s != "" {
		out.Postgres.Schema = s
	}

	// 组件名（空不覆盖）
	if s := strings.TrimSpace(over.Components.Client); s != "" {
		out.Components.Client = s
	}
	if s := strings.TrimSpace(over.Components.Sink); s != "" {
		out.Components.Sink = s
	}

	// Options（完整替换对应键）
	if len(over.Options.Client) > 0 {
		out.Options.Client = cloneRaw(over.Options.Client)
	}
	if len(over.Options.Sink) > 0 {
		out.Options.Sink = cloneRaw(over.Options.Sink)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 SUBMETA_；集合之外的键忽略。另读取无前缀的 PG_DSN/PG_SCHEMA。
// 数值无法解析时返回 ErrInvalidInput。
func EnvOverlay(environ []string) (Config, error) {
	over := Unset()
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq <= 0 {
			continue
		}
		key := kv[:eq]
		val := strings.TrimSpace(kv[eq+1:])
		switch key {
		case "PG_DSN":
			over.Postgres.DSN = val
			continue
		case "PG_SCHEMA":
			over.Postgres.Schema = val
			continue
		}
		if !strings.HasPrefix(key, EnvPrefix) || len(key) == len(EnvPrefix) || val == "" {
			continue
		}
		nk := strings.TrimPrefix(key, EnvPrefix)
		var err error
		switch nk {
		case "INPUT":
			over.Input = val
		case "OUTPUT":
			over.Output = val
		case "SKIP":
			over.Skip, err = atoi(val)
		case "MAX":
			over.Max, err = atoi(val)
		case "SPLIT":
			over.Split, err = atoi(val)
		case "RETRIES":
			over.Retries, err = atoi(val)
		case "RPM":
			over.RPM, err = atoi(val)
		case "BACKOFF":
			var d Duration
			if err = d.UnmarshalJSON([]byte(strconv.Quote(val))); err == nil {
				over.Backoff = d
			}
		case "DEBUG":
			over.Debug, err = strconv.ParseBool(val)
		case "COMPRESS":
			over.Compress, err = strconv.ParseBool(val)
		case "USER_AGENT":
			over.UserAgent = val
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "CLIENT":
			over.Components.Client = val
		case "SINK":
			over.Components.Sink = val
		case "CLIENT_OPTIONS_JSON":
			over.Options.Client = json.RawMessage(val)
		case "SINK_OPTIONS_JSON":
			over.Options.Sink = json.RawMessage(val)
		default:
			// 配置源（CONFIG_FILE/CONFIG_JSON）由 cmd 读取。
		}
		if err != nil {
			return over, fmt.Errorf("%w: %s=%q", contract.ErrInvalidInput, key, val)
		}
	}
	return over, nil
}

// CredentialsFromEnv 从环境变量构造远端凭据；启动时调用一次。
func CredentialsFromEnv(environ []string, userAgent string) contract.Credentials {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if eq := strings.IndexByte(kv, '='); eq > 0 {
			env[kv[:eq]] = kv[eq+1:]
		}
	}
	return contract.Credentials{
		ClientID:     strings.TrimSpace(env["CLIENT_ID"]),
		ClientSecret: strings.TrimSpace(env["CLIENT_SECRET"]),
		Username:     strings.TrimSpace(env["REDDIT_USERNAME"]),
		Password:     env["REDDIT_PASSWORD"],
		UserAgent:    userAgent,
	}
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
