package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Input: 输入表路径；无扩展名时补 .csv，"-" 表示 STDIN。
	Input string `json:"input"`
	// Output: 批文件前缀（可含目录），最终文件名为 {base}-{start}-{end}.csv。
	Output string `json:"output"`
	// Skip/Max/Retries/RPM: -1 表示未设置（仅在覆盖层中出现）。
	Skip  int  `json:"skip"`
	Max   int  `json:"max"`
	Split int  `json:"split"`
	Debug bool `json:"debug"`
	// Retries: 单行查询的尝试预算（含首次）。
	Retries int      `json:"retries"`
	Backoff Duration `json:"backoff"`
	// RPM: 主动限速（每分钟请求数）；0 关闭。
	RPM       int    `json:"rpm"`
	Compress  bool   `json:"compress"`
	UserAgent string `json:"user_agent"`

	Logging  Logging  `json:"logging"`
	Postgres Postgres `json:"postgres"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Postgres: 可选结果镜像；DSN 为空时关闭。
type Postgres struct {
	DSN    string `json:"dsn"`
	Schema string `json:"schema"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Client string `json:"client"`
	Sink   string `json:"sink"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Client json.RawMessage `json:"client"`
	Sink   json.RawMessage `json:"sink"`
}

// Duration 接受 "60s" 形式的字符串或以秒计的数字；负值表示未设置。
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := parseDuration(str)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// parseDuration: 纯数字按秒解析，其余交给 time.ParseDuration。
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
