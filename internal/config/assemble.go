package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"submeta/internal/rate"
	"submeta/pkg/contract"
	"submeta/pkg/registry"
)

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Input) == "" {
		return errors.New("config: input empty")
	}
	if _, base := SplitOutput(cfg.Output); base == "" {
		return fmt.Errorf("config: output %q has no file prefix", cfg.Output)
	}
	if cfg.Split < 1 {
		return errors.New("config: split must be >= 1")
	}
	if cfg.Skip < 0 {
		return errors.New("config: skip must be >= 0")
	}
	if cfg.Max < 0 {
		return errors.New("config: max must be >= 0")
	}
	if cfg.Retries < 1 {
		return errors.New("config: retries must be >= 1")
	}
	if cfg.Backoff < 0 {
		return errors.New("config: backoff must be >= 0")
	}
	if cfg.RPM < 0 {
		return errors.New("config: rpm must be >= 0")
	}
	if lv := strings.ToLower(strings.TrimSpace(cfg.Logging.Level)); lv != "" && !validLevels[lv] {
		return fmt.Errorf("config: logging.level %q unknown", cfg.Logging.Level)
	}
	d := Defaults()
	if name := effName(cfg.Components.Client, d.Components.Client); registry.Lookup[name] == nil {
		return fmt.Errorf("config: client %q not registered", name)
	}
	if name := effName(cfg.Components.Sink, d.Components.Sink); registry.Sink[name] == nil {
		return fmt.Errorf("config: sink %q not registered", name)
	}
	return nil
}

// Assembled: 装配后的运行期协作者。
type Assembled struct {
	Client contract.LookupClient
	Sink   contract.Sink
	Gate   *rate.Gate
	// Base: 批文件名前缀（不含目录）；目录由 Sink 根承载。
	Base string
}

// Assemble 校验并构造查询客户端、Sink 与限流 Gate。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, creds contract.Credentials) (Assembled, error) {
	if err := Validate(cfg); err != nil {
		return Assembled{}, err
	}
	d := Defaults()
	cn := effName(cfg.Components.Client, d.Components.Client)
	sn := effName(cfg.Components.Sink, d.Components.Sink)

	client, err := registry.Lookup[cn](cfg.Options.Client, creds)
	if err != nil {
		return Assembled{}, fmt.Errorf("client %s: %w", cn, err)
	}
	root, base := SplitOutput(cfg.Output)
	sink, err := registry.Sink[sn](cfg.Options.Sink, root)
	if err != nil {
		return Assembled{}, fmt.Errorf("sink %s: %w", sn, err)
	}
	return Assembled{Client: client, Sink: sink, Gate: rate.NewGate(cfg.RPM), Base: base}, nil
}

// SplitOutput 将输出前缀拆为 Sink 根目录与文件名前缀。
func SplitOutput(output string) (root, base string) {
	output = strings.TrimSpace(output)
	if output == "" {
		return ".", ""
	}
	base = filepath.Base(output)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return ".", ""
	}
	return filepath.Dir(output), base
}

// InputPath 返回实际读取的输入路径：无表格扩展名时补 .csv。
func (c Config) InputPath() string {
	in := strings.TrimSpace(c.Input)
	if in == "-" || contract.IsTable(contract.ArtifactID(in)) {
		return in
	}
	return in + contract.ExtCSV
}

func effName(got, def string) string {
	if strings.TrimSpace(got) == "" {
		return def
	}
	return strings.TrimSpace(got)
}
