package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	cfgpkg "submeta/internal/config"
	"submeta/internal/diag"
	"submeta/internal/fetch"
	"submeta/internal/runner"
	"submeta/pkg/contract"
	"submeta/pkg/registry"
	"submeta/plugins/store/postgres"
)

// 退出码。
const (
	exitOK        = 0
	exitRuntime   = 1
	exitConfig    = 3
	exitInterrupt = 130
)

var (
	runnerRun = runner.Run
	openStore = func(ctx context.Context, o postgres.Options) (contract.ResultStore, error) {
		s, err := postgres.Open(ctx, o)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type flags struct {
	config, input, output, client, sink, pgDSN, logLevel, initDir string
	max, skip, split, retries, rpm                                int
	backoff                                                       time.Duration
	debug, compress                                               bool
}

func newFlagSet(stderr io.Writer) (*pflag.FlagSet, *flags) {
	f := &flags{}
	fs := pflag.NewFlagSet("submeta", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&f.input, "input", "i", cfgpkg.DefaultInput, "输入表（无扩展名时补 .csv；- 为 STDIN）")
	fs.StringVarP(&f.output, "output", "o", cfgpkg.DefaultOutput, "批文件前缀，生成 {prefix}-{start}-{end}.csv")
	fs.IntVarP(&f.max, "max", "m", 0, "本次最多查询的行数（0 不限）")
	fs.IntVarP(&f.skip, "skip", "s", 0, "跳过前 N 行")
	fs.BoolVar(&f.debug, "debug", false, "演练：打印首个待处理行后退出")
	fs.IntVar(&f.split, "split", cfgpkg.DefaultSplit, "每个批文件的行数 K")
	fs.StringVar(&f.config, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	fs.StringVar(&f.client, "client", "", "查询实现（reddit/mock）")
	fs.StringVar(&f.sink, "sink", "", "输出介质（fs/minio）")
	fs.IntVar(&f.retries, "retries", cfgpkg.DefaultRetries, "单行尝试预算（含首次）")
	fs.DurationVar(&f.backoff, "backoff", time.Duration(cfgpkg.DefaultBackoff), "限流后的退避时长")
	fs.IntVar(&f.rpm, "rpm", 0, "主动限速，每分钟请求数（0 关闭）")
	fs.BoolVar(&f.compress, "compress", false, "批文件写为 .csv.zst")
	fs.StringVar(&f.pgDSN, "pg-dsn", "", "Postgres 结果镜像 DSN（缺省读取 PG_DSN）")
	fs.StringVar(&f.logLevel, "log-level", "", "结构化日志级别（debug/info/warn/error）")
	fs.StringVar(&f.initDir, "init-config", "", "以 --init-config=DIR 在指定目录生成 config.json 与 .env 模板（不覆盖）；不带值时为当前目录")
	fs.Lookup("init-config").NoOptDefVal = "."
	return fs, f
}

// cliOverlay 仅采纳显式给出的旗标，保证默认值不会压过 JSON/ENV。
func cliOverlay(fs *pflag.FlagSet, f *flags) cfgpkg.Config {
	over := cfgpkg.Unset()
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("input", func() { over.Input = f.input })
	set("output", func() { over.Output = f.output })
	set("max", func() { over.Max = f.max })
	set("skip", func() { over.Skip = f.skip })
	set("debug", func() { over.Debug = f.debug })
	set("split", func() { over.Split = f.split })
	set("client", func() { over.Components.Client = f.client })
	set("sink", func() { over.Components.Sink = f.sink })
	set("retries", func() { over.Retries = f.retries })
	set("backoff", func() { over.Backoff = cfgpkg.Duration(f.backoff) })
	set("rpm", func() { over.RPM = f.rpm })
	set("compress", func() { over.Compress = f.compress })
	set("pg-dsn", func() { over.Postgres.DSN = f.pgDSN })
	set("log-level", func() { over.Logging.Level = f.logLevel })
	return over
}

func run(args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = cfgpkg.LoadDotEnv(".env")
	logger := diag.NewLogger(corrID, "info")

	fs, f := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}
	// 不接受位置参数；--init-config 的目录须写成 --init-config=DIR。
	if fs.NArg() > 0 {
		fprintf(stderr, "无法识别的参数: %s（--init-config 目录请写作 --init-config=DIR）\n", strings.Join(fs.Args(), " "))
		return exitConfig
	}

	if dir := strings.TrimSpace(f.initDir); dir != "" {
		if err := initConfig(dir); err != nil {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
		return exitOK
	}

	cfg, err := resolveConfig(fs, f)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		logger = diag.NewLogger(corrID, lv)
	}
	defer func() { _ = logger.Sync() }()

	con := diag.NewConsole(stdout, true)
	con.Printf("Starting program...")

	creds := cfgpkg.CredentialsFromEnv(os.Environ(), cfg.UserAgent)
	asm, err := cfgpkg.Assemble(cfg, creds)
	if err != nil {
		con.Printf("Setup failed: %v", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	reader, err := registry.Reader["fs"](nil)
	if err != nil {
		con.Printf("Setup failed: %v", err)
		return exitConfig
	}
	logger.DebugStart("config", "effective", "", map[string]string{
		"input":    cfg.InputPath(),
		"output":   cfg.Output,
		"split":    strconv.Itoa(cfg.Split),
		"skip":     strconv.Itoa(cfg.Skip),
		"max":      strconv.Itoa(cfg.Max),
		"retries":  strconv.Itoa(cfg.Retries),
		"backoff":  time.Duration(cfg.Backoff).String(),
		"rpm":      strconv.Itoa(cfg.RPM),
		"client":   cfg.Components.Client,
		"sink":     cfg.Components.Sink,
		"pg":       strconv.FormatBool(cfg.Postgres.DSN != ""),
		"username": creds.Username,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store contract.ResultStore
	if cfg.Postgres.DSN != "" && !cfg.Debug {
		store, err = openStore(ctx, postgres.Options{DSN: cfg.Postgres.DSN, Schema: cfg.Postgres.Schema})
		if err != nil {
			con.Printf("Postgres unavailable: %v", err)
			logger.Error("store", string(diag.Classify(err)), "first error", &start)
			return exitRuntime
		}
		defer store.Close()
	}

	counters := diag.NewCounters()
	deps := runner.Deps{
		Client: asm.Client,
		Reader: reader,
		Sink:   asm.Sink,
		Fetcher: &fetch.Fetcher{
			Client:   asm.Client,
			Attempts: cfg.Retries,
			Backoff:  time.Duration(cfg.Backoff),
			Gate:     asm.Gate,
			Logger:   logger,
			Console:  con,
			Counters: counters,
		},
		Store:    store,
		Creds:    creds,
		Logger:   logger,
		Console:  con,
		Counters: counters,
	}
	set := runner.Settings{
		Input:    cfg.InputPath(),
		Base:     asm.Base,
		Skip:     cfg.Skip,
		Max:      cfg.Max,
		Split:    cfg.Split,
		Debug:    cfg.Debug,
		Compress: cfg.Compress,
	}

	t := logger.Start("runner", "run")
	sum, err := runnerRun(ctx, set, deps)
	if err != nil {
		logger.Error("runner", string(diag.Classify(err)), "first error", &start)
		if errors.Is(err, context.Canceled) {
			con.Printf("Termination received. Goodbye!")
			return exitInterrupt
		}
		con.Printf("Error: %v", err)
		return exitRuntime
	}
	t.Finish("run", int64(sum.Fetched))
	if sum.DryRun {
		return exitOK
	}
	con.Printf("Fetched %d (%d unavailable, %d rate limited) into %d batch files",
		sum.Fetched, sum.Unavailable, counters.Get(diag.MetricRateLimited), len(sum.Batches))
	con.Printf("Done! Have a nice day!")
	return exitOK
}

// resolveConfig: Defaults → JSON（文件或 SUBMETA_CONFIG_JSON）→ ENV → CLI。
func resolveConfig(fs *pflag.FlagSet, f *flags) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	var raw []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	path := f.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" || len(raw) > 0 {
		base, err := cfgpkg.LoadJSON(path, raw)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)
	return cfgpkg.Merge(cfg, cliOverlay(fs, f)), nil
}

func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeConfig(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		return err
	}
	return writeIfAbsent(filepath.Join(dir, ".env"), []byte(cfgpkg.DotEnvTemplate()))
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
	_, _ = w.Write([]byte("\n"))
	return nil
}

// writeConfig 写出配置；已存在时返回错误（不覆盖）。
func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// writeIfAbsent 仅在文件不存在时创建。
func writeIfAbsent(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
