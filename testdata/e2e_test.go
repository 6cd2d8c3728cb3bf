package testdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cfgpkg "submeta/internal/config"
	"submeta/internal/fetch"
	"submeta/internal/gaps"
	"submeta/internal/manifest"
	"submeta/internal/merge"
	"submeta/internal/runner"
	"submeta/pkg/contract"
	"submeta/pkg/registry"
	rfs "submeta/plugins/reader/filesystem"
	sfs "submeta/plugins/sink/filesystem"
)

// writeInput 生成 n 行输入；index 5 为不存在的社区，index 700 重复 s3。
func writeInput(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString(",subreddit\n")
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("s%d", i)
		switch i {
		case 5:
			name = "gone"
		case 700:
			name = "s3"
		}
		fmt.Fprintf(&b, "%d,%s\n", i, name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func loadConfig(t *testing.T, path string) cfgpkg.Config {
	t.Helper()
	over, err := cfgpkg.LoadJSON(path, nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfgpkg.Merge(cfgpkg.Defaults(), over)
}

// runBatch 以配置装配并执行一次批量查询。
func runBatch(t *testing.T, cfg cfgpkg.Config) (runner.Summary, contract.Sink, error) {
	t.Helper()
	asm, err := cfgpkg.Assemble(cfg, contract.Credentials{Username: "e2e"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	reader, err := registry.Reader["fs"](nil)
	if err != nil {
		t.Fatal(err)
	}
	f := &fetch.Fetcher{
		Client:   asm.Client,
		Attempts: cfg.Retries,
		Backoff:  time.Duration(cfg.Backoff),
		Sleep:    func(context.Context, time.Duration) error { return nil },
	}
	sum, err := runner.Run(context.Background(), runner.Settings{
		Input: cfg.InputPath(),
		Base:  asm.Base,
		Skip:  cfg.Skip,
		Max:   cfg.Max,
		Split: cfg.Split,
	}, runner.Deps{Client: asm.Client, Reader: reader, Sink: asm.Sink, Fetcher: f})
	return sum, asm.Sink, err
}

func TestEndToEndResumeMergeGaps(t *testing.T) {
	cfgPath, err := filepath.Abs(filepath.Join("config", "basic.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Chdir(t.TempDir())
	writeInput(t, filepath.Join("data", "subreddits.csv"), 1200)

	// 第一次运行在 600 行处提前停止
	cfg := loadConfig(t, cfgPath)
	cfg.Max = 600
	sum, parts, err := runBatch(t, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := fmt.Sprint(sum.Batches); got != "[subreddits-meta-0-500.csv subreddits-meta-500-600.csv]" {
		t.Fatalf("first run batches: %s", got)
	}

	// 续跑：相同前缀，从 600 开始
	cfg = loadConfig(t, cfgPath)
	cfg.Skip = 600
	sum, _, err = runBatch(t, cfg)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := fmt.Sprint(sum.Batches); got != "[subreddits-meta-600-1000.csv subreddits-meta-1000-1200.csv]" {
		t.Fatalf("resume batches: %s", got)
	}
	m, err := manifest.Load(context.Background(), parts, "subreddits-meta")
	if err != nil {
		t.Fatal(err)
	}
	if m.Covered() != 1200 || len(m.Ranges) != 4 {
		t.Fatalf("manifest: covered=%d ranges=%d", m.Covered(), len(m.Ranges))
	}

	// 相同参数重跑必须在写入前中止
	cfg = loadConfig(t, cfgPath)
	if _, _, err := runBatch(t, cfg); !errors.Is(err, contract.ErrOutputCollision) {
		t.Fatalf("rerun: want collision, got %v", err)
	}

	out, err := sfs.New("data", nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := merge.Run(context.Background(), merge.Options{Parts: parts, Out: out})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Rows != 1200 || res.Unique != 1199 || len(res.Files) != 4 {
		t.Fatalf("merge result %+v", res)
	}

	g, err := gaps.Run(context.Background(), gaps.Options{
		Source:        rfs.New(nil),
		Input:         filepath.Join("data", "subreddits.csv"),
		Merged:        filepath.Join("data", "merged.csv"),
		Out:           out,
		IncludeAbsent: true,
	})
	if err != nil {
		t.Fatalf("gaps: %v", err)
	}
	if fmt.Sprint(g.Names) != "[gone]" || g.Absent != 0 {
		t.Fatalf("gaps result %+v", g)
	}
	b, err := os.ReadFile(filepath.Join("data", "missing_subreddits.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "subreddit\ngone\n" {
		t.Fatalf("missing file %q", b)
	}
}
