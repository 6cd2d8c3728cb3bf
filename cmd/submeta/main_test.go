package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	cfgpkg "submeta/internal/config"
	"submeta/internal/runner"
	"submeta/pkg/contract"
	"submeta/plugins/store/postgres"
)

// workdir 切换到临时目录并清理会影响配置的环境变量。
func workdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{
		"SUBMETA_CONFIG_FILE", "SUBMETA_CONFIG_JSON", "SUBMETA_CLIENT", "SUBMETA_SINK", "SUBMETA_SPLIT",
		"SUBMETA_INPUT", "SUBMETA_OUTPUT", "SUBMETA_SKIP", "SUBMETA_MAX", "SUBMETA_DEBUG", "PG_DSN",
		"CLIENT_ID", "CLIENT_SECRET", "REDDIT_USERNAME", "REDDIT_PASSWORD",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func writeInput(t *testing.T, dir string, names ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString(",subreddit\n")
	for i, n := range names {
		b.WriteString(strconv.Itoa(i) + "," + n + "\n")
	}
	if err := os.WriteFile(filepath.Join(dir, "subreddits.csv"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunInitConfig(t *testing.T) {
	dir := workdir(t)
	outDir := filepath.Join(dir, "out")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--init-config=" + outDir}, &stdout, &stderr); code != 0 {
		t.Fatalf("run return %d: %s", code, stderr.String())
	}
	for _, name := range []string{"config.json", ".env"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("%s not generated: %v", name, err)
		}
	}
	b, _ := os.ReadFile(filepath.Join(outDir, "config.json"))
	if _, err := cfgpkg.LoadJSON("", b); err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	// 已存在时不覆盖，返回配置错误
	if code := run([]string{"--init-config=" + outDir}, &stdout, &stderr); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
}

func TestRunInitConfigDefault(t *testing.T) {
	dir := workdir(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--init-config"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run return %d: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("config not generated: %v", err)
	}
}

func TestRunMockSuccess(t *testing.T) {
	dir := workdir(t)
	writeInput(t, dir, "x", "y", "z")
	var stdout, stderr bytes.Buffer
	code := run([]string{"--client", "mock", "-o", "parts/sub", "--split", "2"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run return %d: %s %s", code, stdout.String(), stderr.String())
	}
	for _, name := range []string{"sub-0-2.csv", "sub-2-3.csv", "sub.manifest.json"} {
		if _, err := os.Stat(filepath.Join(dir, "parts", name)); err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
	}
	out := stdout.String()
	for _, want := range []string{"Starting program...", "Logged in as: mock", "Done! Have a nice day!"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
}

func TestRunCollisionExitsRuntime(t *testing.T) {
	dir := workdir(t)
	writeInput(t, dir, "x", "y", "z")
	if err := os.MkdirAll(filepath.Join(dir, "parts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "parts", "sub-0-2.csv"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	code := run([]string{"--client", "mock", "-o", "parts/sub", "--split", "2"}, &stdout, &stderr)
	if code != exitRuntime {
		t.Fatalf("expected %d, got %d", exitRuntime, code)
	}
	if !strings.Contains(stdout.String(), "FILE ALREADY EXISTS, EXITING") {
		t.Fatalf("missing collision message: %s", stdout.String())
	}
	b, _ := os.ReadFile(filepath.Join(dir, "parts", "sub-0-2.csv"))
	if string(b) != "keep" {
		t.Fatalf("existing batch overwritten: %q", b)
	}
}

func TestRunDebugDryRun(t *testing.T) {
	dir := workdir(t)
	writeInput(t, dir, "x", "y", "z")
	var stdout, stderr bytes.Buffer
	code := run([]string{"--client", "mock", "--debug", "-s", "1", "-o", "parts/sub"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run return %d", code)
	}
	if !strings.Contains(stdout.String(), "First entry to be processed: y") {
		t.Fatalf("unexpected stdout: %s", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "parts")); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote output: %v", err)
	}
}

func TestRunValidateError(t *testing.T) {
	dir := workdir(t)
	writeInput(t, dir, "x", "y", "z")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--client", "mock", "-o", "parts/sub", "--split", "0"}, &stdout, &stderr); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
	if !strings.Contains(stderr.String(), "split must be >= 1") {
		t.Fatalf("stderr: %s", stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "parts")); !os.IsNotExist(err) {
		t.Fatalf("invalid split wrote output: %v", err)
	}
}

func TestRunRejectsPositionalArgs(t *testing.T) {
	dir := workdir(t)
	writeInput(t, dir, "x")
	var stdout, stderr bytes.Buffer
	// 带空格的写法会把目录留作位置参数，不能静默写到当前目录
	if code := run([]string{"--init-config", "out"}, &stdout, &stderr); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
	for _, p := range []string{"config.json", filepath.Join("out", "config.json")} {
		if _, err := os.Stat(filepath.Join(dir, p)); !os.IsNotExist(err) {
			t.Fatalf("%s should not exist: %v", p, err)
		}
	}
	if !strings.Contains(stderr.String(), "--init-config=DIR") {
		t.Fatalf("stderr: %s", stderr.String())
	}
	stderr.Reset()
	if code := run([]string{"--client", "mock", "-o", "parts/sub", "bogus"}, &stdout, &stderr); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
	if !strings.Contains(stderr.String(), "bogus") {
		t.Fatalf("stderr: %s", stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "parts")); !os.IsNotExist(err) {
		t.Fatalf("positional run wrote output: %v", err)
	}
}

func TestRunBadFlagAndHelp(t *testing.T) {
	workdir(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--bogus"}, &stdout, &stderr); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
	if code := run([]string{"--help"}, &stdout, &stderr); code != 0 {
		t.Fatalf("help returned %d", code)
	}
}

func TestRunRedditWithoutCredentials(t *testing.T) {
	workdir(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--client", "reddit"}, &stdout, &stderr); code != exitConfig {
		t.Fatalf("expected %d, got %d", exitConfig, code)
	}
	if !strings.Contains(stdout.String(), "REDDIT_PASSWORD") {
		t.Fatalf("stdout: %s", stdout.String())
	}
}

func TestRunConfigFile(t *testing.T) {
	dir := workdir(t)
	writeInput(t, dir, "a", "b", "c", "d")
	cfg := `{"output":"parts/cfg","split":3,"components":{"client":"mock"},"options":{"client":{"unavailable":["b"]}}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 0 {
		t.Fatalf("run return %d: %s %s", code, stdout.String(), stderr.String())
	}
	for _, name := range []string{"cfg-0-3.csv", "cfg-3-4.csv"} {
		if _, err := os.Stat(filepath.Join(dir, "parts", name)); err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
	}
}

func TestRunEnvOverlay(t *testing.T) {
	dir := workdir(t)
	writeInput(t, dir, "a", "b", "c")
	t.Setenv("SUBMETA_CLIENT", "mock")
	t.Setenv("SUBMETA_OUTPUT", "envparts/e")
	var stdout, stderr bytes.Buffer
	// CLI 优先于 ENV
	if code := run([]string{"--split", "1", "-m", "2"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run return %d: %s", code, stdout.String())
	}
	for _, name := range []string{"e-0-1.csv", "e-1-2.csv"} {
		if _, err := os.Stat(filepath.Join(dir, "envparts", name)); err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
	}
	if !strings.Contains(stdout.String(), "Breaking due to max fetch exceeded (2)") {
		t.Fatalf("stdout: %s", stdout.String())
	}
}

func TestRunInterrupt(t *testing.T) {
	workdir(t)
	old := runnerRun
	defer func() { runnerRun = old }()
	runnerRun = func(ctx context.Context, s runner.Settings, d runner.Deps) (runner.Summary, error) {
		return runner.Summary{}, context.Canceled
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--client", "mock"}, &stdout, &stderr); code != exitInterrupt {
		t.Fatalf("expected %d, got %d", exitInterrupt, code)
	}
	if !strings.Contains(stdout.String(), "Termination received. Goodbye!") {
		t.Fatalf("stdout: %s", stdout.String())
	}
}

func TestRunRetryExhausted(t *testing.T) {
	workdir(t)
	old := runnerRun
	defer func() { runnerRun = old }()
	runnerRun = func(ctx context.Context, s runner.Settings, d runner.Deps) (runner.Summary, error) {
		return runner.Summary{}, contract.ErrRetryExhausted
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--client", "mock"}, &stdout, &stderr); code != exitRuntime {
		t.Fatalf("expected %d, got %d", exitRuntime, code)
	}
}

func TestRunPostgresUnavailable(t *testing.T) {
	dir := workdir(t)
	writeInput(t, dir, "a")
	old := openStore
	defer func() { openStore = old }()
	var got postgres.Options
	openStore = func(ctx context.Context, o postgres.Options) (contract.ResultStore, error) {
		got = o
		return nil, errors.New("connection refused")
	}
	t.Setenv("PG_SCHEMA", "meta")
	var stdout, stderr bytes.Buffer
	code := run([]string{"--client", "mock", "--pg-dsn", "postgres://x@localhost/db"}, &stdout, &stderr)
	if code != exitRuntime {
		t.Fatalf("expected %d, got %d", exitRuntime, code)
	}
	if got.DSN != "postgres://x@localhost/db" || got.Schema != "meta" {
		t.Fatalf("unexpected options %#v", got)
	}
}

func TestCLIOverlayOnlyChanged(t *testing.T) {
	var stderr bytes.Buffer
	fs, f := newFlagSet(&stderr)
	if err := fs.Parse([]string{"--skip", "0", "--backoff", "5s"}); err != nil {
		t.Fatal(err)
	}
	over := cliOverlay(fs, f)
	if over.Skip != 0 || over.Max != -1 || over.Retries != -1 || over.Split != -1 {
		t.Fatalf("unexpected overlay %#v", over)
	}
	if time.Duration(over.Backoff) != 5*time.Second {
		t.Fatalf("backoff=%v", over.Backoff)
	}
}
