package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"submeta/internal/diag"
	"submeta/internal/gaps"
	"submeta/pkg/contract"
	"submeta/pkg/registry"
	rfs "submeta/plugins/reader/filesystem"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	fs := pflag.NewFlagSet("submeta-gaps", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "data/subreddits.csv", "原始输入表")
	merged := fs.String("merged", "data/merged.csv", "合并结果")
	output := fs.String("output", "data/missing_subreddits.csv", "缺失清单输出路径")
	absent := fs.Bool("include-absent", false, "同时列出输入中有、合并结果中完全缺失的名称")
	level := fs.String("log-level", "info", "结构化日志级别")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 3
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "无法识别的参数: %v\n", fs.Args())
		return 3
	}
	logger := diag.NewLogger(uuid.NewString(), *level)
	defer func() { _ = logger.Sync() }()
	con := diag.NewConsole(stdout, true)

	out, err := registry.Sink["fs"](nil, filepath.Dir(*output))
	if err != nil {
		fmt.Fprintf(stderr, "装配失败: %v\n", err)
		return 3
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := gaps.Run(ctx, gaps.Options{
		Source:        rfs.New(nil),
		Input:         *input,
		Merged:        *merged,
		Out:           out,
		Output:        contract.ArtifactID(filepath.Base(*output)),
		IncludeAbsent: *absent,
		Logger:        logger,
		Console:       con,
	})
	if err != nil {
		logger.Error("gaps", string(diag.Classify(err)), "first error", &start)
		if errors.Is(err, context.Canceled) {
			con.Printf("Termination received. Goodbye!")
			return 130
		}
		con.Printf("Error: %v", err)
		return 1
	}
	con.Printf("Saved %d names to %s", len(res.Names), *output)
	return 0
}
