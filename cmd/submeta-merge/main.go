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
	"submeta/internal/merge"
	"submeta/pkg/contract"
	"submeta/pkg/registry"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	fs := pflag.NewFlagSet("submeta-merge", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	parts := fs.String("parts", "data/parts", "批文件所在目录（minio 时为对象前缀）")
	output := fs.String("output", "data/merged.csv", "合并结果路径")
	xlsx := fs.String("xlsx", "", "可选：同时导出 xlsx 副本的路径")
	sinkName := fs.String("sink", "fs", "批文件介质（fs/minio）")
	concurrency := fs.Int("concurrency", 4, "并发加载数")
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

	newParts, ok := registry.Sink[*sinkName]
	if !ok {
		fmt.Fprintf(stderr, "未知 sink: %s\n", *sinkName)
		return 3
	}
	src, err := newParts(nil, *parts)
	if err != nil {
		fmt.Fprintf(stderr, "装配失败: %v\n", err)
		return 3
	}
	out, err := localSink(*output)
	if err != nil {
		fmt.Fprintf(stderr, "装配失败: %v\n", err)
		return 3
	}
	opts := merge.Options{
		Parts:       src,
		Out:         out,
		Output:      contract.ArtifactID(filepath.Base(*output)),
		Concurrency: *concurrency,
		Logger:      logger,
		Console:     con,
	}
	if *xlsx != "" {
		if opts.XLSXOut, err = localSink(*xlsx); err != nil {
			fmt.Fprintf(stderr, "装配失败: %v\n", err)
			return 3
		}
		opts.XLSX = contract.ArtifactID(filepath.Base(*xlsx))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	res, err := merge.Run(ctx, opts)
	if err != nil {
		logger.Error("merge", string(diag.Classify(err)), "first error", &start)
		if errors.Is(err, context.Canceled) {
			con.Printf("Termination received. Goodbye!")
			return 130
		}
		con.Printf("Error: %v", err)
		return 1
	}
	con.Printf("Merged %d files: %d rows, %d unique, %d duplicates dropped", len(res.Files), res.Rows, res.Unique, res.Duplicates)
	con.Printf("Saved %s", *output)
	return 0
}

// localSink 以结果文件所在目录为根的文件系统 Sink。
func localSink(path string) (contract.Sink, error) {
	return registry.Sink["fs"](nil, filepath.Dir(path))
}
