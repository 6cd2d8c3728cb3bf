// Package gaps 列出合并结果中不可用（available=false）的社区名，供后续复查。
package gaps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"submeta/internal/diag"
	"submeta/internal/table"
	"submeta/pkg/contract"
)

// DefaultOutput 缺失清单默认名。
const DefaultOutput contract.ArtifactID = "missing_subreddits.csv"

// Source 读取本地表格（.zst 透明解压）。
type Source interface {
	contract.RowReader
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// Options 参数。
type Options struct {
	Source Source
	Input  string // 原始输入表；仅 IncludeAbsent 时读取
	Merged string // 合并结果
	Out    contract.Sink
	Output contract.ArtifactID
	// IncludeAbsent: 追加输入中存在、合并结果中完全缺失的名称。
	IncludeAbsent bool

	Logger  *diag.Logger
	Console *diag.Console
}

// Result 汇总。
type Result struct {
	Names       []string
	Unavailable int
	Absent      int
}

// Run 写出单列 subreddit 表（无索引列）。
func Run(ctx context.Context, o Options) (Result, error) {
	if o.Source == nil || o.Out == nil {
		return Result{}, fmt.Errorf("%w: gaps needs source and output store", contract.ErrInvalidInput)
	}
	if o.Output == "" {
		o.Output = DefaultOutput
	}
	merged, err := readMerged(ctx, o.Source, o.Merged)
	if err != nil {
		return Result{}, err
	}
	var rows []contract.InputRow
	if o.IncludeAbsent {
		if rows, err = o.Source.ReadRows(ctx, o.Input); err != nil {
			return Result{}, fmt.Errorf("read input: %w", err)
		}
	}
	res := Find(merged, rows)
	o.Console.Printf("Unavailable: %d, absent: %d", res.Unavailable, res.Absent)

	var buf bytes.Buffer
	if err := table.WriteNames(&buf, res.Names); err != nil {
		return res, err
	}
	if err := o.Out.Write(ctx, o.Output, &buf); err != nil {
		return res, fmt.Errorf("write %s: %w", o.Output, err)
	}
	o.Logger.Info("gaps", "written", map[string]string{
		"unavailable": strconv.Itoa(res.Unavailable),
		"absent":      strconv.Itoa(res.Absent),
		"output":      string(o.Output),
	})
	return res, nil
}

func readMerged(ctx context.Context, src Source, path string) ([]contract.LookupResult, error) {
	rc, err := src.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open merged: %w", err)
	}
	defer rc.Close()
	rs, err := table.ReadResults(rc)
	if err != nil {
		return nil, fmt.Errorf("read merged %s: %w", path, err)
	}
	return rs, nil
}

// Find 保持合并表顺序返回不可用名称；rows 非空时再按输入顺序追加缺失者。
func Find(merged []contract.LookupResult, rows []contract.InputRow) Result {
	var res Result
	known := make(map[string]struct{}, len(merged))
	for _, r := range merged {
		known[r.Name] = struct{}{}
		if !r.Available {
			res.Names = append(res.Names, r.Name)
			res.Unavailable++
		}
	}
	for _, row := range rows {
		if _, ok := known[row.Name]; ok {
			continue
		}
		known[row.Name] = struct{}{}
		res.Names = append(res.Names, row.Name)
		res.Absent++
	}
	return res
}
