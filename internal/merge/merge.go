// Package merge 合并全部批文件：按起始索引排序 → 并发加载 → 按名称去重（先到者保留）→ 重排索引。
package merge

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"submeta/internal/diag"
	"submeta/internal/table"
	"submeta/pkg/contract"
)

// DefaultOutput 合并结果默认名。
const DefaultOutput contract.ArtifactID = "merged.csv"

const manifestSuffix = ".manifest.json"

// Options 合并参数；Parts 为批文件所在介质，Out 为结果介质（可相同）。
type Options struct {
	Parts  contract.Sink
	Out    contract.Sink
	Output contract.ArtifactID
	// XLSX: 可选的电子表格副本；为空不生成。XLSXOut 为空时写入 Out。
	XLSX    contract.ArtifactID
	XLSXOut contract.Sink
	// Concurrency: 并发加载数；<=0 使用 4。
	Concurrency int

	Logger  *diag.Logger
	Console *diag.Console
}

// Result 合并汇总。
type Result struct {
	Files      []contract.ArtifactID
	Rows       int // 去重前
	Unique     int
	Duplicates int
}

// Run 执行合并；任一表读取失败即整体失败，不写出结果。
func Run(ctx context.Context, o Options) (Result, error) {
	if o.Parts == nil || o.Out == nil {
		return Result{}, fmt.Errorf("%w: merge needs parts and output stores", contract.ErrInvalidInput)
	}
	if o.Output == "" {
		o.Output = DefaultOutput
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	files, err := listParts(ctx, o)
	if err != nil {
		return Result{}, err
	}
	res := Result{Files: files}
	o.Console.Printf("Found %d batch files", len(files))

	t := o.Logger.Start("merge", "load parts")
	parts := make([][]contract.LookupResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	for i, id := range files {
		o.Console.Printf("Loading %s ...", id)
		g.Go(func() error {
			rs, err := load(gctx, o.Parts, id)
			if err != nil {
				return fmt.Errorf("load %s: %w", id, err)
			}
			parts[i] = rs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.Logger.Error("merge", string(diag.Classify(err)), err.Error(), nil)
		return res, err
	}

	merged, rows := Dedup(parts)
	res.Rows = rows
	res.Unique = len(merged)
	res.Duplicates = rows - len(merged)
	t.Finish("load parts", int64(rows))

	var buf bytes.Buffer
	if err := table.WriteResults(&buf, merged); err != nil {
		return res, err
	}
	if err := o.Out.Write(ctx, o.Output, &buf); err != nil {
		return res, fmt.Errorf("write %s: %w", o.Output, err)
	}
	if o.XLSX != "" {
		data, err := Spreadsheet(merged)
		if err != nil {
			return res, err
		}
		dst := o.XLSXOut
		if dst == nil {
			dst = o.Out
		}
		if err := dst.Write(ctx, o.XLSX, bytes.NewReader(data)); err != nil {
			return res, fmt.Errorf("write %s: %w", o.XLSX, err)
		}
	}
	o.Logger.Info("merge", "merged", map[string]string{
		"files":      strconv.Itoa(len(files)),
		"rows":       strconv.Itoa(rows),
		"unique":     strconv.Itoa(res.Unique),
		"duplicates": strconv.Itoa(res.Duplicates),
	})
	return res, nil
}

// listParts 返回待合并的表格工件：按解析出的起始索引升序，再按名称；
// 不含批区间的表格排在最后。结果文件本身被排除。
// 清单与 xlsx 副本静默跳过，其余非表格文件逐个提示后跳过。
func listParts(ctx context.Context, o Options) ([]contract.ArtifactID, error) {
	ids, err := o.Parts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	var out []contract.ArtifactID
	for _, id := range ids {
		if !contract.IsTable(id) {
			if !strings.HasSuffix(string(id), manifestSuffix) && id != o.XLSX {
				o.Console.Printf("Skipping non-table file %s", id)
				o.Logger.Warn("merge", string(diag.CodeInvariant), "skip non-table file", map[string]string{"file": string(id)})
			}
			continue
		}
		if o.Parts == o.Out && id == o.Output {
			continue
		}
		out = append(out, id)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, _, oki := contract.ParseBatchRange(out[i])
		sj, _, okj := contract.ParseBatchRange(out[j])
		switch {
		case oki != okj:
			return oki
		case oki && si != sj:
			return si < sj
		}
		return out[i] < out[j]
	})
	return out, nil
}

func load(ctx context.Context, s contract.Sink, id contract.ArtifactID) ([]contract.LookupResult, error) {
	rc, err := s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return table.DecodeResults(rc, table.IsCompressed(string(id)))
}

// Dedup 按顺序拼接并按名称去重（先到者保留）；返回结果与去重前总行数。
func Dedup(parts [][]contract.LookupResult) ([]contract.LookupResult, int) {
	seen := make(map[string]struct{})
	var out []contract.LookupResult
	total := 0
	for _, p := range parts {
		total += len(p)
		for _, r := range p {
			if _, dup := seen[r.Name]; dup {
				continue
			}
			seen[r.Name] = struct{}{}
			out = append(out, r)
		}
	}
	return out, total
}

// Spreadsheet 以单工作表 xlsx 导出合并结果（列与 CSV 一致）。
func Spreadsheet(rs []contract.LookupResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "merged"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	header := []any{"", table.ColSubreddit, table.ColNSFW, table.ColName, table.ColSubscribers, table.ColAvailable}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, r := range rs {
		row := []any{i, r.Name, nil, nil, nil, r.Available}
		if r.NSFW != nil {
			row[2] = *r.NSFW
		}
		if r.CanonicalName != nil {
			row[3] = *r.CanonicalName
		}
		if r.Subscribers != nil {
			row[4] = *r.Subscribers
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
