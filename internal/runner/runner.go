// Package runner 驱动一次批量查询：认证 → 读取输入 → 逐行查询 → 按 K 行落盘。
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"submeta/internal/diag"
	"submeta/internal/fetch"
	"submeta/internal/manifest"
	"submeta/internal/table"
	"submeta/pkg/contract"
)

// Settings 单次运行参数。
type Settings struct {
	Input string // 输入路径（"-" 为 STDIN）
	Base  string // 批文件名前缀（不含目录）
	Skip  int
	Max   int // 0 表示不限
	Split int // 批大小 K
	Debug bool
	// Compress: 批文件写为 .csv.zst。
	Compress bool
}

// Deps 运行期协作者；Logger/Console/Counters/Store 可为空。
type Deps struct {
	Client  contract.LookupClient
	Reader  contract.RowReader
	Sink    contract.Sink
	Fetcher *fetch.Fetcher
	// Store: 可选的结果镜像；每个批次落盘后写入。
	Store contract.ResultStore
	Creds contract.Credentials

	Logger   *diag.Logger
	Console  *diag.Console
	Counters *diag.Counters
	Now      func() time.Time
}

// Summary 运行汇总。
type Summary struct {
	Identity    string
	Rows        int // skip 之后的行数
	Fetched     int
	Unavailable int
	Batches     []contract.ArtifactID
	Stopped     bool // max 提前结束
	DryRun      bool
	FirstEntry  string
}

type state int

const (
	stateRunning state = iota
	stateStopping
	stateFlushing
	stateDone
)

type run struct {
	s     Settings
	d     Deps
	man   *manifest.Manifest
	batch []contract.LookupResult
	sum   Summary
}

// Run 执行一次批量查询。
// 中断（ctx 取消）时立即返回 ctx.Err()，不落盘未完成批次。
func Run(ctx context.Context, s Settings, d Deps) (Summary, error) {
	if err := validate(s, d); err != nil {
		return Summary{}, err
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Fetcher == nil {
		d.Fetcher = &fetch.Fetcher{Client: d.Client, Backoff: -1, Logger: d.Logger, Console: d.Console, Counters: d.Counters}
	}
	r := &run{s: s, d: d}

	d.Console.Printf("Logging in as: %s (%s)", d.Creds.Username, d.Creds.ClientID)
	t := d.Logger.Start("auth", "authenticate")
	me, err := d.Client.Authenticate(ctx)
	if err != nil {
		d.Logger.Error("auth", string(diag.Classify(err)), err.Error(), nil)
		return r.sum, fmt.Errorf("authenticate: %w", err)
	}
	t.Finish("authenticated", 0)
	r.sum.Identity = me
	d.Console.Printf("Logged in as: %s", me)

	rows, err := r.load(ctx)
	if err != nil {
		return r.sum, err
	}
	if s.Debug {
		r.sum.DryRun = true
		d.Logger.Info("runner", "dry run", map[string]string{"first": r.sum.FirstEntry})
		return r.sum, nil
	}

	man, err := manifest.Load(ctx, d.Sink, s.Base)
	if err != nil {
		return r.sum, err
	}
	r.man = man
	if g := d.Fetcher.Gate; g.Enabled() {
		d.Console.Printf("Pacing requests at %d per minute", g.RPM())
	}
	return r.sum, r.loop(ctx, rows)
}

func validate(s Settings, d Deps) error {
	switch {
	case d.Client == nil || d.Reader == nil || d.Sink == nil:
		return errors.New("runner: missing client, reader or sink")
	case s.Base == "":
		return fmt.Errorf("%w: empty output prefix", contract.ErrInvalidInput)
	case s.Split < 1:
		return fmt.Errorf("%w: split must be >= 1", contract.ErrInvalidInput)
	case s.Skip < 0 || s.Max < 0:
		return fmt.Errorf("%w: skip and max must be >= 0", contract.ErrInvalidInput)
	}
	return nil
}

// load 读取输入并应用 skip；行保持原始索引。
func (r *run) load(ctx context.Context) ([]contract.InputRow, error) {
	t := r.d.Logger.StartWithKV("reader", "read input", "", map[string]string{"path": r.s.Input})
	rows, err := r.d.Reader.ReadRows(ctx, r.s.Input)
	if err != nil {
		r.d.Logger.Error("reader", string(diag.Classify(err)), err.Error(), nil)
		return nil, fmt.Errorf("read input: %w", err)
	}
	t.Finish("read input", int64(len(rows)))
	if r.s.Skip > 0 {
		r.d.Console.Printf("Skipping the first %d", r.s.Skip)
		rows = rows[min(r.s.Skip, len(rows)):]
	}
	if len(rows) > 0 {
		r.sum.FirstEntry = rows[0].Name
		if r.s.Skip > 0 || r.s.Debug {
			r.d.Console.Printf("First entry to be processed: %s", rows[0].Name)
		}
	}
	r.sum.Rows = len(rows)
	return rows, nil
}

func (r *run) loop(ctx context.Context, rows []contract.InputRow) error {
	s, d := r.s, r.d
	count := len(rows)
	next := s.Skip
	if count > 0 {
		next = rows[0].Index
	}
	last := d.Now()
	st := stateRunning
	i := 0
	for st != stateDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch st {
		case stateRunning:
			if i >= count {
				st = stateFlushing
				continue
			}
			row := rows[i]
			if row.Index%10 == 0 {
				now := d.Now()
				window := now.Sub(last)
				last = now
				eta := int(window.Seconds() * float64(count-(row.Index-s.Skip)) / 60)
				d.Console.Progress(row.Index+1-s.Skip, count, window, eta)
			}
			if row.Index%s.Split == 0 && len(r.batch) > 0 {
				d.Console.Printf("Saving intermediate result...")
				if err := r.flush(ctx, row.Index); err != nil {
					return err
				}
			}
			if s.Max != 0 && row.Index-s.Skip >= s.Max {
				st = stateStopping
				continue
			}
			res, err := d.Fetcher.Fetch(ctx, row)
			if err != nil {
				return err
			}
			r.sum.Fetched++
			if !res.Available {
				r.sum.Unavailable++
			}
			r.batch = append(r.batch, res)
			next = row.Index + 1
			i++
		case stateStopping:
			d.Console.Printf("Breaking due to max fetch exceeded (%d)", s.Max)
			d.Logger.Info("runner", "max fetch reached", map[string]string{"max": strconv.Itoa(s.Max)})
			r.sum.Stopped = true
			st = stateFlushing
		case stateFlushing:
			d.Console.Printf("Saving last result...")
			if err := r.flush(ctx, next); err != nil {
				return err
			}
			st = stateDone
		}
	}
	return nil
}

// flush 将当前批次写为 [end-len, end)；空批次不产生文件。
// 目标已存在或与清单区间重叠时返回 ErrOutputCollision，且不写入任何内容。
func (r *run) flush(ctx context.Context, end int) error {
	if len(r.batch) == 0 {
		return nil
	}
	d := r.d
	start := end - len(r.batch)
	id := contract.BatchArtifact(r.s.Base, start, end, r.s.Compress)
	batchID := fmt.Sprintf("%d-%d", start, end)

	exists, err := d.Sink.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check %s: %w", id, err)
	}
	if exists {
		return r.collision(id, batchID, "file exists", "FILE ALREADY EXISTS, EXITING")
	}
	if prev, hit := r.man.Overlaps(start, end); hit {
		return r.collision(id, batchID, "overlaps "+prev.File,
			fmt.Sprintf("RANGE %d-%d OVERLAPS %s, EXITING", start, end, prev.File))
	}
	for _, res := range r.batch {
		if err := contract.ValidateResult(res); err != nil {
			return err
		}
	}

	t := d.Logger.StartWith("sink", "write batch", batchID)
	data, err := table.EncodeResults(r.batch, r.s.Compress)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	if err := d.Sink.Write(ctx, id, bytes.NewReader(data)); err != nil {
		d.Logger.ErrorWith("sink", string(diag.Classify(err)), err.Error(), nil, batchID)
		return fmt.Errorf("write %s: %w", id, err)
	}
	t.Finish("write batch", int64(len(r.batch)))

	r.man.Add(manifest.Range{Start: start, End: end, File: string(id), Rows: len(r.batch)})
	if err := manifest.Save(ctx, d.Sink, r.man); err != nil {
		return err
	}
	if d.Store != nil {
		n, err := d.Store.SaveResults(ctx, r.batch)
		if err != nil {
			d.Logger.ErrorWith("store", string(diag.Classify(err)), err.Error(), nil, batchID)
			return fmt.Errorf("mirror %s: %w", id, err)
		}
		d.Logger.Info("store", "mirrored", map[string]string{"batch": batchID, "rows": strconv.Itoa(n)})
	}
	d.Counters.Inc(diag.MetricBatches, 1)
	d.Counters.Inc(diag.MetricRows, int64(len(r.batch)))
	r.sum.Batches = append(r.sum.Batches, id)
	r.batch = nil
	return nil
}

func (r *run) collision(id contract.ArtifactID, batchID, why, msg string) error {
	r.d.Console.Printf("%s", msg)
	r.d.Logger.ErrorWithKV("sink", string(diag.CodeCollision), "output collision", nil, batchID, map[string]string{
		"file":   string(id),
		"reason": why,
	})
	return fmt.Errorf("%s: %s: %w", id, why, contract.ErrOutputCollision)
}
