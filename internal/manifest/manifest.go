// Package manifest 记录已完成的批区间 [start,end)，与输出数据分开持久化。
// 新区间与任一已记录区间重叠即视为输出碰撞（即使 split 参数不同）。
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"submeta/internal/diag"
	"submeta/pkg/contract"
)

// Range 一条已完成批次。
type Range struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	File  string `json:"file"`
	Rows  int    `json:"rows"`
	At    string `json:"at"`
}

// Manifest 某一输出前缀的完成记录。
type Manifest struct {
	Base   string  `json:"base"`
	Ranges []Range `json:"ranges"`
}

// ID 返回前缀对应的清单工件名。
func ID(base string) contract.ArtifactID {
	return contract.ArtifactID(base + ".manifest.json")
}

// Load 读取清单；不存在时返回空清单。
func Load(ctx context.Context, sink contract.Sink, base string) (*Manifest, error) {
	m := &Manifest{Base: base}
	rc, err := sink.Open(ctx, ID(base))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer rc.Close()
	dec := json.NewDecoder(rc)
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", contract.ErrInvalidInput, ID(base), err)
	}
	return m, nil
}

// Overlaps 返回与 [start,end) 重叠的第一条已记录区间。
func (m *Manifest) Overlaps(start, end int) (Range, bool) {
	if m == nil || start >= end {
		return Range{}, false
	}
	for _, r := range m.Ranges {
		if start < r.End && r.Start < end {
			return r, true
		}
	}
	return Range{}, false
}

// Add 追加一条区间并保持按 Start 升序。
func (m *Manifest) Add(r Range) {
	if r.At == "" {
		r.At = diag.NowUTC()
	}
	m.Ranges = append(m.Ranges, r)
	sort.SliceStable(m.Ranges, func(i, j int) bool { return m.Ranges[i].Start < m.Ranges[j].Start })
}

// Covered 返回已完成的行数合计。
func (m *Manifest) Covered() int {
	n := 0
	for _, r := range m.Ranges {
		n += r.End - r.Start
	}
	return n
}

// Save 整体写回清单（Sink 负责原子替换）。
func Save(ctx context.Context, sink contract.Sink, m *Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if err := sink.Write(ctx, ID(m.Base), bytes.NewReader(b)); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
