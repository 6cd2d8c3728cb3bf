// Package table 读写 pandas 风格的 CSV 表：
// 首列为无名索引列，布尔为 True/False，空单元格为 null。
// 以 .zst 结尾的工件按 zstd 透明压缩/解压。
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"submeta/pkg/contract"
)

// 列名。
const (
	ColSubreddit   = "subreddit"
	ColNSFW        = "nsfw"
	ColName        = "name"
	ColSubscribers = "subscribers"
	ColAvailable   = "available"
)

// ResultColumns 结果表的固定列顺序（不含索引列）。
var ResultColumns = []string{ColSubreddit, ColNSFW, ColName, ColSubscribers, ColAvailable}

// IsCompressed 按名称后缀判断是否为 zstd 压缩。
func IsCompressed(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".zst")
}

// NewReader 返回解压后的读取器；compressed=false 时原样透传。
func NewReader(r io.Reader, compressed bool) (io.ReadCloser, error) {
	if !compressed {
		return io.NopCloser(r), nil
	}
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return dec.IOReadCloser(), nil
}

// NewWriter 返回压缩写入器；Close 刷出尾部但不关闭 w。
func NewWriter(w io.Writer, compressed bool) (io.WriteCloser, error) {
	if !compressed {
		return nopWriteCloser{w}, nil
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return enc, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// header 读取表头并返回列名到位置的映射；识别 pandas 的无名索引列。
func header(cr *csv.Reader) (map[string]int, error) {
	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty table", contract.ErrInvalidInput)
		}
		return nil, err
	}
	cols := make(map[string]int, len(head))
	for i, h := range head {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" || strings.HasPrefix(h, "Unnamed:") {
			continue
		}
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	return cols, nil
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return cr
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// ReadInput 读取输入表（列 subreddit）；Index 为行在表中的 0 基位置。
func ReadInput(r io.Reader) ([]contract.InputRow, error) {
	cr := newCSVReader(r)
	cols, err := header(cr)
	if err != nil {
		return nil, err
	}
	ci, ok := cols[ColSubreddit]
	if !ok {
		return nil, fmt.Errorf("%w: input missing column %q", contract.ErrInvalidInput, ColSubreddit)
	}
	var rows []contract.InputRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := cell(rec, ci)
		if name == "" {
			return nil, fmt.Errorf("%w: row %d has empty %s", contract.ErrInvalidInput, len(rows), ColSubreddit)
		}
		rows = append(rows, contract.InputRow{Index: len(rows), Name: name})
	}
	return rows, nil
}

// ReadNames 读取任意含 subreddit 列的表，按行序返回名称。
func ReadNames(r io.Reader) ([]string, error) {
	rows, err := ReadInput(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = row.Name
	}
	return out, nil
}

// ReadResults 读取结果表（批文件或合并表）。
func ReadResults(r io.Reader) ([]contract.LookupResult, error) {
	cr := newCSVReader(r)
	cols, err := header(cr)
	if err != nil {
		return nil, err
	}
	for _, c := range []string{ColSubreddit, ColAvailable} {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%w: table missing column %q", contract.ErrInvalidInput, c)
		}
	}
	pos := func(c string) int {
		if i, ok := cols[c]; ok {
			return i
		}
		return -1
	}
	iSub, iNSFW, iName, iSubs, iAvail := pos(ColSubreddit), pos(ColNSFW), pos(ColName), pos(ColSubscribers), pos(ColAvailable)

	var out []contract.LookupResult
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		res := contract.LookupResult{Name: cell(rec, iSub)}
		avail, err := parseBool(cell(rec, iAvail))
		if err != nil || avail == nil {
			return nil, fmt.Errorf("%w: line %d: bad %s %q", contract.ErrInvalidInput, line, ColAvailable, cell(rec, iAvail))
		}
		res.Available = *avail
		if res.NSFW, err = parseBool(cell(rec, iNSFW)); err != nil {
			return nil, fmt.Errorf("%w: line %d: bad %s", contract.ErrInvalidInput, line, ColNSFW)
		}
		if s := cell(rec, iName); s != "" {
			res.CanonicalName = &s
		}
		if res.Subscribers, err = parseCount(cell(rec, iSubs)); err != nil {
			return nil, fmt.Errorf("%w: line %d: bad %s", contract.ErrInvalidInput, line, ColSubscribers)
		}
		out = append(out, res)
	}
	return out, nil
}

// WriteResults 写出结果表：表头 ",subreddit,nsfw,name,subscribers,available"，索引 0..n-1。
func WriteResults(w io.Writer, rs []contract.LookupResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{""}, ResultColumns...)); err != nil {
		return err
	}
	rec := make([]string, 6)
	for i, r := range rs {
		rec[0] = strconv.Itoa(i)
		rec[1] = r.Name
		rec[2] = formatBool(r.NSFW)
		rec[3] = ""
		if r.CanonicalName != nil {
			rec[3] = *r.CanonicalName
		}
		rec[4] = ""
		if r.Subscribers != nil {
			rec[4] = strconv.FormatInt(*r.Subscribers, 10)
		}
		rec[5] = formatBool(&r.Available)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteNames 写出单列 subreddit 表（无索引列）。
func WriteNames(w io.Writer, names []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColSubreddit}); err != nil {
		return err
	}
	for _, n := range names {
		if err := cw.Write([]string{n}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseBool(s string) (*bool, error) {
	var v bool
	switch strings.ToLower(s) {
	case "":
		return nil, nil
	case "true", "1", "1.0":
		v = true
	case "false", "0", "0.0":
		v = false
	default:
		return nil, fmt.Errorf("not a bool: %q", s)
	}
	return &v, nil
}

func formatBool(b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return "True"
	default:
		return "False"
	}
}

// parseCount 接受整数或 pandas 写出的浮点形式（"123.0"）。
func parseCount(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return nil, fmt.Errorf("not a count: %q", s)
	}
	n := int64(f)
	return &n, nil
}

// EncodeResults 编码整张结果表（可选 zstd），便于一次性交给 Sink。
func EncodeResults(rs []contract.LookupResult, compressed bool) ([]byte, error) {
	var buf strings.Builder
	zw, err := NewWriter(&buf, compressed)
	if err != nil {
		return nil, err
	}
	if err := WriteResults(zw, rs); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// DecodeResults 按需解压后读取结果表。
func DecodeResults(r io.Reader, compressed bool) ([]contract.LookupResult, error) {
	zr, err := NewReader(r, compressed)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return ReadResults(zr)
}
