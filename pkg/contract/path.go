package contract

import (
	"fmt"
	"strconv"
	"strings"
)

// 批文件扩展名。
const (
	ExtCSV  = ".csv"
	ExtZstd = ".csv.zst"
)

// BatchArtifact 按命名规则生成批文件标识：{base}-{start}-{end}.csv[.zst]
// 区间语义为 [start,end)。
func BatchArtifact(base string, start, end int, compressed bool) ArtifactID {
	ext := ExtCSV
	if compressed {
		ext = ExtZstd
	}
	return ArtifactID(fmt.Sprintf("%s-%d-%d%s", base, start, end, ext))
}

// IsTable 判断工件是否为表格文件（.csv 或 .csv.zst）。
func IsTable(id ArtifactID) bool {
	s := strings.ToLower(string(id))
	return strings.HasSuffix(s, ExtCSV) || strings.HasSuffix(s, ExtZstd)
}

// ParseBatchRange 从批文件名中解析 [start,end)；base 本身可含 '-'。
// 非批文件名返回 ok=false。
func ParseBatchRange(id ArtifactID) (start, end int, ok bool) {
	s := string(id)
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	switch {
	case strings.HasSuffix(strings.ToLower(s), ExtZstd):
		s = s[:len(s)-len(ExtZstd)]
	case strings.HasSuffix(strings.ToLower(s), ExtCSV):
		s = s[:len(s)-len(ExtCSV)]
	default:
		return 0, 0, false
	}
	j := strings.LastIndexByte(s, '-')
	if j <= 0 {
		return 0, 0, false
	}
	e, err := strconv.Atoi(s[j+1:])
	if err != nil {
		return 0, 0, false
	}
	s = s[:j]
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return 0, 0, false
	}
	b, err := strconv.Atoi(s[i+1:])
	if err != nil || b < 0 || e < b {
		return 0, 0, false
	}
	return b, e, true
}
