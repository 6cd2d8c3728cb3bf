package contract

import "context"

// RowReader: 读取输入表（路径或 "-" 表示 STDIN），按原始顺序返回全部行。
type RowReader interface {
	ReadRows(ctx context.Context, path string) ([]InputRow, error)
}
