package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"submeta/internal/table"
	"submeta/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
}

// FileSystem 从文件系统或 STDIN 读取输入表。
type FileSystem struct {
	bufSize int
	stdin   io.Reader
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	b := defaultBuf
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	return &FileSystem{bufSize: b, stdin: os.Stdin}
}

// Open 打开输入路径："-" 为 STDIN；允许常规文件及指向常规文件的符号链接。
// 目录与非常规文件返回 ErrInvalidInput。以 .zst 结尾的文件透明解压。
func (r *FileSystem) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if path == "-" {
		return newBufferedCloser(io.NopCloser(r.stdin), r.bufSize), nil
	}
	// os.Stat 跟随符号链接
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", contract.ErrInvalidInput, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	brc := newBufferedCloser(f, r.bufSize)
	if !table.IsCompressed(path) {
		return brc, nil
	}
	zr, err := table.NewReader(brc, true)
	if err != nil {
		_ = brc.Close()
		return nil, err
	}
	return &stackCloser{Reader: zr, closers: []io.Closer{zr, brc}}, nil
}

// ReadRows 读取整张输入表。
func (r *FileSystem) ReadRows(ctx context.Context, path string) ([]contract.InputRow, error) {
	rc, err := r.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	rows, err := table.ReadInput(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }

// stackCloser 按顺序关闭解压器与文件。
type stackCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
