package contract

import (
	"context"
	"io"
)

// ArtifactID: 持久化工件标识（相对 Sink 根的名称，如 subreddits-meta-0-1000.csv）。
type ArtifactID string

// Sink: 批文件的持久化介质（文件系统/对象存储）。
// 约束：
//  1. 单写者；Exists 仅用于碰撞检测，不加锁；
//  2. Write 流式写入，按字节透传，不读取/修改业务内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Sink interface {
	Exists(ctx context.Context, id ArtifactID) (bool, error)
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
	// Open 打开已有工件；不存在时返回满足 errors.Is(err, fs.ErrNotExist) 的错误。
	Open(ctx context.Context, id ArtifactID) (io.ReadCloser, error)
	// List 按名称升序返回全部工件。
	List(ctx context.Context) ([]ArtifactID, error)
}

// ResultStore: 可选的结果镜像（例如数据库）；按批写入，幂等。
type ResultStore interface {
	SaveResults(ctx context.Context, results []LookupResult) (int, error)
	Close()
}
