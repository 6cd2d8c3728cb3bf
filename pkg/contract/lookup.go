package contract

import "context"

// LookupClient: 与远端平台交互的外部协作者。
// 单次调用、同步返回；应尊重 ctx 取消/超时。
// 错误分类：
//   - ErrNotFound: 重定向/404/403（不存在、封禁、私有）；
//   - ErrRateLimited: 429；
//   - 其他错误原样上抛，由调用方视为致命。
type LookupClient interface {
	// Authenticate 完成登录并返回当前身份（用户名）。
	Authenticate(ctx context.Context) (string, error)
	// Lookup 查询单个社区的元信息。
	Lookup(ctx context.Context, name string) (About, error)
}
