package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrNotFound: 远端重定向/不存在/禁止访问；本地恢复为 Available=false，不重试。
	ErrNotFound = errors.New("community not found")
	// ErrRateLimited: 远端限流；按固定退避有限次重试。
	ErrRateLimited = errors.New("rate limited")
	// ErrRetryExhausted: 限流重试预算耗尽；整次运行致命终止。
	ErrRetryExhausted = errors.New("too many requests: retry budget exhausted")
	// ErrOutputCollision: 目标批文件已存在或与已完成区间重叠；需人工介入。
	ErrOutputCollision = errors.New("output collision")
	// ErrAuth: 认证失败（凭据缺失或被远端拒绝）。
	ErrAuth = errors.New("authentication failed")
	// ErrInvalidInput: 输入/配置非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrResponseInvalid: 远端响应无法解析。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrPathInvalid: 工件标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
