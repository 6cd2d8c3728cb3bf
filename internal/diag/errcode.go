package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"submeta/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/计数汇总，与退出码解耦。
type Code string

const (
	CodeUnknown     Code = "unknown"
	CodeNotFound    Code = "not_found"
	CodeRateLimited Code = "rate_limited"
	CodeBudget      Code = "budget"
	CodeCollision   Code = "collision"
	CodeAuth        Code = "auth"
	CodeNetwork     Code = "network"
	CodeProtocol    Code = "protocol"
	CodeInvariant   Code = "invariant"
	CodeCancel      Code = "cancel"
	CodeIO          Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrRetryExhausted):
		return CodeBudget
	case errors.Is(err, contract.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, contract.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, contract.ErrOutputCollision):
		return CodeCollision
	case errors.Is(err, contract.ErrAuth):
		return CodeAuth
	case errors.Is(err, contract.ErrResponseInvalid):
		return CodeProtocol
	case errors.Is(err, contract.ErrInvariantViolation),
		errors.Is(err, contract.ErrInvalidInput),
		errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
