package diag

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"afsrpt/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeFormat     Code = "format"
	CodeValidation Code = "validation"
	CodeDecode     Code = "decode"
	CodeInvariant  Code = "invariant"
	CodeCancel     Code = "cancel"
	CodeIO         Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	switch {
	case errors.Is(err, contract.ErrFormat):
		return CodeFormat
	case errors.Is(err, contract.ErrValidation):
		return CodeValidation
	case errors.Is(err, contract.ErrDecode):
		return CodeDecode
	case errors.Is(err, contract.ErrInvariantViolation), errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
