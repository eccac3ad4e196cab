package contract

import (
	"errors"
	"fmt"
	"strings"
)

// 最小错误分类（哨兵）。上层通过 errors.Is 判定，不做字符串匹配。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（模型定义缺陷、列数不一致等）。
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrFormat: 结构上必须匹配文法规则的行未能匹配（例如报表横幅缺少标题）。
	ErrFormat = errors.New("format error")
	// ErrValidation: 后续页的列头与首次捕获的列头不一致。
	ErrValidation = errors.New("validation error")
	// ErrDecode: 字段内容不满足其解码类型（例如整数字段含非数字字符）。
	ErrDecode = errors.New("decode error")
)

// LineError 携带出错行的位置与原始内容。
// Kind 为上述哨兵之一；Line 自 1 起计，0 表示未知。
type LineError struct {
	Kind  error
	Line  int
	Raw   string
	Field string
	Msg   string
}

func (e *LineError) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("line error")
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Raw != "" {
		fmt.Fprintf(&b, " (raw %q)", e.Raw)
	}
	return b.String()
}

func (e *LineError) Unwrap() error { return e.Kind }

// Errorf 构造不含位置的 LineError；位置由驱动在上抛前补齐。
func Errorf(kind error, format string, a ...any) *LineError {
	return &LineError{Kind: kind, Msg: fmt.Sprintf(format, a...)}
}
