package contract

import (
	"context"
	"fmt"
)

// ArtifactID: 与 FileID 等价的持久化工件标识（语义别名）。
type ArtifactID = FileID

// Sink: 表格输出能力。先写一次列头，再逐条写记录。
type Sink interface {
	WriteHeader(names []string) error
	WriteRecord(values Record) error
}

// Writer: 将一张表持久化到目标介质（文件系统/SQLite 等）。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. fill 返回错误时放弃本次写入，不留下部分产物；
//  3. 仅在 fill 成功后提交（原子替换或事务提交）；
//  4. ctx 取消需尽快返回；错误直接上抛。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, fill func(Sink) error) error
}

// Locator: 可选能力。返回 id 对应的输出目标（文件路径、表名），
// 供调度层在写入前发现多个输入落到同一目标。空字符串表示目标可共享（如追加写入）。
type Locator interface {
	Locate(id ArtifactID) (string, error)
}

// NewCheckedSink 包装 Sink，强制列头恰好一次且先于记录、每条记录列数等于列头数。
func NewCheckedSink(inner Sink) Sink { return &checkedSink{inner: inner, width: -1} }

type checkedSink struct {
	inner Sink
	width int
}

func (s *checkedSink) WriteHeader(names []string) error {
	if s.width >= 0 {
		return fmt.Errorf("%w: header written twice", ErrInvariantViolation)
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: empty header", ErrInvariantViolation)
	}
	s.width = len(names)
	return s.inner.WriteHeader(names)
}

func (s *checkedSink) WriteRecord(values Record) error {
	if s.width < 0 {
		return fmt.Errorf("%w: record before header", ErrInvariantViolation)
	}
	if len(values) != s.width {
		return fmt.Errorf("%w: record has %d values, header has %d", ErrInvariantViolation, len(values), s.width)
	}
	return s.inner.WriteRecord(values)
}
