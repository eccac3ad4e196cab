package contract

import (
	"context"
	"io"
)

// Extractor: 将单文件文本流按报表文法抽取为一张表（列头 + 有序记录）。
// 约束：
// 1) 不跨文件共享状态，多次调用互不影响；
// 2) 记录顺序即输入顺序，不重排；
// 3) 首错即止，不跳行、不重试；
// 4) 无内部并发。
type Extractor interface {
	Extract(ctx context.Context, fileID FileID, r io.Reader) (*Table, error)
}

// Table: 一次抽取的结果。len(Records[i]) == len(Headers)。
type Table struct {
	Headers []string
	Records []Record
	Stats   Stats
}

// Stats: 抽取过程计数（仅用于日志与终端提示）。
type Stats struct {
	Lines      int
	Banners    int
	Separators int
	Sections   int
	DataLines  int
}

// Fill 将表按顺序写入 Sink。
func (t *Table) Fill(s Sink) error {
	if err := s.WriteHeader(t.Headers); err != nil {
		return err
	}
	for _, r := range t.Records {
		if err := s.WriteRecord(r); err != nil {
			return err
		}
	}
	return nil
}
