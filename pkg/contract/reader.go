package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件/目录/STDIN）。
// 约束：
// 1) 流式读取，按文件维度回调；
// 2) FileID 稳定且去平台差异化；
// 3) 只做字符集解码与定长记录切分，不做业务解析；
// 4) 不在内部起并发；调用方负责关闭 rc。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, rc io.ReadCloser) error) error
}

// LineSource: 顺序可读的文本行来源（无回退、无 seek）。
// *bufio.Scanner 天然满足该契约。
type LineSource interface {
	Scan() bool
	Text() string
	Err() error
}
