package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Record: 一条输出记录，按列顺序排列，长度必须等于列头数。
type Record []string
