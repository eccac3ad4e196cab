package config

import (
	"encoding/json"

	"afsrpt/internal/report"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs []string `json:"inputs"`
	// Report: 报表文法名（内置 empdwn/tslist/trnsec 或 models 中的自定义名）。
	Report string `json:"report"`
	// Output: 显式输出路径，仅允许单一输入；csv/xlsx 为文件路径，sqlite 为数据库路径。
	Output      string  `json:"output,omitempty"`
	Concurrency int     `json:"concurrency"`
	Logging     Logging `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	// Models: 自定义报表文法，键为注册名。
	Models map[string]report.Def `json:"models,omitempty"`
}

// Logging: 日志级别与目录；轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader string `json:"reader"`
	Writer string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader json.RawMessage `json:"reader,omitempty"`
	Writer json.RawMessage `json:"writer,omitempty"`
}
