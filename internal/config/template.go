package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认输入为 STDIN（"-"），报表类型 tslist，Writer 输出 CSV 到 ./out 目录；
// - 组件名采用仓库内置实现；
// - 选项列出全部键并给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:      []string{"-"},
		Report:      "tslist",
		Concurrency: d.Concurrency,
		Logging:     d.Logging,
		Components:  d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "extensions": [],
  "encoding": "utf-8",
  "record_length": 0
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536,
  "delimiter": ",",
  "sheet": ""
}`)
	return cfg
}
