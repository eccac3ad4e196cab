package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"afsrpt/internal/pipeline"
	"afsrpt/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if strings.TrimSpace(cfg.Output) != "" && len(cfg.Inputs) > 1 {
		return errors.New("config: output requires a single input")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", cfg.Logging.Level)
	}
	if strings.TrimSpace(cfg.Report) == "" {
		return errors.New("config: report type not set")
	}
	for name := range cfg.Models {
		if _, builtin := registry.Model[name]; builtin {
			return fmt.Errorf("config: custom model %q shadows a built-in model", name)
		}
	}
	if _, err := registry.CompileModel(cfg.Report, cfg.Models); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	if name := effName(cfg.Components.Reader, Defaults().Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	wraw, err := WriterOptions(wn, cfg.Options.Writer, cfg.Output)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	w, err := registry.Writer[wn](wraw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}
	m, err := registry.CompileModel(cfg.Report, cfg.Models)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	comp := pipeline.Components{Reader: r, Extractor: m, Writer: w}
	set := pipeline.Settings{
		Inputs:         cloneStrings(cfg.Inputs),
		Concurrency:    cfg.Concurrency,
		Report:         m.Name(),
		SingleArtifact: strings.TrimSpace(cfg.Output) != "",
	}
	return comp, set, nil
}

// WriterOptions 将显式输出路径并入 writer 的原样选项：
// sqlite 写入 path；csv/xlsx 拆为 output_dir 与 output_name。
func WriterOptions(writer string, raw json.RawMessage, output string) (json.RawMessage, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return raw, nil
	}
	m := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("config: writer options: %w", err)
		}
	}
	set := func(k, v string) {
		b, _ := json.Marshal(v)
		m[k] = b
	}
	switch writer {
	case "sqlite":
		set("path", output)
	default:
		set("output_dir", filepath.Dir(output))
		set("output_name", filepath.Base(output))
	}
	return json.Marshal(m)
}

// WriterOutputDir 返回 csv/xlsx writer 选项中的 output_dir（不存在时为空）。
func WriterOutputDir(cfg Config) string {
	wn := effName(cfg.Components.Writer, Defaults().Components.Writer)
	raw, err := WriterOptions(wn, cfg.Options.Writer, cfg.Output)
	if err != nil || len(raw) == 0 {
		return ""
	}
	var o struct {
		OutputDir string `json:"output_dir"`
		Path      string `json:"path"`
	}
	_ = json.Unmarshal(raw, &o)
	if wn == "sqlite" {
		if o.Path == "" {
			return ""
		}
		return filepath.Dir(o.Path)
	}
	return strings.TrimSpace(o.OutputDir)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
