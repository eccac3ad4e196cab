package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"afsrpt/internal/report"
)

// EnvPrefix 为全部覆盖变量的前缀。
const EnvPrefix = "AFSRPT_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Report 不设默认（必须由文件/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Concurrency: 1,
		Logging:     Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader: "fs",
			Writer: "csv",
		},
	}
}

// Load 按扩展名选择解析器：.yaml/.yml 走 YAML，其余按 JSON。
func Load(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	r, closeFn, err := source(path, raw)
	if err != nil {
		return cfg, err
	}
	defer closeFn()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAML 解析 YAML 配置：先转为 JSON，再走与 LoadJSON 相同的严格解码。
func LoadYAML(path string, raw []byte) (Config, error) {
	r, closeFn, err := source(path, raw)
	if err != nil {
		return Config{}, err
	}
	defer closeFn()
	b, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	j, err := yamlToJSON(b)
	if err != nil {
		return Config{}, err
	}
	return LoadJSON("", j)
}

func source(path string, raw []byte) (io.Reader, func(), error) {
	switch {
	case len(raw) > 0:
		return bytes.NewReader(raw), func() {}, nil
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	default:
		return nil, nil, errors.New("no config source provided")
	}
}

func yamlToJSON(b []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(normalizeYAML(v))
}

// normalizeYAML 将 map[any]any 键统一为字符串，使其可被 encoding/json 编码。
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeYAML(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeYAML(e)
		}
		return out
	case []any:
		for i, e := range t {
			t[i] = normalizeYAML(e)
		}
		return t
	default:
		return v
	}
}

// MarshalYAML 以 YAML 输出任意可 JSON 编码的值（保持 JSON 字段名）。
func MarshalYAML(v any) ([]byte, error) {
	j, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(j, &node); err != nil {
		return nil, err
	}
	// JSON 输入会被解析为 flow 风格，输出前改为块风格
	setBlockStyle(&node)
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setBlockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode && n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
		// 仅在必要时保留引号
		n.Style &^= yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle
	}
	for _, c := range n.Content {
		setBlockStyle(c)
	}
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if s := strings.TrimSpace(over.Report); s != "" {
		out.Report = s
	}
	if s := strings.TrimSpace(over.Output); s != "" {
		out.Output = s
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}

	// Models（按键替换）
	if len(over.Models) > 0 {
		m := make(map[string]report.Def, len(out.Models)+len(over.Models))
		for k, v := range out.Models {
			m[k] = v
		}
		for k, v := range over.Models {
			m[k] = v
		}
		out.Models = m
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 AFSRPT_；集合之外的键忽略。
// 支持：INPUTS, REPORT, OUTPUT, CONCURRENCY, LOG_LEVEL, LOG_DIR,
// COMPONENTS_{READER,WRITER}, OPTIONS_{READER,WRITER}_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[:eq]
		val := strings.TrimSpace(kv[eq+1:])
		switch strings.TrimPrefix(key, EnvPrefix) {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "REPORT":
			over.Report = val
		case "OUTPUT":
			over.Output = val
		case "CONCURRENCY":
			if val == "" {
				continue
			}
			n, err := strconv.Atoi(val)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			over.Concurrency = n
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "OPTIONS_READER_JSON":
			if val != "" {
				if !json.Valid([]byte(val)) {
					return Config{}, fmt.Errorf("%s: invalid JSON", key)
				}
				over.Options.Reader = json.RawMessage(val)
			}
		case "OPTIONS_WRITER_JSON":
			if val != "" {
				if !json.Valid([]byte(val)) {
					return Config{}, fmt.Errorf("%s: invalid JSON", key)
				}
				over.Options.Writer = json.RawMessage(val)
			}
		}
	}
	return over, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
