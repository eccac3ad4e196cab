package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"afsrpt/internal/report"
	"afsrpt/pkg/contract"
	"afsrpt/plugins/model/empdwn"
	"afsrpt/plugins/model/trnsec"
	"afsrpt/plugins/model/tslist"
	rfs "afsrpt/plugins/reader/filesystem"
	wfs "afsrpt/plugins/writer/filesystem"
	wsql "afsrpt/plugins/writer/sqlite"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewModel 返回内置报表文法定义。
type NewModel func() report.Def

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader（含字符集解码与定长记录切分）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// csv/xlsx: 文件系统 Writer，格式由注册名决定
	"csv":  fileWriter("csv"),
	"xlsx": fileWriter("xlsx"),
	// sqlite: 单库多表，每个输入一张表
	"sqlite": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wsql.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wsql.New(&opts)
	},
}

func fileWriter(format string) NewWriter {
	return func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		if f := strings.ToLower(strings.TrimSpace(opts.Format)); f != "" && f != format {
			return nil, fmt.Errorf("writer %s: format %q conflicts", format, opts.Format)
		}
		opts.Format = format
		return wfs.New(&opts)
	}
}

// Model 内置报表文法注册表。
var Model = map[string]NewModel{
	empdwn.Name: empdwn.Def,
	tslist.Name: tslist.Def,
	trnsec.Name: trnsec.Def,
}

// ModelNames 返回内置与自定义文法名（排序、去重）。
func ModelNames(custom map[string]report.Def) []string {
	seen := make(map[string]struct{}, len(Model)+len(custom))
	out := make([]string, 0, len(Model)+len(custom))
	for n := range Model {
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for n := range custom {
		if _, ok := seen[n]; !ok {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// LookupModel 按名称查找文法定义；内置优先，其次自定义。
// 自定义定义未写 name 时取注册键。
func LookupModel(name string, custom map[string]report.Def) (report.Def, bool) {
	if f, ok := Model[name]; ok {
		return f(), true
	}
	def, ok := custom[name]
	if ok && strings.TrimSpace(def.Name) == "" {
		def.Name = name
	}
	return def, ok
}

// CompileModel 查找并编译文法。
func CompileModel(name string, custom map[string]report.Def) (*report.Model, error) {
	def, ok := LookupModel(name, custom)
	if !ok {
		return nil, fmt.Errorf("unknown report type %q (known: %s)", name, strings.Join(ModelNames(custom), ", "))
	}
	return report.Compile(def)
}
