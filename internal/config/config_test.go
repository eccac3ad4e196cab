package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afsrpt/internal/report"
	"afsrpt/pkg/contract"
	"afsrpt/pkg/registry"
	wfs "afsrpt/plugins/writer/filesystem"
	wsql "afsrpt/plugins/writer/sqlite"
)

// 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := Load("../../testdata/config/basic.json")
	require.NoError(t, err)
	assert.Equal(t, "tslist", cfg.Report)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"testdata/files/TSLIST.txt"}, cfg.Inputs)
	require.NoError(t, Validate(Merge(Defaults(), cfg)))
}

// YAML 配置含自定义文法
func TestLoadYAMLCustomModel(t *testing.T) {
	cfg, err := Load("../../testdata/config/custom.yaml")
	require.NoError(t, err)
	require.NoError(t, Validate(Merge(Defaults(), cfg)))
	assert.Equal(t, "xlsx", cfg.Components.Writer)
	assert.JSONEq(t, `{"output_dir":"out","sheet":"BRANCHES"}`, string(cfg.Options.Writer))

	m, err := registry.CompileModel(cfg.Report, cfg.Models)
	require.NoError(t, err)
	src := "000 ACME BRANCH LIST        PAGE:    1\nBR  NAME\n--- ----\n  7 MAIN STREET\n 12 OAK PLAZA\n"
	tb, err := m.Extract(context.Background(), "BRLIST.txt", strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"BR", "NAME", "PAGE"}, tb.Headers)
	assert.Equal(t, []contract.Record{{"7", "MAIN STREET", "1"}, {"12", "OAK PLAZA", "1"}}, tb.Records)
}

func TestLoadYAMLStrict(t *testing.T) {
	_, err := LoadYAML("", []byte("inputs: [a]\nunknown: 1\n"))
	require.Error(t, err)
	_, err = LoadYAML("", []byte("inputs: [a\n"))
	require.ErrorContains(t, err, "yaml")
	cfg, err := LoadYAML("", []byte("# empty\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Inputs)
}

// 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	_, err := LoadJSON("", []byte(`{"unknown":1}`))
	require.Error(t, err)
	_, err = LoadJSON("", nil)
	require.ErrorContains(t, err, "no config source")
	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.True(t, os.IsNotExist(err), "got %v", err)
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"AFSRPT_INPUTS=a, b",
		"AFSRPT_REPORT=empdwn",
		"AFSRPT_OUTPUT=out/users.csv",
		"AFSRPT_CONCURRENCY=3",
		"AFSRPT_LOG_LEVEL=warn",
		"AFSRPT_LOG_DIR=/var/log/afsrpt",
		"AFSRPT_COMPONENTS_WRITER=sqlite",
		`AFSRPT_OPTIONS_WRITER_JSON={"path":"afs.db"}`,
		"AFSRPT_=x",
		"OTHER=1",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, over.Inputs)
	assert.Equal(t, "empdwn", over.Report)
	assert.Equal(t, "out/users.csv", over.Output)
	assert.Equal(t, 3, over.Concurrency)
	assert.Equal(t, Logging{Level: "warn", Dir: "/var/log/afsrpt"}, over.Logging)
	assert.Equal(t, "sqlite", over.Components.Writer)
	assert.JSONEq(t, `{"path":"afs.db"}`, string(over.Options.Writer))

	_, err = EnvOverlay([]string{"AFSRPT_CONCURRENCY=many"})
	require.ErrorContains(t, err, "AFSRPT_CONCURRENCY")
	_, err = EnvOverlay([]string{"AFSRPT_OPTIONS_READER_JSON={"})
	require.ErrorContains(t, err, "invalid JSON")
}

func TestMerge(t *testing.T) {
	base := Defaults()
	base.Models = map[string]report.Def{"a": {Name: "a"}}
	base.Options.Writer = json.RawMessage(`{"output_dir":"x"}`)
	over := Config{Report: " tslist ", Concurrency: 4, Models: map[string]report.Def{"b": {Name: "b"}}}
	got := Merge(base, over)
	assert.Equal(t, "tslist", got.Report)
	assert.Equal(t, 4, got.Concurrency)
	assert.Equal(t, "csv", got.Components.Writer)
	assert.Len(t, got.Models, 2)
	assert.Len(t, base.Models, 1, "base 不应被修改")
	assert.JSONEq(t, `{"output_dir":"x"}`, string(got.Options.Writer))
}

func TestDotEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	content := "# c\nexport AFSRPT_TEST_A=1\nAFSRPT_TEST_B=\"x\\ty\"\nAFSRPT_TEST_C='raw\\n'\nbroken\nAFSRPT_TEST_KEEP=new\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	t.Setenv("AFSRPT_TEST_KEEP", "old")
	for _, k := range []string{"AFSRPT_TEST_A", "AFSRPT_TEST_B", "AFSRPT_TEST_C"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	require.NoError(t, LoadDotEnv(p))
	assert.Equal(t, "1", os.Getenv("AFSRPT_TEST_A"))
	assert.Equal(t, "x\ty", os.Getenv("AFSRPT_TEST_B"))
	assert.Equal(t, `raw\n`, os.Getenv("AFSRPT_TEST_C"))
	assert.Equal(t, "old", os.Getenv("AFSRPT_TEST_KEEP"))
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "none")))

	tpl := DotEnvTemplate()
	for _, k := range []string{"AFSRPT_CONFIG_FILE=", "AFSRPT_REPORT=", "AFSRPT_OPTIONS_WRITER_JSON="} {
		assert.Contains(t, tpl, k)
	}
}

// Validate 错误分支
func TestValidateErrors(t *testing.T) {
	require.Error(t, Validate(Config{}))
	ok := DefaultTemplateConfig()
	require.NoError(t, Validate(ok))

	cases := map[string]func(*Config){
		"inputs empty":        func(c *Config) { c.Inputs = nil },
		"cannot be empty":     func(c *Config) { c.Inputs = []string{" "} },
		"cannot be mixed":     func(c *Config) { c.Inputs = []string{"-", "a"} },
		"concurrency":         func(c *Config) { c.Concurrency = 0 },
		"single input":        func(c *Config) { c.Inputs = []string{"a", "b"}; c.Output = "x.csv" },
		"log level":           func(c *Config) { c.Logging.Level = "trace" },
		"report type not set": func(c *Config) { c.Report = "" },
		"unknown report type": func(c *Config) { c.Report = "nope" },
		"shadows":             func(c *Config) { c.Models = map[string]report.Def{"tslist": {}} },
		"invariant violation": func(c *Config) { c.Report = "mine"; c.Models = map[string]report.Def{"mine": {}} },
		`reader "x"`:          func(c *Config) { c.Components.Reader = "x" },
		`writer "parquet"`:    func(c *Config) { c.Components.Writer = "parquet" },
	}
	for want, mut := range cases {
		c := DefaultTemplateConfig()
		mut(&c)
		err := Validate(c)
		require.Error(t, err, want)
		assert.Contains(t, err.Error(), want)
	}
}

func TestAssemble(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"` + filepath.ToSlash(t.TempDir()) + `"}`)
	comp, set, err := Assemble(cfg)
	require.NoError(t, err)
	assert.NotNil(t, comp.Reader)
	assert.Equal(t, "tslist", set.Report)
	assert.False(t, set.SingleArtifact)
	m, ok := comp.Extractor.(*report.Model)
	require.True(t, ok)
	assert.Equal(t, "tslist", m.Name())

	// 显式输出：csv 拆分目录与文件名
	cfg.Output = filepath.Join("out", "users.csv")
	comp, set, err = Assemble(cfg)
	require.NoError(t, err)
	assert.True(t, set.SingleArtifact)
	fs, ok := comp.Writer.(*wfs.FS)
	require.True(t, ok)
	p, err := fs.Path("in/EMPDWN.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "users.csv"), p)

	// sqlite：输出为数据库路径
	cfg.Components.Writer = "sqlite"
	cfg.Options.Writer = nil
	cfg.Output = filepath.Join("out", "afs.db")
	comp, _, err = Assemble(cfg)
	require.NoError(t, err)
	db, ok := comp.Writer.(*wsql.DB)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("out", "afs.db"), db.Path())
	assert.Equal(t, "out", WriterOutputDir(cfg))

	// 严格选项解析
	cfg.Output = ""
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"x"}`)
	_, _, err = Assemble(cfg)
	require.ErrorContains(t, err, "writer sqlite")
}

func TestWriterOptions(t *testing.T) {
	raw, err := WriterOptions("csv", json.RawMessage(`{"delimiter":"|"}`), "a/b/r.csv")
	require.NoError(t, err)
	assert.JSONEq(t, `{"delimiter":"|","output_dir":"a/b","output_name":"r.csv"}`, filepath.ToSlash(string(raw)))
	raw, err = WriterOptions("csv", json.RawMessage(`{"delimiter":"|"}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"delimiter":"|"}`, string(raw))
	_, err = WriterOptions("csv", json.RawMessage(`[1]`), "x")
	require.Error(t, err)
	assert.Equal(t, "out", WriterOutputDir(DefaultTemplateConfig()))
}

func TestMarshalYAML(t *testing.T) {
	b, err := MarshalYAML(registry.Model["tslist"]())
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, "name: tslist\n")
	assert.NotContains(t, s, "{\"")
	// 数字样式的字符串在往返后仍为字符串
	back, err := LoadYAML("", []byte("inputs: [x]\nreport: t\nmodels:\n  t:\n"+indent(s, "    ")))
	require.NoError(t, err)
	assert.Equal(t, registry.Model["tslist"](), withName(back.Models["t"], "tslist"))
}

func indent(s, pad string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = pad + l
	}
	return strings.Join(lines, "\n") + "\n"
}

func withName(d report.Def, n string) report.Def { d.Name = n; return d }

func TestSplitComma(t *testing.T) {
	parts := splitComma("a, b , ,c")
	assert.Equal(t, []string{"a", "b", "c"}, parts)
	assert.Nil(t, splitComma(""))
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	assert.Equal(t, "abc", string(dst))
}
