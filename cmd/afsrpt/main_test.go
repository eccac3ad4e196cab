package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "afsrpt/internal/config"
	"afsrpt/internal/diag"
	"afsrpt/internal/pipeline"
)

// chdirTemp 切换到临时目录，返回仓库 testdata 的绝对路径。
func chdirTemp(t *testing.T) string {
	t.Helper()
	td, err := filepath.Abs(filepath.Join("..", "..", "testdata"))
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return td
}

func runArgs(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := run(args, &out, &errb)
	return code, out.String(), errb.String()
}

// stubPipeline 替换 pipelineRun，返回捕获的 Settings。
func stubPipeline(t *testing.T, ret error) *pipeline.Settings {
	t.Helper()
	got := &pipeline.Settings{}
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) error {
		*got = set
		return ret
	}
	t.Cleanup(func() { pipelineRun = orig })
	return got
}

func writeJSON(t *testing.T, path string, cfg cfgpkg.Config) {
	t.Helper()
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
}

func TestRunInitConfig(t *testing.T) {
	chdirTemp(t)
	code, _, _ := runArgs("--init-config", "emit")
	require.Equal(t, exitOK, code)
	assert.FileExists(t, filepath.Join("emit", "config.json"))
	assert.FileExists(t, filepath.Join("emit", ".env"))

	// 已存在时不覆盖
	code, _, stderr := runArgs("--init-config", "emit")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "生成默认配置失败")
}

func TestNormalizeInitArg(t *testing.T) {
	cases := []struct{ in, want []string }{
		{[]string{"--init-config", "emit"}, []string{"--init-config=emit"}},
		{[]string{"--init-config"}, []string{"--init-config"}},
		{[]string{"--init-config", "--status=false"}, []string{"--init-config", "--status=false"}},
		{[]string{"--init-config=out", "a.txt"}, []string{"--init-config=out", "a.txt"}},
		{[]string{"-t", "tslist", "--", "--init-config", "x"}, []string{"-t", "tslist", "--", "--init-config", "x"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeInitArg(tc.in), "%v", tc.in)
	}
}

func TestRunInitConfigDefault(t *testing.T) {
	chdirTemp(t)
	code, _, _ := runArgs("--init-config")
	require.Equal(t, exitOK, code)
	assert.FileExists(t, "config.json")

	// 生成的模板本身可通过校验
	cfg, err := cfgpkg.Load("config.json")
	require.NoError(t, err)
	require.NoError(t, cfgpkg.Validate(cfgpkg.Merge(cfgpkg.Defaults(), cfg)))
}

func TestInitConfigSubcommand(t *testing.T) {
	chdirTemp(t)
	code, _, _ := runArgs("init-config", "sub")
	require.Equal(t, exitOK, code)
	assert.FileExists(t, filepath.Join("sub", "config.json"))
}

func TestRunSuccess(t *testing.T) {
	chdirTemp(t)
	cfg := cfgpkg.DefaultTemplateConfig()
	writeJSON(t, "config.json", cfg)
	got := stubPipeline(t, nil)

	code, _, stderr := runArgs("--status=false", "-t", "empdwn", "--concurrency", "2", "-i", "a.txt", "-i", "b.txt", "c.txt")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "empdwn", got.Report)
	assert.Equal(t, 2, got.Concurrency)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, got.Inputs)
	assert.False(t, got.SingleArtifact)
}

func TestRunConfigFileEnv(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "cfg.json")
	writeJSON(t, path, cfgpkg.DefaultTemplateConfig())
	t.Setenv(cfgpkg.EnvPrefix+"CONFIG_FILE", path)
	t.Setenv(cfgpkg.EnvPrefix+"REPORT", "trnsec")
	got := stubPipeline(t, nil)

	code, _, stderr := runArgs("--status=false")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "trnsec", got.Report)
	assert.Equal(t, []string{"-"}, got.Inputs)
}

func TestRunYAMLConfig(t *testing.T) {
	td := chdirTemp(t)
	got := stubPipeline(t, nil)
	code, _, stderr := runArgs("--status=false", "--config", filepath.Join(td, "config", "custom.yaml"))
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "brlist", got.Report)
}

func TestRunConfigFileNotFound(t *testing.T) {
	chdirTemp(t)
	code, _, stderr := runArgs("--config", "missing.json")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "配置解析失败")
}

func TestRunValidateError(t *testing.T) {
	chdirTemp(t)
	writeJSON(t, "config.json", cfgpkg.DefaultTemplateConfig())
	stubPipeline(t, nil)

	code, _, stderr := runArgs("-t", "nope")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "unknown report type")
	assert.Contains(t, stderr, "有效配置")

	code, _, stderr = runArgs("-o", "x.csv", "a.txt", "b.txt")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "single input")
}

func TestRunAssembleError(t *testing.T) {
	chdirTemp(t)
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Options.Reader = json.RawMessage(`{"unknown":1}`)
	writeJSON(t, "config.json", cfg)
	stubPipeline(t, nil)

	code, _, stderr := runArgs()
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "装配失败")
}

func TestRunPreflightError(t *testing.T) {
	chdirTemp(t)
	require.NoError(t, os.WriteFile("out", []byte("x"), 0o644))
	writeJSON(t, "config.json", cfgpkg.DefaultTemplateConfig())
	stubPipeline(t, nil)

	code, _, stderr := runArgs()
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "输出目录不可写")
}

func TestRunPipelineError(t *testing.T) {
	chdirTemp(t)
	writeJSON(t, "config.json", cfgpkg.DefaultTemplateConfig())
	stubPipeline(t, errors.New("boom"))

	code, _, stderr := runArgs("--status=false")
	assert.Equal(t, exitRuntime, code)
	assert.Contains(t, stderr, "运行失败: boom")
}

func TestRunPipelineCanceled(t *testing.T) {
	chdirTemp(t)
	writeJSON(t, "config.json", cfgpkg.DefaultTemplateConfig())
	stubPipeline(t, context.Canceled)

	code, _, stderr := runArgs("--status=false")
	assert.Equal(t, exitRuntime, code)
	assert.NotContains(t, stderr, "运行失败")
}

func TestRunDebug(t *testing.T) {
	chdirTemp(t)
	writeJSON(t, "config.json", cfgpkg.DefaultTemplateConfig())
	var debug bool
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) error {
		debug = logger.Enabled("debug")
		return nil
	}
	defer func() { pipelineRun = orig }()

	code, _, _ := runArgs("--status=false", "-d")
	require.Equal(t, exitOK, code)
	assert.True(t, debug)
}

func TestRunBadFlag(t *testing.T) {
	chdirTemp(t)
	code, _, stderr := runArgs("--nope")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "参数错误")
}

func TestCopyrightAndVersion(t *testing.T) {
	chdirTemp(t)
	code, _, stderr := runArgs("-c")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stderr, "Copyright 2016")
	assert.Contains(t, stderr, "Release "+version)

	code, stdout, _ := runArgs("--version")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "afsrpt: Release "+version+"\n", stdout)
}

func TestModelsCommand(t *testing.T) {
	td := chdirTemp(t)
	code, stdout, _ := runArgs("models")
	require.Equal(t, exitOK, code)
	assert.Equal(t, []string{"empdwn", "trnsec", "tslist"}, strings.Fields(stdout))

	code, stdout, _ = runArgs("models", "--config", filepath.Join(td, "config", "custom.yaml"))
	require.Equal(t, exitOK, code)
	assert.Contains(t, strings.Fields(stdout), "brlist")

	code, stdout, _ = runArgs("models", "tslist")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "name: tslist")

	code, _, stderr := runArgs("models", "nope")
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, stderr, "unknown report type")
}

// 真实流水线：TSLIST 样例 → 显式 CSV 输出
func TestRunEndToEnd(t *testing.T) {
	td := chdirTemp(t)
	in := filepath.Join(td, "files", "TSLIST.txt")
	code, _, stderr := runArgs("--status=false", "-t", "tslist", "-i", in, "-o", filepath.Join("out", "ts.csv"))
	require.Equal(t, exitOK, code, stderr)
	b, err := os.ReadFile(filepath.Join("out", "ts.csv"))
	require.NoError(t, err)
	first := strings.SplitN(string(b), "\n", 2)[0]
	assert.True(t, strings.HasPrefix(first, "ASSN #,AP,TRC"), first)
	assert.DirExists(t, "logs")
}

func TestCLIOverlay(t *testing.T) {
	over := cliOverlay(options{infiles: []string{"a"}, writer: " xlsx ", debug: true}, []string{"b"})
	assert.Equal(t, []string{"a", "b"}, over.Inputs)
	assert.Equal(t, "xlsx", over.Components.Writer)
	assert.Equal(t, "debug", over.Logging.Level)
	assert.Zero(t, over.Concurrency)
	assert.Nil(t, cliOverlay(options{}, nil).Inputs)
}

func TestPreflightCheckOutputDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, preflightCheckOutputDir(""))
	require.NoError(t, preflightCheckOutputDir(dir))
	require.NoError(t, preflightCheckOutputDir(filepath.Join(dir, "new")))
	require.Error(t, preflightCheckOutputDir(filepath.Join(dir, "a", "b")))

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	require.ErrorContains(t, preflightCheckOutputDir(file), "不是目录")
	require.Error(t, preflightCheckOutputDir(filepath.Join(file, "x")))
}

func TestDiscoverConfig(t *testing.T) {
	chdirTemp(t)
	assert.Equal(t, "x.json", discoverConfig("x.json"))
	assert.Empty(t, discoverConfig(""))
	require.NoError(t, os.WriteFile("config.yml", []byte("report: tslist\n"), 0o644))
	assert.Equal(t, "config.yml", discoverConfig(""))
	t.Setenv(cfgpkg.EnvPrefix+"CONFIG_FILE", "env.json")
	assert.Equal(t, "env.json", discoverConfig(""))
}
