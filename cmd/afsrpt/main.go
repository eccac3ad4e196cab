package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	cfgpkg "afsrpt/internal/config"
	"afsrpt/internal/diag"
	"afsrpt/internal/pipeline"
	"afsrpt/pkg/registry"
)

const version = "1.0"

const copyrightText = `
afsrpt - UNISYS/AFS report parser

Author: Ron Reidy

Parse Unisys mainframe reports into spreadsheet (CSV/XLSX) or SQLite format

Copyright 2016:  This program is the property of Ron Reidy.  You may copy and/or use it
as you feel, but may not claim it as your own work.
`

var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

type options struct {
	infiles     []string
	report      string
	output      string
	debug       bool
	copyright   bool
	config      string
	writer      string
	concurrency int
	initDir     string
	status      bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	code := exitOK
	cmd := newRootCmd(&code)
	cmd.SetArgs(normalizeInitArg(args))
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fprintf(stderr, "参数错误: %v\n", err)
		return exitConfig
	}
	return code
}

// normalizeInitArg: 允许 "--init-config <dir>" 的空格形式。
// 旗标的无值默认为 "."，pflag 不会消费后继参数；后继不是开关时改写为 "--init-config=<dir>"。
// "--" 之后的参数原样保留。
func normalizeInitArg(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return append(out, args[i:]...)
		}
		if a == "--init-config" && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, a+"="+args[i+1])
			i++
			continue
		}
		out = append(out, a)
	}
	return out
}

// newRootCmd 构建根命令：位置参数与 -i 均为输入；"-" 表示 STDIN。
func newRootCmd(code *int) *cobra.Command {
	var o options
	root := &cobra.Command{
		Use:           "afsrpt [flags] [infile...]",
		Short:         "Unisys/AFS report parser",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.copyright {
				fprintf(cmd.ErrOrStderr(), "afsrpt: Release %s\n%s\n", version, copyrightText)
				_ = cmd.Usage()
				return nil
			}
			if dir := strings.TrimSpace(o.initDir); dir != "" {
				*code = initConfig(cmd.ErrOrStderr(), dir)
				return nil
			}
			*code = execute(o, args, cmd.ErrOrStderr())
			return nil
		},
	}
	root.SetVersionTemplate("afsrpt: Release {{.Version}}\n")
	bindFlags(root.Flags(), &o)
	root.PersistentFlags().StringVar(&o.config, "config", "", "配置文件路径（JSON/YAML）；缺省读取 ./config.json 或 ./config.yaml（若存在）")

	root.AddCommand(newModelsCmd(&o), newInitCmd(code))
	return root
}

// bindFlags 注册根命令旗标。
func bindFlags(f *pflag.FlagSet, o *options) {
	f.StringArrayVarP(&o.infiles, "infile", "i", nil, "待解析的报表文件（可重复；\"-\" 表示 STDIN）")
	f.StringVarP(&o.report, "type", "t", "", "报表类型："+strings.Join(registry.ModelNames(nil), ", ")+" 或配置中的自定义文法")
	f.StringVarP(&o.output, "output", "o", "", "显式输出路径（仅限单个输入）")
	f.BoolVarP(&o.debug, "debug", "d", false, "启用 debug 日志（同时输出到 stderr）")
	f.BoolVarP(&o.copyright, "copyright", "c", false, "打印版权声明并退出")
	f.StringVar(&o.writer, "writer", "", "输出格式：csv, xlsx, sqlite（覆盖配置）")
	f.IntVar(&o.concurrency, "concurrency", 0, "并发处理的文件数（覆盖配置）")
	f.StringVar(&o.initDir, "init-config", "", "在指定目录生成默认 config.json 和 .env 模板（已存在则跳过）；不带值时为当前目录")
	f.Lookup("init-config").NoOptDefVal = "."
	f.BoolVar(&o.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
}

// newModelsCmd 列出文法；指定名称时以 YAML 打印其定义，可作为自定义文法的起点。
func newModelsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models [name]",
		Short: "列出报表文法或打印文法定义",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o.config)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, n := range registry.ModelNames(cfg.Models) {
					fprintf(out, "%s\n", n)
				}
				return nil
			}
			def, ok := registry.LookupModel(args[0], cfg.Models)
			if !ok {
				return fmt.Errorf("unknown report type %q", args[0])
			}
			b, err := cfgpkg.MarshalYAML(def)
			if err != nil {
				return err
			}
			_, err = out.Write(b)
			return err
		},
	}
}

func newInitCmd(code *int) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "生成默认 config.json 与 .env 模板",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			*code = initConfig(cmd.ErrOrStderr(), dir)
			return nil
		},
	}
}

func initConfig(stderr io.Writer, dir string) int {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fprintf(stderr, "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	if err := writeConfig(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		fprintf(stderr, "生成默认配置失败: %v\n", err)
		return exitConfig
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return exitOK
}

// discoverConfig 按 --config、AFSRPT_CONFIG_FILE、工作目录默认文件的顺序确定配置源。
func discoverConfig(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE"); s != "" {
		return s
	}
	for _, p := range []string{"config.json", "config.yaml", "config.yml"} {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// loadConfig 合并 Defaults → 配置文件 → ENV。
func loadConfig(flagPath string) (cfgpkg.Config, error) {
	_ = cfgpkg.LoadDotEnv(".env")
	cfg := cfgpkg.Defaults()
	if p := discoverConfig(flagPath); p != "" {
		base, err := cfgpkg.Load(p)
		if err != nil {
			return cfg, fmt.Errorf("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}
	over, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("环境变量解析失败: %w", err)
	}
	return cfgpkg.Merge(cfg, over), nil
}

// cliOverlay 将命令行旗标转换为最高优先级的覆盖层。
func cliOverlay(o options, positional []string) cfgpkg.Config {
	var over cfgpkg.Config
	inputs := append(append([]string(nil), o.infiles...), positional...)
	if len(inputs) > 0 {
		over.Inputs = inputs
	}
	over.Report = o.report
	over.Output = o.output
	over.Components.Writer = strings.TrimSpace(o.writer)
	if o.concurrency > 0 {
		over.Concurrency = o.concurrency
	}
	if o.debug {
		over.Logging.Level = "debug"
	}
	return over
}

func execute(o options, positional []string, stderr io.Writer) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 占位 logger 使用默认级别；合并配置后按最终级别重建
	logger := diag.NewLogger(corrID, diag.Options{})
	defer func() { _ = logger.Close() }()

	cfg, err := loadConfig(o.config)
	if err != nil {
		fprintf(stderr, "%v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	cfg = cfgpkg.Merge(cfg, cliOverlay(o, positional))

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	_ = logger.Close()
	logger = diag.NewLogger(corrID, diag.Options{
		Dir:     cfg.Logging.Dir,
		Level:   cfg.Logging.Level,
		Console: o.debug,
	})

	if err := preflightCheckOutputDir(cfgpkg.WriterOutputDir(cfg)); err != nil {
		fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	term := diag.NewTerminal(stderr, o.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(set.Concurrency, set.Report)

	logger.DebugStart("config", "effective", "", set.Report, map[string]string{
		"inputs_count": strconv.Itoa(len(cfg.Inputs)),
		"concurrency":  strconv.Itoa(cfg.Concurrency),
		"output":       cfg.Output,
		"reader":       cfg.Components.Reader,
		"writer":       cfg.Components.Writer,
		"models":       strings.Join(registry.ModelNames(cfg.Models), ","),
		"version":      version,
	})

	t := logger.Start("pipeline", "run")
	if err := pipelineRun(context.Background(), comp, set, logger); err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, time.Since(start))
		return exitRuntime
	}
	t.Finish("run", 0)
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	logger.InfoFinish("pipeline", "elapsed", start, 0)
	term.RunFinish(true, time.Since(start))
	return exitOK
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	fprintf(w, "有效配置:\n%s\n", b)
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// writeDotEnv 生成 .env 模板；文件已存在时跳过。
func writeDotEnv(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(cfgpkg.DotEnvTemplate())
	return err
}

// preflightCheckOutputDir 启动前检查输出目录可写性。
// 目录存在时尝试创建并删除临时文件；不存在时检查父目录可写。
// dir 为空时跳过，由装配阶段按实现自行报错。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
