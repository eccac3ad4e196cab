package diag

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options 控制 Logger 的输出位置与级别。
type Options struct {
	// Dir: 日志目录，默认 logs。
	Dir string
	// Level: debug|info|warn|error，默认 info。
	Level string
	// MaxBytes: 单个日志文件上限，默认 10 MiB。
	MaxBytes int64
	// Console: 额外输出到 stderr 的人类可读格式（调试模式）。
	Console bool
}

// Logger 为结构化事件日志器：JSON 行写入轮转文件，每条带 corr_id。
// nil 接收者上的所有方法均为 no-op。
type Logger struct {
	z     *zap.Logger
	level zap.AtomicLevel
	sink  *RotatingFile
}

// NewLogger 按 Options 初始化日志器。
func NewLogger(corrID string, o Options) *Logger {
	dir := strings.TrimSpace(o.Dir)
	if dir == "" {
		dir = "logs"
	}
	lvl := zap.NewAtomicLevelAt(parseLevel(o.Level))
	sink := NewRotatingFile(dir, o.MaxBytes)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), sink, lvl)
	if o.Console {
		cfg := encoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		console := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), lvl)
		core = zapcore.NewTee(core, console)
	}
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID)), level: lvl, sink: sink}
}

// NewLoggerWithCore 使用给定 core 构造（测试中配合 zaptest/observer）。
func NewLoggerWithCore(core zapcore.Core, corrID string) *Logger {
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID)), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.CallerKey = zapcore.OmitKey
	cfg.StacktraceKey = zapcore.OmitKey
	return cfg
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel 运行期调整级别。
func (l *Logger) SetLevel(level string) {
	if l == nil {
		return
	}
	l.level.SetLevel(parseLevel(level))
}

// Enabled 报告给定级别是否会输出。
func (l *Logger) Enabled(level string) bool {
	return l != nil && l.z != nil && l.z.Core().Enabled(parseLevel(level))
}

// Close 刷新并关闭文件。
func (l *Logger) Close() error {
	if l == nil || l.z == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// event 描述一条事件的可选字段。
type event struct {
	comp   string
	stage  string // start|finish|error
	code   string
	durMS  int64
	count  int64
	fileID string
	report string
	kv     map[string]string
}

func (l *Logger) log(lv zapcore.Level, msg string, ev event) {
	if l == nil || l.z == nil {
		return
	}
	ce := l.z.Check(lv, msg)
	if ce == nil {
		return
	}
	fs := make([]zap.Field, 0, 8)
	fs = append(fs, zap.String("comp", ev.comp), zap.String("stage", ev.stage))
	if ev.code != "" {
		fs = append(fs, zap.String("code", ev.code))
	}
	if ev.durMS != 0 {
		fs = append(fs, zap.Int64("dur_ms", ev.durMS))
	}
	if ev.count != 0 {
		fs = append(fs, zap.Int64("count", ev.count))
	}
	if ev.fileID != "" {
		fs = append(fs, zap.String("file_id", ev.fileID))
	}
	if ev.report != "" {
		fs = append(fs, zap.String("report", ev.report))
	}
	if len(ev.kv) > 0 {
		fs = append(fs, zap.Any("kv", ev.kv))
	}
	ce.Write(fs...)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start"})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/report 的 start。
func (l *Logger) StartWith(comp, msg, fileID, report string) *Timer {
	return l.StartWithKV(comp, msg, fileID, report, nil)
}

// StartWithKV 记录带 file_id/report 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, report string, kv map[string]string) *Timer {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "start", fileID: fileID, report: report, kv: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, report: report, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 file_id/report。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, report string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, report, nil)
}

// ErrorWithKV 支持附带键值对（例如出错行号、字段名）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, report string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(zapcore.ErrorLevel, msg, event{comp: comp, stage: "error", code: code, durMS: dur, fileID: fileID, report: report, kv: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zapcore.InfoLevel, msg, event{comp: comp, stage: "finish", durMS: time.Since(start).Milliseconds(), count: count})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, report string, kv map[string]string) {
	l.log(zapcore.DebugLevel, msg, event{comp: comp, stage: "start", fileID: fileID, report: report, kv: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	report string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(zapcore.InfoLevel, msg, event{comp: t.comp, stage: "finish", durMS: time.Since(t.t0).Milliseconds(), count: count, fileID: t.fileID, report: t.report})
}

// Since 返回计时起点以来的耗时。
func (t *Timer) Since() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}
