package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"afsrpt/pkg/contract"
)

// Options: 文件系统表格 Writer 选项。
type Options struct {
	// OutputDir: 输出根目录；为空时使用当前目录。
	OutputDir string `json:"output_dir"`
	// Format: csv（默认）或 xlsx。
	Format string `json:"format,omitempty"`
	// OutputName: 显式输出文件名（仅基名）；为空时取输入基名去扩展名 + 格式扩展名。
	OutputName string `json:"output_name,omitempty"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。默认 true。
	Atomic *bool `json:"atomic,omitempty"`
	// Flat: 是否扁平化输出（仅保留文件名，不保留目录层级）。默认 true。
	Flat *bool `json:"flat,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用默认。
	BufSize int `json:"buf_size,omitempty"`
	// Delimiter: CSV 分隔符（单字符），默认 ","。
	Delimiter string `json:"delimiter,omitempty"`
	// Sheet: XLSX 工作表名，默认 Sheet1。
	Sheet string `json:"sheet,omitempty"`
}

type FS struct {
	root    string
	name    string
	format  format
	atomic  bool
	flat    bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	delim   rune
	sheet   string
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	root := strings.TrimSpace(opts.OutputDir)
	if root == "" {
		root = "."
	}
	fm, ok := formats[strings.ToLower(strings.TrimSpace(opts.Format))]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q", opts.Format)
	}
	name := strings.TrimSpace(opts.OutputName)
	if name != "" && (filepath.Base(name) != name || name == "." || name == "..") {
		return nil, contract.ErrPathInvalid
	}
	delim := ','
	if opts.Delimiter != "" {
		rs := []rune(opts.Delimiter)
		if len(rs) != 1 || rs[0] == '"' || rs[0] == '\n' || rs[0] == '\r' {
			return nil, fmt.Errorf("invalid csv delimiter %q", opts.Delimiter)
		}
		delim = rs[0]
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	flat := true
	if opts.Flat != nil {
		flat = *opts.Flat
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{
		root: root, name: name, format: fm, atomic: atomic, flat: flat,
		permF: pf, permD: pd, bufSize: bsz, delim: delim, sheet: opts.Sheet,
	}, nil
}

var (
	_ contract.Writer  = (*FS)(nil)
	_ contract.Locator = (*FS)(nil)
)

// Ext 返回输出扩展名（含点）。
func (w *FS) Ext() string { return w.format.ext }

// Path 返回 id 对应的目标路径。
func (w *FS) Path(id contract.ArtifactID) (string, error) { return w.mapPath(id) }

// Locate 实现 contract.Locator；扁平输出下不同目录的同名输入得到同一路径。
func (w *FS) Locate(id contract.ArtifactID) (string, error) { return w.mapPath(id) }

// Write 打开目标、执行 fill 并提交；fill 失败时不留下任何产物。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, fill func(contract.Sink) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}

	if w.atomic {
		return w.writeAtomic(ctx, dest, fill)
	}
	return w.writeOverwrite(ctx, dest, fill)
}

// mapPath: Clean + Join + 越界校验；文件名取输入基名去扩展名 + 格式扩展名。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	if w.name != "" {
		return filepath.Join(w.root, w.name), nil
	}
	rel := filepath.Clean(filepath.FromSlash(string(id)))
	if rel == "." || rel == ".." || rel == "" || rel == string(filepath.Separator) {
		return "", contract.ErrPathInvalid
	}
	file := contract.Stem(id) + w.format.ext
	if w.flat {
		return filepath.Join(w.root, file), nil
	}
	// 非扁平：禁止绝对路径、父级逃逸、Windows 卷名
	if filepath.IsAbs(rel) {
		return "", contract.ErrPathInvalid
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	if vol := filepath.VolumeName(rel); vol != "" {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, filepath.Dir(rel), file), nil
}

// encode 将 fill 产出的表编码到 out；失败时丢弃编码器状态。
func (w *FS) encode(ctx context.Context, out io.Writer, fill func(contract.Sink) error) error {
	bw := bufio.NewWriterSize(out, w.bufSize)
	enc, err := w.format.open(bw, w)
	if err != nil {
		return err
	}
	if err := fill(contract.NewCheckedSink(&ctxSink{ctx: ctx, enc: enc})); err != nil {
		enc.Abort()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// writeOverwrite 直接写目标；失败时删除已写入的部分文件。
func (w *FS) writeOverwrite(ctx context.Context, dest string, fill func(contract.Sink) error) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	if err := w.encode(ctx, f, fill); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return err
	}
	return f.Close()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, fill func(contract.Sink) error) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	discard := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := w.encode(ctx, tmp, fill); err != nil {
		return discard(err)
	}
	if err := tmp.Sync(); err != nil {
		return discard(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录元数据
	_ = syncDir(dir)
	return nil
}

// ctxSink: 每次写入前检查 ctx 是否已取消。
type ctxSink struct {
	ctx context.Context
	enc encoder
}

func (s *ctxSink) WriteHeader(names []string) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.enc.WriteHeader(names)
}

func (s *ctxSink) WriteRecord(values contract.Record) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.enc.WriteRecord(values)
}

// encoder 为单一输出格式的表编码器。Close 完成编码，Abort 丢弃。
type encoder interface {
	contract.Sink
	Close() error
	Abort()
}

type format struct {
	ext  string
	open func(out io.Writer, w *FS) (encoder, error)
}

var formats = map[string]format{
	"":     {ext: ".csv", open: openCSV},
	"csv":  {ext: ".csv", open: openCSV},
	"xlsx": {ext: ".xlsx", open: openXLSX},
}
