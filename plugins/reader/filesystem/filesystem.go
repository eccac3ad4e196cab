package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"afsrpt/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配）。
	// 仅影响目录递归，不影响单文件 root。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 目录扫描时仅读取这些扩展名（如 [".txt",".rpt"]，不区分大小写）；空表示全部。
	Extensions []string `json:"extensions"`
	// Encoding: 输入字符集。utf-8（默认）、latin1、windows-1252、cp037、cp1047。
	Encoding string `json:"encoding"`
	// RecordLength > 0 时按定长记录（RECFM=FB，无换行）切分为行，单位为字符。
	RecordLength int `json:"record_length"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize int
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
	exts       map[string]struct{}
	enc        encoding.Encoding
	recLen     int
}

var encodings = map[string]encoding.Encoding{
	"latin1":       charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"cp037":        charmap.CodePage037,
	"ibm037":       charmap.CodePage037,
	"cp1047":       charmap.CodePage1047,
	"ibm1047":      charmap.CodePage1047,
}

// New 创建 FileSystem Reader。未知字符集返回错误。
func New(opts *Options) (*FileSystem, error) {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf, excludeDir: map[string]struct{}{}, exts: map[string]struct{}{}}
	if opts == nil {
		return r, nil
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	for _, name := range opts.ExcludeDirNames {
		if name == "" {
			continue
		}
		r.excludeDir[strings.ToLower(name)] = struct{}{}
	}
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.exts[ext] = struct{}{}
	}
	switch name := strings.ToLower(strings.TrimSpace(opts.Encoding)); name {
	case "", "utf-8", "utf8":
	default:
		enc, ok := encodings[name]
		if !ok {
			return nil, fmt.Errorf("unknown encoding %q", opts.Encoding)
		}
		r.enc = enc
	}
	if opts.RecordLength < 0 {
		return nil, errors.New("record_length must be >= 0")
	}
	r.recLen = opts.RecordLength
	return r, nil
}

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// 支持 roots 为空或仅包含 "-" 作为 STDIN。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), r.wrap(os.Stdin))
	}
	// 禁止与其他根混用 "-"
	if len(roots) > 1 {
		for _, s := range roots {
			if s == "-" {
				return errors.New("stdin '-' cannot be mixed with other roots")
			}
		}
	}

	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	// 仅跟随到常规文件；目录符号链接不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return err
		}
		if t.Mode().IsRegular() {
			return r.open(root, yield)
		}
		return nil
	}

	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.open(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.IsDir() {
			if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
				continue
			}
			if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
				return err
			}
		}
	}
	// 再文件（允许指向常规文件的符号链接；目录符号链接忽略）
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.IsDir() || !r.wantExt(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil {
				return err
			}
			if !t.Mode().IsRegular() {
				continue
			}
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		if err := r.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) wantExt(name string) bool {
	if len(r.exts) == 0 {
		return true
	}
	_, ok := r.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	rc := r.wrap(f)
	if err := yield(contract.NormalizeFileID(p), rc); err != nil {
		_ = rc.Close()
		return err
	}
	return nil
}

// wrap 组装读取链：缓冲 → 字符集解码 → 定长记录切分。
func (r *FileSystem) wrap(c io.ReadCloser) io.ReadCloser {
	var rd io.Reader = bufio.NewReaderSize(c, r.bufSize)
	if r.enc != nil {
		rd = r.enc.NewDecoder().Reader(rd)
	}
	if r.recLen > 0 {
		rd = newRecordReader(rd, r.recLen)
	}
	return &readCloser{Reader: rd, c: c}
}

// readCloser 将解码后的 Reader 与底层 Closer 组合为 ReadCloser。
type readCloser struct {
	io.Reader
	c io.Closer
}

func (b *readCloser) Close() error { return b.c.Close() }

// recordReader 每 n 个字符补一个换行；末尾不足一条的记录同样输出。
type recordReader struct {
	src  *bufio.Reader
	n    int
	line []byte
	buf  []byte
	err  error
}

func newRecordReader(src io.Reader, n int) *recordReader {
	return &recordReader{src: bufio.NewReader(src), n: n}
}

func (r *recordReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.fill()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *recordReader) fill() {
	r.line = r.line[:0]
	count := 0
	for count < r.n {
		c, _, err := r.src.ReadRune()
		if err != nil {
			r.err = err
			break
		}
		r.line = utf8.AppendRune(r.line, c)
		count++
	}
	if count > 0 {
		r.line = append(r.line, '\n')
	}
	r.buf = r.line
}
