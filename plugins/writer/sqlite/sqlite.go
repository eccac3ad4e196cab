// Package sqlite 将抽取表写入 SQLite 数据库：每个输入一张表，单事务提交。
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"afsrpt/pkg/contract"
)

// Options: SQLite Writer 选项。
type Options struct {
	// Path: 数据库文件路径；默认 afsrpt.db。
	Path string `json:"path"`
	// Table: 目标表名；为空时取输入基名（非字母数字替换为 _）。
	Table string `json:"table,omitempty"`
	// Append: 追加到已有表；默认 false（先删表再建）。
	Append bool `json:"append,omitempty"`
	// BusyTimeoutMS: 锁等待超时（毫秒），默认 5000。
	BusyTimeoutMS int `json:"busy_timeout_ms,omitempty"`
}

// DB 实现 contract.Writer。同一实例内的写入串行化。
type DB struct {
	path   string
	table  string
	append bool
	busy   int
	mu     sync.Mutex
}

var (
	_ contract.Writer  = (*DB)(nil)
	_ contract.Locator = (*DB)(nil)
)

func New(opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{}
	}
	p := strings.TrimSpace(opts.Path)
	if p == "" {
		p = "afsrpt.db"
	}
	busy := opts.BusyTimeoutMS
	if busy <= 0 {
		busy = 5000
	}
	return &DB{path: p, table: strings.TrimSpace(opts.Table), append: opts.Append, busy: busy}, nil
}

// Path 返回数据库文件路径。
func (w *DB) Path() string { return w.path }

// Locate 实现 contract.Locator：目标为表名；追加模式下多个输入可写同一张表。
func (w *DB) Locate(id contract.ArtifactID) (string, error) {
	if w.append {
		return "", nil
	}
	return w.TableName(id), nil
}

// TableName 返回 id 对应的表名。
func (w *DB) TableName(id contract.ArtifactID) string {
	if w.table != "" {
		return w.table
	}
	stem := contract.Stem(id)
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.ToLower(b.String())
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "t_" + name
	}
	return name
}

func (w *DB) open() (*sql.DB, error) {
	if dir := filepath.Dir(w.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", w.path, w.busy))
}

// Write 在单个事务内建表并插入全部记录；fill 失败时回滚。
func (w *DB) Write(ctx context.Context, id contract.ArtifactID, fill func(contract.Sink) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	db, err := w.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s := &tableSink{ctx: ctx, tx: tx, table: w.TableName(id), append: w.append}
	defer func() {
		if s.stmt != nil {
			_ = s.stmt.Close()
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fill(contract.NewCheckedSink(s)); err != nil {
		return err
	}
	if s.stmt == nil {
		return fmt.Errorf("%w: table has no header", contract.ErrInvariantViolation)
	}
	if err = s.stmt.Close(); err != nil {
		return err
	}
	s.stmt = nil
	return tx.Commit()
}

type tableSink struct {
	ctx    context.Context
	tx     *sql.Tx
	table  string
	append bool
	stmt   *sql.Stmt
}

func (s *tableSink) WriteHeader(names []string) error {
	cols := make([]string, len(names))
	marks := make([]string, len(names))
	for i, n := range names {
		cols[i] = quote(n)
		marks[i] = "?"
	}
	tbl := quote(s.table)
	if !s.append {
		if _, err := s.tx.ExecContext(s.ctx, "DROP TABLE IF EXISTS "+tbl); err != nil {
			return fmt.Errorf("drop %s: %w", s.table, err)
		}
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s TEXT)", tbl, strings.Join(cols, " TEXT, "))
	if _, err := s.tx.ExecContext(s.ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	stmt, err := s.tx.PrepareContext(s.ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, strings.Join(cols, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", s.table, err)
	}
	s.stmt = stmt
	return nil
}

func (s *tableSink) WriteRecord(values contract.Record) error {
	if s.stmt == nil {
		return errors.New("insert before create")
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	_, err := s.stmt.ExecContext(s.ctx, args...)
	return err
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
