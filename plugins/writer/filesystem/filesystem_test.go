package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"afsrpt/pkg/contract"
)

func table() *contract.Table {
	return &contract.Table{
		Headers: []string{"ASSN #", "AP", "DESC", "Assigned level"},
		Records: []contract.Record{
			{"1", "AC", "ALLOCATE ADDTL PRIN", ""},
			{"1", "CD", "ACCRUED, INT \"INQ\"", "=06"},
		},
	}
}

func noTmp(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

const wantCSV = "ASSN #,AP,DESC,Assigned level\n1,AC,ALLOCATE ADDTL PRIN,\n1,CD,\"ACCRUED, INT \"\"INQ\"\"\",=06\n"

// TestWriteAtomic 原子写入；文件名取输入基名 + .csv
func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), "in/TSLIST.txt", table().Fill); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "TSLIST.csv"))
	if err != nil || string(b) != wantCSV {
		t.Fatalf("unexpected file %v %q", err, string(b))
	}
	noTmp(t, dir)
}

// 当目标已存在时，Atomic 写应替换为新内容。
func TestWriteAtomicReplaceExisting(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	first := &contract.Table{Headers: []string{"A"}, Records: []contract.Record{{"v1"}}}
	second := &contract.Table{Headers: []string{"A"}, Records: []contract.Record{{"v2"}}}
	if err := w.Write(context.Background(), "EMPDWN.txt", first.Fill); err != nil {
		t.Fatalf("write v1: %v", err)
	}
	if err := w.Write(context.Background(), "EMPDWN.txt", second.Fill); err != nil {
		t.Fatalf("write v2: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "EMPDWN.csv"))
	if string(b) != "A\nv2\n" {
		t.Fatalf("expect replaced content, got %q", string(b))
	}
	noTmp(t, dir)
}

// TestWriteFillErrorLeavesNothing fill 失败时不产生、不破坏产物
func TestWriteFillErrorLeavesNothing(t *testing.T) {
	boom := errors.New("boom")
	fill := func(s contract.Sink) error {
		if err := s.WriteHeader([]string{"A"}); err != nil {
			return err
		}
		if err := s.WriteRecord(contract.Record{"x"}); err != nil {
			return err
		}
		return boom
	}
	for _, atomic := range []bool{true, false} {
		for _, format := range []string{"csv", "xlsx"} {
			dir := t.TempDir()
			a := atomic
			w, err := New(&Options{OutputDir: dir, Atomic: &a, Format: format})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if err := w.Write(context.Background(), "TRNSEC.txt", fill); !errors.Is(err, boom) {
				t.Fatalf("atomic=%v %s: err=%v", atomic, format, err)
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Fatalf("atomic=%v %s: left %v", atomic, format, entries)
			}
		}
	}
}

// TestWriteRejectsBadTable 列数不符由 Sink 检查拦截
func TestWriteRejectsBadTable(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	bad := &contract.Table{Headers: []string{"A", "B"}, Records: []contract.Record{{"only"}}}
	err := w.Write(context.Background(), "x.txt", bad.Fill)
	if !errors.Is(err, contract.ErrInvariantViolation) {
		t.Fatalf("expect invariant violation, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "x.csv")); !os.IsNotExist(err) {
		t.Fatalf("partial artifact left: %v", err)
	}
}

// TestWriteOverwrite 非原子写入
func TestWriteOverwrite(t *testing.T) {
	dir := t.TempDir()
	a := false
	w, err := New(&Options{OutputDir: dir, Atomic: &a, Delimiter: "|"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := w.Write(context.Background(), "TSLIST", table().Fill); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "TSLIST.csv"))
	if !strings.HasPrefix(string(b), "ASSN #|AP|DESC|Assigned level\n") {
		t.Fatalf("unexpected %q", string(b))
	}
}

// TestWriteXLSX 工作簿内容可读回
func TestWriteXLSX(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir, Format: "XLSX", Sheet: "TSLIST"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if w.Ext() != ".xlsx" {
		t.Fatalf("ext %s", w.Ext())
	}
	if err := w.Write(context.Background(), "TSLIST.txt", table().Fill); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := excelize.OpenFile(filepath.Join(dir, "TSLIST.xlsx"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("TSLIST")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "ASSN #" || rows[2][3] != "=06" || rows[2][2] != "ACCRUED, INT \"INQ\"" {
		t.Fatalf("unexpected rows %#v", rows)
	}
	noTmp(t, dir)
}

// TestOutputName 显式输出文件名
func TestOutputName(t *testing.T) {
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir, OutputName: "users.csv"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p, _ := w.Path("in/EMPDWN.txt")
	if p != filepath.Join(dir, "users.csv") {
		t.Fatalf("path %s", p)
	}
	if _, err := New(&Options{OutputName: "a/b.csv"}); err != contract.ErrPathInvalid {
		t.Fatalf("nested output name should be invalid, got %v", err)
	}
}

func TestNewRejects(t *testing.T) {
	if _, err := New(&Options{Format: "pdf"}); err == nil {
		t.Fatalf("unknown format accepted")
	}
	if _, err := New(&Options{Delimiter: ";;"}); err == nil {
		t.Fatalf("multi-char delimiter accepted")
	}
	w, err := New(nil)
	if err != nil {
		t.Fatalf("nil options: %v", err)
	}
	if p, _ := w.Path("EMPDWN.txt"); p != "EMPDWN.csv" {
		t.Fatalf("default dir path %s", p)
	}
}

// TestLocateFlatCollision 扁平输出下不同目录的同名输入定位到同一文件
func TestLocateFlatCollision(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	a, err := w.Locate("a/TSLIST.txt")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := w.Locate("b/TSLIST.txt")
	if a != b || a != filepath.Join(dir, "TSLIST.csv") {
		t.Fatalf("flat locate %s %s", a, b)
	}
	flat := false
	w, _ = New(&Options{OutputDir: dir, Flat: &flat})
	a, _ = w.Locate("a/TSLIST.txt")
	b, _ = w.Locate("b/TSLIST.txt")
	if a == b {
		t.Fatalf("nested locate collided: %s", a)
	}
}

// TestMapPath 扁平与保留层级
func TestMapPath(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	p, err := w.mapPath("a/b/TRNSEC.txt")
	if err != nil || p != filepath.Join(dir, "TRNSEC.csv") {
		t.Fatalf("flat %s %v", p, err)
	}
	flat := false
	w, _ = New(&Options{OutputDir: dir, Flat: &flat})
	p, err = w.mapPath("a/b/TRNSEC.txt")
	if err != nil || p != filepath.Join(dir, "a", "b", "TRNSEC.csv") {
		t.Fatalf("nested %s %v", p, err)
	}
	if _, err := w.mapPath("../up.txt"); err != contract.ErrPathInvalid {
		t.Fatalf("escape accepted: %v", err)
	}
	if err := w.Write(context.Background(), "a/b/TRNSEC.txt", table().Fill); err != nil {
		t.Fatalf("nested write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a", "b", "TRNSEC.csv")); err != nil {
		t.Fatalf("nested file: %v", err)
	}
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	dir := t.TempDir()
	w, _ := New(&Options{OutputDir: dir})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, "x.txt", table().Fill); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect canceled, got %v", err)
	}

	ctx, cancel = context.WithCancel(context.Background())
	fill := func(s contract.Sink) error {
		if err := s.WriteHeader([]string{"A"}); err != nil {
			return err
		}
		cancel()
		return s.WriteRecord(contract.Record{"x"})
	}
	if err := w.Write(ctx, "y.txt", fill); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect canceled mid-fill, got %v", err)
	}
	noTmp(t, dir)
}
