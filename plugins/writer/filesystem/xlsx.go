package filesystem

import (
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"afsrpt/pkg/contract"
)

const (
	minColWidth = 8
	maxColWidth = 60
)

// xlsxEncoder 在内存中构建工作簿，Close 时一次性写出。
// 列头加粗并冻结首行，列宽按最长取值估算。
type xlsxEncoder struct {
	out    io.Writer
	f      *excelize.File
	sheet  string
	row    int
	widths []int
}

func openXLSX(out io.Writer, fs *FS) (encoder, error) {
	f := excelize.NewFile()
	sheet := "Sheet1"
	if fs.sheet != "" && fs.sheet != sheet {
		if err := f.SetSheetName(sheet, fs.sheet); err != nil {
			_ = f.Close()
			return nil, err
		}
		sheet = fs.sheet
	}
	return &xlsxEncoder{out: out, f: f, sheet: sheet}, nil
}

func (e *xlsxEncoder) WriteHeader(names []string) error {
	e.row = 1
	if err := e.setRow(names); err != nil {
		return err
	}
	style, err := e.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(names), 1)
	if err != nil {
		return err
	}
	if err := e.f.SetCellStyle(e.sheet, "A1", last, style); err != nil {
		return err
	}
	return e.f.SetPanes(e.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (e *xlsxEncoder) WriteRecord(values contract.Record) error {
	e.row++
	return e.setRow(values)
}

func (e *xlsxEncoder) setRow(values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, e.row)
	if err != nil {
		return err
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
		if i >= len(e.widths) {
			e.widths = append(e.widths, 0)
		}
		if n := utf8.RuneCountInString(v); n > e.widths[i] {
			e.widths[i] = n
		}
	}
	return e.f.SetSheetRow(e.sheet, cell, &row)
}

func (e *xlsxEncoder) Close() error {
	defer e.f.Close()
	for i, n := range e.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		width := n + 2
		if width < minColWidth {
			width = minColWidth
		}
		if width > maxColWidth {
			width = maxColWidth
		}
		if err := e.f.SetColWidth(e.sheet, col, col, float64(width)); err != nil {
			return err
		}
	}
	return e.f.Write(e.out)
}

func (e *xlsxEncoder) Abort() { _ = e.f.Close() }
