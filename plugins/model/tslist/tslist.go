// Package tslist 定义 SECURITY TRANSACTION LIST（TSLIST）报表文法。
//
// 报表头以 001/002 开头，该编号即 ASSN #；DESC 之后为可变长的 JOB DESCRIPTIONS。
// JOB DESCRIPTIONS 全为数字 token 时每个 token 展开为一条记录（"=06"）。
package tslist

import "afsrpt/internal/report"

const Name = "tslist"

func Def() report.Def {
	return report.Def{
		Name:  Name,
		Title: "SECURITY TRANSACTION LIST",
		Fields: []report.FieldDef{
			{Name: "AP", Start: 0, Length: 2},
			{Name: "TRC", Start: 3, Length: 3},
			{Name: "LN", Start: 7, Length: 2},
			{Name: "TRX#", Start: 10, Length: 4},
			{Name: "TT", Start: 15, Length: 2},
			{Name: "DESC", Start: 18, Length: 19},
		},
		Rules: []report.RuleDef{
			{
				Kind:        "report_header",
				Name:        "banner",
				Pattern:     `^(?P<rpt>00[12])`,
				Require:     []string{"SECURITY TRANSACTION LIST"},
				Capture:     "rpt",
				CaptureKind: "int",
			},
			{
				Kind:    "column_header",
				Name:    "columns",
				Prefix:  "AP TRC ",
				Require: []string{"AP", "TRC", "LN", "TRX#", "TT", "DESC", "JOB DESCRIPTIONS"},
			},
		},
		Columns: []report.ColumnDef{
			{Name: "ASSN #", Page: true},
			{Name: "AP", Field: "AP"},
			{Name: "TRC", Field: "TRC"},
			{Name: "LN", Field: "LN"},
			{Name: "TRX#", Field: "TRX#"},
			{Name: "TT", Field: "TT"},
			{Name: "TRNSEC code", Template: "{TT}-{AP}{TRC}"},
			{Name: "DESC", Field: "DESC"},
			{Name: "Assigned level", Trailing: true},
		},
		Trailing: &report.TrailingDef{Marker: "="},
	}
}

func New() (*report.Model, error) { return report.Compile(Def()) }
