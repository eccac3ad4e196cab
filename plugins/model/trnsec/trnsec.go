// Package trnsec 定义 TRANSACTION SECURITY REPORT（TRNSEC）报表文法。
//
// 无列头行，列名固定。层级行（JD/AUTHORITY LEVEL n）开启一个层级；
// 其后缩进 6 格的行为该层级的交易码，累积到层级变化为止。
// 员工行为带标签的定长行，必须完整匹配。
package trnsec

import "afsrpt/internal/report"

const Name = "trnsec"

// employee 员工行的带标签布局，宽 128。
const employee = `^EMPL NO: [0-9-]{6} HR NO: \S{5} NAME: .{32} BR NO: [ 0-9]{3} LAST PIN CHG: [ 0-9/]{8} PIN CHG DAYS: [ 0-9]{3}GLOBAL: [0-9]`

func Def() report.Def {
	return report.Def{
		Name:        Name,
		Title:       "TRANSACTION SECURITY REPORT",
		TrimLeading: true,
		Fields: []report.FieldDef{
			{Name: "EMPL NO", Start: 9, Length: 6},
			{Name: "HR NO", Start: 23, Length: 5},
			{Name: "NAME", Start: 35, Length: 32},
			{Name: "BR NO", Start: 75, Length: 3, Kind: "int"},
			{Name: "LAST PIN CHG", Start: 93, Length: 8},
			{Name: "PIN CHG DAYS", Start: 116, Length: 3, Kind: "int"},
			{Name: "GLOBAL", Start: 127, Length: 1, Kind: "int"},
		},
		Rules: []report.RuleDef{
			{Kind: "report_header", Name: "banner", Pattern: `^00[12]`, Require: []string{"TRANSACTION SECURITY REPORT"}},
			{Kind: "section_marker", Name: "level", Pattern: `^\s+JD/AUTHORITY LEVEL\s+(?P<level>\d+)`, Capture: "level"},
			{Kind: "section_marker", Name: "codes", Pattern: `^ {6}(?P<codes>\S.*?)\s*$`, Capture: "codes"},
			{Kind: "data_line", Name: "employee", Pattern: employee},
		},
		Scopes: []report.ScopeDef{
			{Name: "level"},
			{Name: "codes", Accumulate: true, Boundary: "level"},
		},
		Columns: []report.ColumnDef{
			{Name: "AUTH LEVEL", Scope: "level"},
			{Name: "EMPL NO", Field: "EMPL NO"},
			{Name: "HR NO", Field: "HR NO"},
			{Name: "NAME", Field: "NAME"},
			{Name: "BR NO", Field: "BR NO"},
			{Name: "LAST PIN CHG", Field: "LAST PIN CHG"},
			{Name: "PIN CHG DAYS", Field: "PIN CHG DAYS"},
			{Name: "GLOBAL", Field: "GLOBAL"},
			{Name: "TRANSACTIONS", Scope: "codes"},
		},
	}
}

func New() (*report.Model, error) { return report.Compile(Def()) }
