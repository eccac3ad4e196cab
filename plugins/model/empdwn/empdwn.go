// Package empdwn 定义 AFS USERS REPORT（EMPDWN）报表文法。
//
// 报表格式（0 起偏移）：
//
//	000 Wells Fargo Dealer Services   AFS USERS REPORT   EMPDWN ... PAGE:        1
//	OBJECT/RP3/EMPDWN                                    TIME: 19:00:58
//	ASSN TELLER NO BRANCH DEPT PIN CHG  STATUS AUTH LVL EMPL NAME    EMPL ID  LAST LOGIN
//	---- --------- ------ ---- -------- ------ -------- ------------ -------- ----------
//	   1      4193    273 0000               8       20  JAMES DERMODY   A472223
//
// 每页重复报表头与列头；列头只捕获一次，之后各页须逐字一致。
package empdwn

import "afsrpt/internal/report"

// Name 注册名。
const Name = "empdwn"

// Def 返回文法定义。
func Def() report.Def {
	return report.Def{
		Name:        Name,
		Title:       "AFS USERS REPORT",
		TrimLeading: true,
		Fields: []report.FieldDef{
			{Name: "ASSN", Start: 0, Length: 4, Kind: "int"},
			{Name: "TELLER NO", Start: 5, Length: 9, Kind: "int"},
			{Name: "BRANCH", Start: 15, Length: 6, Kind: "int"},
			{Name: "DEPT", Start: 22, Length: 4},
			{Name: "PIN CHG", Start: 27, Length: 8},
			{Name: "STATUS", Start: 36, Length: 6, Kind: "int"},
			{Name: "AUTH LVL", Start: 43, Length: 8, Kind: "int"},
			{Name: "EMPL NAME", Start: 52, Length: 32},
			{Name: "EMPL ID", Start: 85, Length: 8},
			{Name: "LAST LOGIN", Start: 94, Length: 10},
		},
		Rules: []report.RuleDef{
			{Kind: "report_header", Name: "banner", Prefix: "000", Require: []string{"AFS USERS REPORT"}},
			{Kind: "report_header", Name: "object", Prefix: "OBJECT/RP3/EMPDWN"},
			{Kind: "column_header", Name: "columns", Prefix: "ASSN TELLER"},
			{Kind: "separator", Name: "rule", Pattern: `^-[- ]*$`},
		},
		Columns: []report.ColumnDef{
			{Name: "ASSN", Field: "ASSN"},
			{Name: "TELLER NO", Field: "TELLER NO"},
			{Name: "BRANCH", Field: "BRANCH"},
			{Name: "DEPT", Field: "DEPT"},
			{Name: "PIN CHG", Field: "PIN CHG"},
			{Name: "STATUS", Field: "STATUS"},
			{Name: "AUTH LVL", Field: "AUTH LVL"},
			{Name: "EMPL NAME", Field: "EMPL NAME"},
			{Name: "EMPL ID", Field: "EMPL ID"},
			{Name: "LAST LOGIN", Field: "LAST LOGIN"},
		},
	}
}

// New 编译文法。
func New() (*report.Model, error) { return report.Compile(Def()) }
