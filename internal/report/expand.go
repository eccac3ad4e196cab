package report

import (
	"strings"

	"afsrpt/pkg/contract"
)

// ColumnSource 输出列的取值来源。
type ColumnSource int

const (
	FromField ColumnSource = iota
	FromScope
	FromPage
	FromTemplate
	FromTrailing
)

// Column 为一个输出列。
type Column struct {
	Name   string
	Source ColumnSource
	// field: FromField 的字段下标。
	field int
	// scope: FromScope 的作用域名。
	scope string
	// parts: FromTemplate 的片段；fieldRef>=0 表示引用字段，否则为字面量。
	parts []templatePart
}

type templatePart struct {
	lit      string
	fieldRef int
}

// Expansion 尾段展开策略。Marker 为空表示不做数值展开，仅整体保留。
type Expansion struct {
	Marker string
}

type expander struct {
	columns   []Column
	trailing  int // FromTrailing 列下标；-1 表示无
	expansion Expansion
}

func newExpander(cols []Column, exp Expansion) *expander {
	e := &expander{columns: cols, trailing: -1, expansion: exp}
	for i, c := range cols {
		if c.Source == FromTrailing {
			e.trailing = i
		}
	}
	return e
}

// expand 将一行解码结果与当前上下文展开为一条或多条记录。
// 尾段全部为数字 token 时每个 token 一条（加前缀标记）；否则恰好一条，尾段左侧去空白。
func (e *expander) expand(d Decoded, ctx *Tracker) []contract.Record {
	base := make(contract.Record, len(e.columns))
	for i, c := range e.columns {
		switch c.Source {
		case FromField:
			base[i] = d.Values[c.field]
		case FromScope:
			base[i] = ctx.Scope(c.scope)
		case FromPage:
			base[i] = ctx.Page()
		case FromTemplate:
			var b strings.Builder
			for _, p := range c.parts {
				if p.fieldRef >= 0 {
					b.WriteString(d.Values[p.fieldRef])
				} else {
					b.WriteString(p.lit)
				}
			}
			base[i] = b.String()
		}
	}
	if e.trailing < 0 {
		return []contract.Record{base}
	}
	if !d.HasTrailing {
		base[e.trailing] = ""
		return []contract.Record{base}
	}
	tokens := strings.Fields(d.Trailing)
	if e.expansion.Marker == "" || !allNumeric(tokens) {
		base[e.trailing] = strings.TrimRight(strings.TrimLeft(d.Trailing, " \t"), " \t")
		return []contract.Record{base}
	}
	out := make([]contract.Record, 0, len(tokens))
	for _, tok := range tokens {
		r := make(contract.Record, len(base))
		copy(r, base)
		r[e.trailing] = e.expansion.Marker + tok
		out = append(out, r)
	}
	return out
}

func allNumeric(tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		for _, r := range t {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
