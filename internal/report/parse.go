package report

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"afsrpt/pkg/contract"
)

type state int

const (
	seekFirstHeader state = iota
	streaming
)

// maxLine 单行上限；主机报表行一般不超过 256 字符。
const maxLine = 1 << 20

type parser struct {
	m       *Model
	ctx     *Tracker
	state   state
	records []contract.Record
	stats   contract.Stats
}

// Parse 以单遍状态机解析一份报表：SeekFirstHeader → Streaming。
// 首个错误即终止，不返回部分结果。
func Parse(m *Model, src contract.LineSource) (*contract.Table, error) {
	p := &parser{m: m, ctx: NewTracker(m.scopes)}
	n := 0
	for src.Scan() {
		n++
		raw := src.Text()
		if err := p.line(normalizeLine(raw)); err != nil {
			return nil, at(err, n, raw)
		}
	}
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", n+1, err)
	}
	if p.state == seekFirstHeader {
		return nil, &contract.LineError{Kind: contract.ErrFormat, Line: n, Msg: "no column header found"}
	}
	p.stats.Lines = n
	return &contract.Table{Headers: p.ctx.Headers(), Records: p.records, Stats: p.stats}, nil
}

// ParseReader 按行读取 r 并解析。
func ParseReader(m *Model, r io.Reader) (*contract.Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return Parse(m, sc)
}

// normalizeLine 去除行尾 CR 与行首换页符。
func normalizeLine(s string) string {
	s = strings.TrimRight(s, "\r")
	return strings.TrimLeft(s, "\f")
}

func (p *parser) line(s string) error {
	cl, err := p.m.classifier.Classify(s)
	if err != nil {
		return err
	}
	switch cl.Kind {
	case ReportHeader:
		p.stats.Banners++
		if cl.Value != "" {
			p.ctx.SetPage(cl.Value)
		}
		if p.m.static && !p.ctx.Captured() {
			if err := p.ctx.CaptureHeaders("", p.m.Headers()); err != nil {
				return err
			}
			p.state = streaming
		}
	case ColumnHeader:
		if err := p.columnHeader(s); err != nil {
			return err
		}
		p.state = streaming
	case Separator:
		p.stats.Separators++
	case SectionMarker:
		p.stats.Sections++
		if err := p.ctx.ApplySectionMarker(cl.Rule.Name, cl.Value); err != nil {
			return err
		}
	case DataLine:
		if p.state == seekFirstHeader {
			return contract.Errorf(contract.ErrFormat, "data line before column header")
		}
		d, err := p.m.fields.Decode(s, p.m.decode)
		if err != nil {
			return err
		}
		p.stats.DataLines++
		p.records = append(p.records, p.m.exp.expand(d, p.ctx)...)
	}
	return nil
}

func (p *parser) columnHeader(s string) error {
	if p.ctx.Captured() {
		return p.ctx.CaptureHeaders(s, nil)
	}
	got := p.m.fields.Slice(s)
	for i, f := range p.m.fields.specs {
		if got[i] != f.Name {
			return &contract.LineError{Kind: contract.ErrFormat, Field: f.Name, Msg: fmt.Sprintf("column header has %q at [%d,%d)", got[i], f.Start, f.End())}
		}
	}
	return p.ctx.CaptureHeaders(s, p.m.Headers())
}

// at 为错误补全行号与原文。
func at(err error, n int, raw string) error {
	var le *contract.LineError
	if errors.As(err, &le) {
		if le.Line == 0 {
			le.Line = n
		}
		if le.Raw == "" {
			le.Raw = raw
		}
		return le
	}
	return fmt.Errorf("line %d: %w", n, err)
}
