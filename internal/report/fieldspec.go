package report

import (
	"fmt"
	"strings"

	"afsrpt/pkg/contract"
)

// DecodeKind 字段解码方式。
type DecodeKind int

const (
	// Text: 去尾部空白（可选去首部空白）。
	Text DecodeKind = iota
	// Int: 整数；去空白后必须为非空纯数字，输出为去前导零的规范形式。
	Int
)

func (k DecodeKind) String() string {
	if k == Int {
		return "int"
	}
	return "text"
}

func parseDecodeKind(s string) (DecodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return Text, nil
	case "int", "integer":
		return Int, nil
	default:
		return Text, fmt.Errorf("%w: unknown decode kind %q", contract.ErrInvariantViolation, s)
	}
}

// FieldSpec 描述一个定长字段：[Start, Start+Length)，按字符计，0 起。
type FieldSpec struct {
	Name   string
	Start  int
	Length int
	Kind   DecodeKind
}

// End 返回字段结束偏移（不含）。
func (f FieldSpec) End() int { return f.Start + f.Length }

// FieldTable 是构造期校验过的字段表。
type FieldTable struct {
	specs []FieldSpec
	width int
}

// NewFieldTable 校验字段有序、不重叠、长度为正、名称唯一。
// 最后一个字段的结束偏移即最小行宽。
func NewFieldTable(specs []FieldSpec) (*FieldTable, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: field table empty", contract.ErrInvariantViolation)
	}
	seen := make(map[string]struct{}, len(specs))
	prevEnd := 0
	for i, f := range specs {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("%w: field #%d has no name", contract.ErrInvariantViolation, i)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", contract.ErrInvariantViolation, f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Start < 0 || f.Length <= 0 {
			return nil, fmt.Errorf("%w: field %q has invalid range [%d,%d)", contract.ErrInvariantViolation, f.Name, f.Start, f.End())
		}
		if f.Start < prevEnd {
			return nil, fmt.Errorf("%w: field %q overlaps or is out of order (start %d < %d)", contract.ErrInvariantViolation, f.Name, f.Start, prevEnd)
		}
		prevEnd = f.End()
	}
	out := make([]FieldSpec, len(specs))
	copy(out, specs)
	return &FieldTable{specs: out, width: prevEnd}, nil
}

// Width 返回最小行宽。
func (t *FieldTable) Width() int { return t.width }

// Specs 返回字段表副本。
func (t *FieldTable) Specs() []FieldSpec {
	out := make([]FieldSpec, len(t.specs))
	copy(out, t.specs)
	return out
}

// Index 返回字段名在表中的位置；不存在返回 -1。
func (t *FieldTable) Index(name string) int {
	for i, f := range t.specs {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Decoded 为一行的解码结果。
type Decoded struct {
	Values []string
	// Trailing 为最小行宽之外的原文（未裁剪）；仅在模型声明尾段时填充。
	Trailing    string
	HasTrailing bool
}

// DecodeOptions 控制单行解码。
type DecodeOptions struct {
	TrimLeading bool
	Trailing    bool
}

// Decode 按字段表切片一行。短行右补空格，不报错。
func (t *FieldTable) Decode(line string, opts DecodeOptions) (Decoded, error) {
	rs := []rune(line)
	if len(rs) < t.width {
		rs = append(rs, []rune(strings.Repeat(" ", t.width-len(rs)))...)
	}
	out := Decoded{Values: make([]string, len(t.specs))}
	for i, f := range t.specs {
		v, err := decodeField(f, string(rs[f.Start:f.End()]), opts.TrimLeading)
		if err != nil {
			return Decoded{}, err
		}
		out.Values[i] = v
	}
	if opts.Trailing && len(rs) > t.width {
		rest := string(rs[t.width:])
		if strings.TrimSpace(rest) != "" {
			out.Trailing = rest
			out.HasTrailing = true
		}
	}
	return out, nil
}

// Slice 按字段表切出原文片段（去首尾空白），用于列头比对。
func (t *FieldTable) Slice(line string) []string {
	rs := []rune(line)
	if len(rs) < t.width {
		rs = append(rs, []rune(strings.Repeat(" ", t.width-len(rs)))...)
	}
	out := make([]string, len(t.specs))
	for i, f := range t.specs {
		out[i] = strings.TrimSpace(string(rs[f.Start:f.End()]))
	}
	return out
}

func decodeField(f FieldSpec, raw string, trimLeading bool) (string, error) {
	switch f.Kind {
	case Int:
		return decodeInt(f.Name, raw)
	default:
		v := strings.TrimRight(raw, " \t")
		if trimLeading {
			v = strings.TrimLeft(v, " \t")
		}
		return v, nil
	}
}

func decodeInt(name, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &contract.LineError{Kind: contract.ErrDecode, Field: name, Msg: "empty integer field"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", &contract.LineError{Kind: contract.ErrDecode, Field: name, Msg: fmt.Sprintf("non-digit %q in integer field", r)}
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	return s, nil
}
