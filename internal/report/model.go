package report

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"afsrpt/pkg/contract"
)

// Def 为报表文法的可序列化定义（JSON/YAML），经 Compile 得到不可变 Model。
type Def struct {
	Name        string       `json:"name" yaml:"name"`
	Title       string       `json:"title,omitempty" yaml:"title,omitempty"`
	TrimLeading bool         `json:"trim_leading,omitempty" yaml:"trim_leading,omitempty"`
	Fields      []FieldDef   `json:"fields" yaml:"fields"`
	Rules       []RuleDef    `json:"rules" yaml:"rules"`
	Scopes      []ScopeDef   `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Columns     []ColumnDef  `json:"columns" yaml:"columns"`
	Trailing    *TrailingDef `json:"trailing,omitempty" yaml:"trailing,omitempty"`
}

type FieldDef struct {
	Name   string `json:"name" yaml:"name"`
	Start  int    `json:"start" yaml:"start"`
	Length int    `json:"length" yaml:"length"`
	Kind   string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

type RuleDef struct {
	Kind        string   `json:"kind" yaml:"kind"`
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Prefix      string   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Pattern     string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Require     []string `json:"require,omitempty" yaml:"require,omitempty"`
	Capture     string   `json:"capture,omitempty" yaml:"capture,omitempty"`
	CaptureKind string   `json:"capture_kind,omitempty" yaml:"capture_kind,omitempty"`
}

type ScopeDef struct {
	Name       string `json:"name" yaml:"name"`
	Accumulate bool   `json:"accumulate,omitempty" yaml:"accumulate,omitempty"`
	Boundary   string `json:"boundary,omitempty" yaml:"boundary,omitempty"`
}

// ColumnDef: Field/Scope/Page/Template/Trailing 五选一。
type ColumnDef struct {
	Name     string `json:"name" yaml:"name"`
	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
	Scope    string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Page     bool   `json:"page,omitempty" yaml:"page,omitempty"`
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	Trailing bool   `json:"trailing,omitempty" yaml:"trailing,omitempty"`
}

// TrailingDef 声明尾段自由文本；Marker 非空时启用数值 token 展开。
type TrailingDef struct {
	Marker string `json:"marker,omitempty" yaml:"marker,omitempty"`
}

// Model 为编译后的报表文法：字段表、行规则、作用域、输出列与展开策略。
// 构造后不可变，可在并发解析间共享。
type Model struct {
	def        Def
	fields     *FieldTable
	classifier *Classifier
	scopes     []ScopeSpec
	columns    []Column
	exp        *expander
	decode     DecodeOptions
	static     bool
}

var _ contract.Extractor = (*Model)(nil)

// Compile 校验定义并构造 Model。任何定义缺陷均返回 ErrInvariantViolation。
func Compile(def Def) (*Model, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("%w: model has no name", contract.ErrInvariantViolation)
	}
	wrap := func(err error) error { return fmt.Errorf("model %s: %w", def.Name, err) }

	specs := make([]FieldSpec, 0, len(def.Fields))
	for _, f := range def.Fields {
		k, err := parseDecodeKind(f.Kind)
		if err != nil {
			return nil, wrap(err)
		}
		specs = append(specs, FieldSpec{Name: f.Name, Start: f.Start, Length: f.Length, Kind: k})
	}
	fields, err := NewFieldTable(specs)
	if err != nil {
		return nil, wrap(err)
	}

	scopes, err := compileScopes(def.Scopes)
	if err != nil {
		return nil, wrap(err)
	}
	rules, static, err := compileRules(def.Rules, scopes)
	if err != nil {
		return nil, wrap(err)
	}
	cls, err := NewClassifier(rules)
	if err != nil {
		return nil, wrap(err)
	}
	cols, err := compileColumns(def.Columns, fields, scopes, def.Trailing != nil)
	if err != nil {
		return nil, wrap(err)
	}
	var exp Expansion
	if def.Trailing != nil {
		exp.Marker = def.Trailing.Marker
	}
	return &Model{
		def:        cloneDef(def),
		fields:     fields,
		classifier: cls,
		scopes:     scopes,
		columns:    cols,
		exp:        newExpander(cols, exp),
		decode:     DecodeOptions{TrimLeading: def.TrimLeading, Trailing: def.Trailing != nil},
		static:     static,
	}, nil
}

// MustCompile 用于内置文法；定义缺陷直接 panic。
func MustCompile(def Def) *Model {
	m, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return m
}

func compileScopes(defs []ScopeDef) ([]ScopeSpec, error) {
	out := make([]ScopeSpec, 0, len(defs))
	byName := make(map[string]ScopeDef, len(defs))
	for _, s := range defs {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("%w: scope has no name", contract.ErrInvariantViolation)
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate scope %q", contract.ErrInvariantViolation, s.Name)
		}
		byName[s.Name] = s
	}
	for _, s := range defs {
		if s.Boundary != "" {
			b, ok := byName[s.Boundary]
			if !ok || b.Name == s.Name || b.Accumulate {
				return nil, fmt.Errorf("%w: scope %q has invalid boundary %q", contract.ErrInvariantViolation, s.Name, s.Boundary)
			}
		}
		out = append(out, ScopeSpec{Name: s.Name, Accumulate: s.Accumulate, Boundary: s.Boundary})
	}
	return out, nil
}

func compileRules(defs []RuleDef, scopes []ScopeSpec) ([]Rule, bool, error) {
	known := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		known[s.Name] = true
	}
	out := make([]Rule, 0, len(defs))
	banners, headers := 0, 0
	for i, d := range defs {
		kind, err := parseLineKind(d.Kind)
		if err != nil {
			return nil, false, err
		}
		ck, err := parseDecodeKind(d.CaptureKind)
		if err != nil {
			return nil, false, err
		}
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("%s#%d", kind, i)
		}
		r := Rule{Kind: kind, Name: name, Prefix: d.Prefix, Require: append([]string(nil), d.Require...), Capture: d.Capture, CaptureKind: ck}
		if d.Pattern != "" {
			re, err := regexp.Compile(d.Pattern)
			if err != nil {
				return nil, false, fmt.Errorf("%w: rule %q: %v", contract.ErrInvariantViolation, name, err)
			}
			r.Pattern = re
		}
		switch kind {
		case ReportHeader:
			banners++
		case ColumnHeader:
			headers++
		case SectionMarker:
			if !known[d.Name] {
				return nil, false, fmt.Errorf("%w: section rule %q names no declared scope", contract.ErrInvariantViolation, d.Name)
			}
			if d.Capture == "" {
				return nil, false, fmt.Errorf("%w: section rule %q needs a capture group", contract.ErrInvariantViolation, d.Name)
			}
		}
		out = append(out, r)
	}
	if banners == 0 {
		return nil, false, fmt.Errorf("%w: no report_header rule", contract.ErrInvariantViolation)
	}
	return out, headers == 0, nil
}

func compileColumns(defs []ColumnDef, fields *FieldTable, scopes []ScopeSpec, hasTrailing bool) ([]Column, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no columns", contract.ErrInvariantViolation)
	}
	known := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		known[s.Name] = true
	}
	names := make(map[string]bool, len(defs))
	nextField := 0
	trailing := 0
	out := make([]Column, 0, len(defs))
	for _, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("%w: column has no name", contract.ErrInvariantViolation)
		}
		if names[d.Name] {
			return nil, fmt.Errorf("%w: duplicate column %q", contract.ErrInvariantViolation, d.Name)
		}
		names[d.Name] = true
		if n := sourceCount(d); n != 1 {
			return nil, fmt.Errorf("%w: column %q needs exactly one source, has %d", contract.ErrInvariantViolation, d.Name, n)
		}
		c := Column{Name: d.Name, field: -1}
		switch {
		case d.Field != "":
			idx := fields.Index(d.Field)
			if idx < 0 {
				return nil, fmt.Errorf("%w: column %q references unknown field %q", contract.ErrInvariantViolation, d.Name, d.Field)
			}
			if idx != nextField {
				return nil, fmt.Errorf("%w: column %q breaks field order (field %q)", contract.ErrInvariantViolation, d.Name, d.Field)
			}
			nextField++
			c.Source, c.field = FromField, idx
		case d.Scope != "":
			if !known[d.Scope] {
				return nil, fmt.Errorf("%w: column %q references unknown scope %q", contract.ErrInvariantViolation, d.Name, d.Scope)
			}
			c.Source, c.scope = FromScope, d.Scope
		case d.Page:
			c.Source = FromPage
		case d.Template != "":
			parts, err := compileTemplate(d.Template, fields)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", d.Name, err)
			}
			c.Source, c.parts = FromTemplate, parts
		case d.Trailing:
			if !hasTrailing {
				return nil, fmt.Errorf("%w: column %q is trailing but model declares no trailing segment", contract.ErrInvariantViolation, d.Name)
			}
			trailing++
			c.Source = FromTrailing
		}
		out = append(out, c)
	}
	if nextField != len(fields.specs) {
		return nil, fmt.Errorf("%w: %d of %d fields have no column", contract.ErrInvariantViolation, len(fields.specs)-nextField, len(fields.specs))
	}
	if hasTrailing && trailing != 1 {
		return nil, fmt.Errorf("%w: trailing segment needs exactly one trailing column, has %d", contract.ErrInvariantViolation, trailing)
	}
	return out, nil
}

func sourceCount(d ColumnDef) int {
	n := 0
	for _, set := range []bool{d.Field != "", d.Scope != "", d.Page, d.Template != "", d.Trailing} {
		if set {
			n++
		}
	}
	return n
}

// compileTemplate 解析 "{TT}-{AP}{TRC}" 形式的字段模板。
func compileTemplate(s string, fields *FieldTable) ([]templatePart, error) {
	var parts []templatePart
	for s != "" {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			if strings.IndexByte(s, '}') >= 0 {
				return nil, fmt.Errorf("%w: unbalanced '}' in template", contract.ErrInvariantViolation)
			}
			parts = append(parts, templatePart{lit: s, fieldRef: -1})
			break
		}
		if open > 0 {
			lit := s[:open]
			if strings.IndexByte(lit, '}') >= 0 {
				return nil, fmt.Errorf("%w: unbalanced '}' in template", contract.ErrInvariantViolation)
			}
			parts = append(parts, templatePart{lit: lit, fieldRef: -1})
		}
		end := strings.IndexByte(s[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated '{' in template", contract.ErrInvariantViolation)
		}
		name := s[open+1 : open+end]
		idx := fields.Index(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: template references unknown field %q", contract.ErrInvariantViolation, name)
		}
		parts = append(parts, templatePart{fieldRef: idx})
		s = s[open+end+1:]
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty template", contract.ErrInvariantViolation)
	}
	return parts, nil
}

func cloneDef(d Def) Def {
	out := d
	out.Fields = append([]FieldDef(nil), d.Fields...)
	out.Rules = make([]RuleDef, len(d.Rules))
	for i, r := range d.Rules {
		r.Require = append([]string(nil), r.Require...)
		out.Rules[i] = r
	}
	out.Scopes = append([]ScopeDef(nil), d.Scopes...)
	out.Columns = append([]ColumnDef(nil), d.Columns...)
	if d.Trailing != nil {
		t := *d.Trailing
		out.Trailing = &t
	}
	return out
}

// Name 返回文法名。
func (m *Model) Name() string { return m.def.Name }

// Title 返回报表标题（描述用）。
func (m *Model) Title() string { return m.def.Title }

// Def 返回定义副本。
func (m *Model) Def() Def { return cloneDef(m.def) }

// Width 返回最小行宽。
func (m *Model) Width() int { return m.fields.Width() }

// Static 报告文法是否无列头行（列名取自定义）。
func (m *Model) Static() bool { return m.static }

// Headers 返回输出列名。
func (m *Model) Headers() []string {
	out := make([]string, len(m.columns))
	for i, c := range m.columns {
		out[i] = c.Name
	}
	return out
}

// Extract 实现 contract.Extractor。解析本身同步且不可取消，仅在开始前检查 ctx。
func (m *Model) Extract(ctx context.Context, _ contract.FileID, r io.Reader) (*contract.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ParseReader(m, r)
}
