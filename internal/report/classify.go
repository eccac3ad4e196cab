package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"afsrpt/pkg/contract"
)

// LineKind 行分类标签；数值即优先级（小者先试）。
type LineKind int

const (
	ReportHeader LineKind = iota
	ColumnHeader
	Separator
	SectionMarker
	DataLine
)

var kindNames = [...]string{"report_header", "column_header", "separator", "section_marker", "data_line"}

func (k LineKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("LineKind(%d)", int(k))
}

func parseLineKind(s string) (LineKind, error) {
	for i, n := range kindNames {
		if n == strings.ToLower(strings.TrimSpace(s)) {
			return LineKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown line kind %q", contract.ErrInvariantViolation, s)
}

// Rule 为一条行文法规则。Prefix 与 Pattern 二选一。
type Rule struct {
	Kind    LineKind
	Name    string
	Prefix  string
	Pattern *regexp.Regexp
	// Require: 命中后必须包含的子串；缺失即 FormatError。
	Require []string
	// Capture: Pattern 中作为取值的命名分组（分页标识、作用域值）。
	Capture     string
	CaptureKind DecodeKind
}

func (r *Rule) match(line string) (map[string]string, bool) {
	if r.Pattern == nil {
		return nil, strings.HasPrefix(line, r.Prefix)
	}
	m := r.Pattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	groups := make(map[string]string)
	for i, n := range r.Pattern.SubexpNames() {
		if n != "" && i < len(m) {
			groups[n] = m[i]
		}
	}
	return groups, true
}

// Classification 为一行的分类结果。
type Classification struct {
	Kind   LineKind
	Rule   *Rule
	Value  string
	Groups map[string]string
}

// Classifier 按优先级顺序尝试规则，首个命中决定行类别。
type Classifier struct {
	rules []Rule
	// strict: 声明了 DataLine 规则时，未命中任何规则的行视为格式错误。
	strict bool
}

// NewClassifier 按类别优先级稳定排序规则（同类保持声明顺序）。
func NewClassifier(rules []Rule) (*Classifier, error) {
	out := make([]Rule, len(rules))
	copy(out, rules)
	strict := false
	for i := range out {
		r := &out[i]
		if r.Kind < ReportHeader || r.Kind > DataLine {
			return nil, fmt.Errorf("%w: rule %q has invalid kind", contract.ErrInvariantViolation, r.Name)
		}
		if (r.Prefix == "") == (r.Pattern == nil) {
			return nil, fmt.Errorf("%w: rule %q needs exactly one of prefix or pattern", contract.ErrInvariantViolation, r.Name)
		}
		if r.Capture != "" {
			if r.Pattern == nil || r.Pattern.SubexpIndex(r.Capture) < 0 {
				return nil, fmt.Errorf("%w: rule %q captures unknown group %q", contract.ErrInvariantViolation, r.Name, r.Capture)
			}
		}
		if r.Kind == DataLine {
			strict = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return &Classifier{rules: out, strict: strict}, nil
}

// Classify 返回行的类别与捕获值。空白行为 Separator。
func (c *Classifier) Classify(line string) (Classification, error) {
	if strings.TrimSpace(line) == "" {
		return Classification{Kind: Separator}, nil
	}
	for i := range c.rules {
		r := &c.rules[i]
		groups, ok := r.match(line)
		if !ok {
			continue
		}
		for _, want := range r.Require {
			if !strings.Contains(line, want) {
				return Classification{}, contract.Errorf(contract.ErrFormat, "%s line missing %q", r.Kind, want)
			}
		}
		cl := Classification{Kind: r.Kind, Rule: r, Groups: groups}
		if r.Capture != "" {
			v := strings.TrimSpace(groups[r.Capture])
			if r.CaptureKind == Int && v != "" {
				iv, err := decodeInt(r.Capture, v)
				if err != nil {
					return Classification{}, err
				}
				v = iv
			}
			cl.Value = v
		}
		return cl, nil
	}
	if c.strict {
		return Classification{}, contract.Errorf(contract.ErrFormat, "line matches no rule")
	}
	return Classification{Kind: DataLine}, nil
}

// Rules 返回排序后的规则副本。
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}
