package report

import (
	"fmt"
	"strings"

	"afsrpt/pkg/contract"
)

// ScopeSpec 声明一个层级作用域。
// Accumulate 为真时追加取值；Boundary 指向的作用域取值发生变化时清空本作用域。
type ScopeSpec struct {
	Name       string
	Accumulate bool
	Boundary   string
}

type scopeState struct {
	spec   ScopeSpec
	values []string
}

// Tracker 持有单次解析的可变上下文：分页标识、列头（一次写入）与当前作用域。
// 仅归属一次解析，不跨解析共享。
type Tracker struct {
	page      string
	headers   []string
	headerRaw string
	captured  bool
	scopes    map[string]*scopeState
	order     []string
}

// NewTracker 以声明的作用域初始化上下文。
func NewTracker(scopes []ScopeSpec) *Tracker {
	t := &Tracker{scopes: make(map[string]*scopeState, len(scopes))}
	for _, s := range scopes {
		t.scopes[s.Name] = &scopeState{spec: s}
		t.order = append(t.order, s.Name)
	}
	return t
}

// SetPage 更新分页标识。
func (t *Tracker) SetPage(id string) { t.page = id }

// Page 返回当前分页标识。
func (t *Tracker) Page() string { return t.page }

// Captured 报告列头是否已捕获。
func (t *Tracker) Captured() bool { return t.captured }

// Headers 返回已捕获列头副本。
func (t *Tracker) Headers() []string {
	out := make([]string, len(t.headers))
	copy(out, t.headers)
	return out
}

// CaptureHeaders 首次调用记录列头；之后的列头行原文（去尾部空白）必须与首次一致。
func (t *Tracker) CaptureHeaders(raw string, names []string) error {
	norm := strings.TrimRight(raw, " \t")
	if t.captured {
		if norm != t.headerRaw {
			return contract.Errorf(contract.ErrValidation, "column header differs from first captured header %q", t.headerRaw)
		}
		return nil
	}
	t.headers = append([]string(nil), names...)
	t.headerRaw = norm
	t.captured = true
	return nil
}

// ApplySectionMarker 更新作用域取值。
// 界定作用域换成不同取值时，清空以其为 Boundary 的作用域；重复宣告同一取值不清空。
func (t *Tracker) ApplySectionMarker(name, value string) error {
	st, ok := t.scopes[name]
	if !ok {
		return fmt.Errorf("%w: unknown scope %q", contract.ErrInvariantViolation, name)
	}
	if st.spec.Accumulate {
		if value != "" {
			st.values = append(st.values, value)
		}
		return nil
	}
	prev := ""
	if len(st.values) > 0 {
		prev = st.values[0]
	}
	changed := len(st.values) == 0 || prev != value
	st.values = []string{value}
	if changed {
		for _, n := range t.order {
			if dep := t.scopes[n]; dep.spec.Boundary == name {
				dep.values = nil
			}
		}
	}
	return nil
}

// Scope 返回作用域当前取值；累积作用域以单个空格连接。
func (t *Tracker) Scope(name string) string {
	st, ok := t.scopes[name]
	if !ok {
		return ""
	}
	return strings.Join(st.values, " ")
}
