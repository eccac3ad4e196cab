package diag

import (
	"sort"
	"strings"
	"sync"
)

// 进程内指标计数：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计）

var reg = struct {
	mu   sync.Mutex
	ops  map[string]int64
	errs map[string]int64
	dur  map[string]int64
}{ops: map[string]int64{}, errs: map[string]int64{}, dur: map[string]int64{}}

func key(parts ...string) string { return strings.Join(parts, "/") }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	reg.mu.Lock()
	reg.ops[key(comp, stage, result)]++
	reg.mu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	reg.mu.Lock()
	reg.errs[key(comp, code)]++
	reg.mu.Unlock()
}

// ObserveDuration 累加阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	reg.mu.Lock()
	reg.dur[key(comp, stage)] += durMS
	reg.mu.Unlock()
}

// Metrics 为某一时刻的计数快照；键以 "/" 连接标签。
type Metrics struct {
	Ops        map[string]int64 `json:"op_total"`
	Errors     map[string]int64 `json:"error_total"`
	DurationMS map[string]int64 `json:"op_duration_ms"`
}

// Keys 返回某张计数表的有序键，便于稳定输出。
func Keys(m map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot 复制当前计数。
func Snapshot() Metrics {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return Metrics{Ops: clone(reg.ops), Errors: clone(reg.errs), DurationMS: clone(reg.dur)}
}

// Reset 清空全部计数。
func Reset() {
	reg.mu.Lock()
	reg.ops = map[string]int64{}
	reg.errs = map[string]int64{}
	reg.dur = map[string]int64{}
	reg.mu.Unlock()
}

func clone(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
