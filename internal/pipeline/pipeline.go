package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"afsrpt/internal/diag"
	"afsrpt/pkg/contract"
)

// - 单点并发：仅此层管理并发与背压；Reader/Extractor/Writer 均为同步、无内部并发。
// - 文件粒度：一个文件一个任务；同一文件的记录顺序即输入顺序。
// - 首错取消：任一文件出错即 cancel 整体，不再调度新文件；等待在途任务退出后返回首错。

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Extractor contract.Extractor
	Writer    contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// 输入根（输出位置由 Writer 的 options 决定）
	Inputs      []string
	Concurrency int
	// Report: 报表文法名，仅用于日志与终端提示。
	Report string
	// SingleArtifact: 显式输出路径时为 true；输入展开出多个文件即报错。
	SingleArtifact bool
}

// ErrMultipleInputs 显式输出路径只允许一个输入文件。
var ErrMultipleInputs = errors.New("explicit output requires a single input file")

// ErrDuplicateArtifact 两个输入映射到同一输出目标（扁平输出下同名文件、同名表）。
var ErrDuplicateArtifact = errors.New("inputs map to the same output")

// Run 执行完整流水线：Reader → Extractor → Writer。
// 约束：
// - Concurrency 个文件并行处理；Reader 的遍历在并发已满时阻塞（背压）；
// - 被移交给任务的 rc 由任务关闭；
// - Writer 仅在整表写入成功后提交；
// - SingleArtifact 时遍历结束前不启动任务，多文件即报错且不产生输出；
// - Writer 实现 contract.Locator 时，目标重复的文件在调度前报错。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	if err := sanity(comp, set); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	n := set.Concurrency
	if n < 1 {
		n = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	spawn := func(fid contract.FileID, rc io.ReadCloser) {
		g.Go(func() error {
			defer rc.Close()
			// 等待并发槽期间可能已被首错取消
			if err := gctx.Err(); err != nil {
				return err
			}
			return processFile(gctx, comp, set, logger, fid, rc)
		})
	}

	loc, _ := comp.Writer.(contract.Locator)
	dests := map[string]contract.FileID{}
	var (
		files     atomic.Int64
		pendingID contract.FileID
		pendingRC io.ReadCloser
	)
	rtimer := logger.Start("reader", "iterate")
	ierr := comp.Reader.Iterate(gctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		if files.Add(1) > 1 && set.SingleArtifact {
			return fmt.Errorf("%w: %s", ErrMultipleInputs, fid)
		}
		if loc != nil {
			dest, err := loc.Locate(contract.ArtifactID(fid))
			if err != nil {
				return fmt.Errorf("locate %s: %w", fid, err)
			}
			if prev, dup := dests[dest]; dup && dest != "" {
				return fmt.Errorf("%w: %s and %s -> %s", ErrDuplicateArtifact, prev, fid, dest)
			}
			dests[dest] = fid
		}
		if set.SingleArtifact {
			pendingID, pendingRC = fid, rc
			return nil
		}
		spawn(fid, rc)
		return nil
	})
	if pendingRC != nil {
		if ierr != nil {
			_ = pendingRC.Close()
		} else {
			spawn(pendingID, pendingRC)
		}
	}
	werr := g.Wait()
	if werr != nil {
		return werr
	}
	if ierr != nil {
		code := diag.Classify(ierr)
		logger.Error("reader", string(code), "iterate failed", nil)
		countError("reader", code)
		return fmt.Errorf("reader iterate: %w", ierr)
	}
	rtimer.Finish("iterate", files.Load())
	diag.IncOp("reader", "finish", "success")
	return nil
}

func processFile(ctx context.Context, comp Components, set Settings, logger *diag.Logger, fid contract.FileID, rc io.Reader) (err error) {
	term := diag.GetTerminal()
	term.FileStart(string(fid))
	fileStart := time.Now()
	records := 0
	defer func() {
		term.FileFinish(string(fid), err == nil, records, time.Since(fileStart))
	}()

	ptimer := logger.StartWith("parse", "extract", string(fid), set.Report)
	table, err := comp.Extractor.Extract(ctx, fid, rc)
	if err != nil {
		code := diag.Classify(err)
		logger.ErrorWithKV("parse", string(code), err.Error(), &fileStart, string(fid), set.Report, lineKV(err))
		countError("parse", code)
		return fmt.Errorf("parse %s: %w", fid, err)
	}
	ptimer.Finish("extract", int64(len(table.Records)))
	diag.IncOp("parse", "finish", "success")
	diag.ObserveDuration("parse", "finish", ptimer.Since().Milliseconds())
	records = len(table.Records)
	logger.DebugStart("parse", "stats", string(fid), set.Report, statsKV(table))
	term.FileProgress(string(fid), table.Stats.Lines, records)

	wtimer := logger.StartWith("writer", "write", string(fid), set.Report)
	if err := comp.Writer.Write(ctx, contract.ArtifactID(fid), table.Fill); err != nil {
		code := diag.Classify(err)
		logger.ErrorWith("writer", string(code), err.Error(), nil, string(fid), set.Report)
		countError("writer", code)
		return fmt.Errorf("write %s: %w", fid, err)
	}
	wtimer.Finish("write", int64(records))
	diag.IncOp("writer", "finish", "success")
	diag.ObserveDuration("writer", "finish", wtimer.Since().Milliseconds())
	return nil
}

func countError(comp string, code diag.Code) {
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// lineKV 提取 LineError 的定位信息。
func lineKV(err error) map[string]string {
	var le *contract.LineError
	if !errors.As(err, &le) {
		return nil
	}
	kv := map[string]string{"line": strconv.Itoa(le.Line)}
	if le.Field != "" {
		kv["field"] = le.Field
	}
	return kv
}

func statsKV(t *contract.Table) map[string]string {
	return map[string]string{
		"lines":      strconv.Itoa(t.Stats.Lines),
		"banners":    strconv.Itoa(t.Stats.Banners),
		"separators": strconv.Itoa(t.Stats.Separators),
		"sections":   strconv.Itoa(t.Stats.Sections),
		"data_lines": strconv.Itoa(t.Stats.DataLines),
		"records":    strconv.Itoa(len(t.Records)),
	}
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Extractor == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}
