package aggregate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/blockagg/internal/domain"
	"github.com/John-Robertt/blockagg/internal/source"
)

// Options 控制一次聚合。
type Options struct {
	Fetcher source.Fetcher
	Logger  *zap.Logger

	// Concurrency <=0 表示不限（每个 URL 同时派生）；>0 时同时在途的任务数不超过该值。
	Concurrency int
	// Timeout 是单源超时；<=0 表示不设。
	Timeout time.Duration

	Observer Observer
}

// Result 是聚合阶段的输出。Merged 在返回后不再被修改。
type Result struct {
	Merged   domain.EntrySet
	Failures []domain.FailureReport
	Sources  []domain.SourceReport
}

type outcome struct {
	res domain.SourceResult
	dur time.Duration
}

// Aggregate 并发处理所有源，并把成功结果合并为一个去重集合。
//
// 语义：
// - 完全汇合：所有任务结束后才返回
// - 单源失败只产生一条 FailureReport，不中止运行、不影响其它源的条目
// - 合并只在调用方 goroutine 中进行（单写者）
func Aggregate(ctx context.Context, urls []domain.SourceURL, opts Options) Result {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}

	task := source.Task{
		Fetcher: opts.Fetcher,
		Logger:  log,
		Timeout: opts.Timeout,
	}

	total := len(urls)
	obs.OnStart(total)

	// 缓冲等于任务数：任务发送结果永不阻塞。
	results := make(chan outcome, total)

	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	go func() {
		for _, u := range urls {
			// SetLimit 生效时 Go 会阻塞到有空位；因此派发放在独立 goroutine。
			g.Go(func() error {
				started := time.Now()
				res := runIsolated(ctx, task, u)
				results <- outcome{res: res, dur: time.Since(started)}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	out := Result{
		Merged:   domain.EntrySet{},
		Failures: []domain.FailureReport{},
		Sources:  make([]domain.SourceReport, 0, total),
	}

	done := 0
	for o := range results {
		done++
		if o.res.OK() {
			out.Merged.Merge(o.res.Entries)
		} else if fr, ok := o.res.Report(); ok {
			out.Failures = append(out.Failures, fr)
		}
		out.Sources = append(out.Sources, domain.NewSourceReport(o.res, o.dur))
		obs.OnSourceDone(done, total, o.res, o.dur)
	}

	log.Info("聚合完成",
		zap.Int("sources", total),
		zap.Int("failed", len(out.Failures)),
		zap.Int("entries", out.Merged.Len()),
	)
	return out
}

// runIsolated 是汇合边界：即使任务本身的保护失效，panic 也只变成该源的 join_failed。
func runIsolated(ctx context.Context, task source.Task, u domain.SourceURL) (res domain.SourceResult) {
	defer func() {
		if r := recover(); r != nil {
			res = domain.Failed(u, domain.ErrCodeJoinFailed, fmt.Errorf("任务无法汇合：%v", r))
		}
	}()
	return task.Run(ctx, u)
}
