package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/blockagg/internal/app/aggregate"
	"github.com/John-Robertt/blockagg/internal/app/publish"
	"github.com/John-Robertt/blockagg/internal/config"
	"github.com/John-Robertt/blockagg/internal/domain"
	"github.com/John-Robertt/blockagg/internal/infra/httpx"
	"github.com/John-Robertt/blockagg/internal/metrics"
	"github.com/John-Robertt/blockagg/internal/notify"
	"github.com/John-Robertt/blockagg/internal/source"
)

// Deps 是一次运行可替换的能力；零值字段使用按 EffectiveConfig 构造的默认实现。
type Deps struct {
	Logger  *zap.Logger
	Fetcher source.Fetcher
	// Notifiers 为 nil 时按配置构造（refresh.command / refresh.nats）。
	Notifiers []notify.Notifier
	// Observer 接收聚合进度（例如 CLI 进度输出）。
	Observer aggregate.Observer
}

// Execute 执行一次完整运行：聚合所有源 → 排序写出 → 移动到发布目录 → 触发下游刷新。
//
// 单源失败只体现在报告中；返回的 error 只有三种情况：
// 代理配置无法构造 HTTP client（*config.Error）、ctx 在汇合时已结束（*CanceledError，
// 不写产物），或产物写出/移动失败（*publish.Error）。下游刷新失败不会返回 error。
func Execute(ctx context.Context, eff config.EffectiveConfig, deps Deps) (domain.RunReport, error) {
	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run_id", rr.RunID))
	log.Info("开始运行",
		zap.Int("sources", len(eff.Sources)),
		zap.Int("concurrency", eff.Concurrency),
		zap.Duration("timeout", eff.Timeout),
	)

	fetcher := deps.Fetcher
	if fetcher == nil {
		client, err := httpx.NewSourceClient(eff.ProxyURL)
		if err != nil {
			cerr := &config.Error{Code: config.ErrCodeInvalid, Path: eff.ConfigPath, Err: fmt.Errorf("proxy.url 无效：%w", err)}
			rr.Publish = failedPublish(eff, cerr.Code, cerr)
			rr.FinishedAt = time.Now().UTC()
			rr.Finalize()
			return rr, cerr
		}
		fetcher = source.HTTPFetcher{Client: client, MaxBodyBytes: eff.MaxBodyBytes}
	}

	rec := metrics.NewRecorder()
	agg := aggregate.Aggregate(ctx, eff.Sources, aggregate.Options{
		Fetcher:     fetcher,
		Logger:      log,
		Concurrency: eff.Concurrency,
		Timeout:     eff.Timeout,
		Observer:    newFanout(rec, deps.Observer),
	})
	rr.Sources = agg.Sources

	var (
		art  publish.Artifact
		perr error
	)
	if cerr := ctx.Err(); cerr != nil {
		// 被取消的运行不是“全部源失败”：不写产物、不触发刷新。
		perr = &CanceledError{Err: cerr}
		log.Error("运行被取消，保留上一次的产物", zap.String("error_code", domain.ErrCodeCanceled), zap.Error(cerr))
		rr.Publish = failedPublish(eff, domain.ErrCodeCanceled, perr)
	} else {
		entries := publish.Sort(agg.Merged)
		art, perr = publish.Publish(entries, publish.Target{Output: eff.Output, PublishDir: eff.PublishDir}, log)
		if perr != nil {
			log.Error("发布失败", zap.String("error_code", domain.ErrCodePublishFailed), zap.Error(perr))
			rr.Publish = failedPublish(eff, domain.ErrCodePublishFailed, perr)
			rr.Publish.Entries = art.Entries
		} else {
			rr.Publish = domain.PublishReport{
				Status:    domain.StatusOK,
				Output:    art.Output,
				Published: art.Published,
				Entries:   art.Entries,
			}
			if !eff.NoRefresh {
				rr.Publish.Refresh = refresh(ctx, log, notifiersFor(eff, deps), notify.Ready{
					RunID:       rr.RunID,
					Path:        art.Path,
					Entries:     art.Entries,
					PublishedAt: time.Now().UTC(),
				})
			}
		}
	}

	rr.FinishedAt = time.Now().UTC()
	rec.Finish(rr.FinishedAt, art.Entries, perr == nil)
	if eff.MetricsTextfile != "" {
		if err := rec.WriteTextfile(eff.MetricsTextfile); err != nil {
			log.Warn("写入指标文件失败", zap.String("path", eff.MetricsTextfile), zap.Error(err))
		}
	}

	rr.Finalize()
	log.Info("运行结束",
		zap.Int("succeeded", rr.Summary.Succeeded),
		zap.Int("failed", rr.Summary.Failed),
		zap.Int("entries", rr.Summary.Entries),
		zap.String("publish", rr.Publish.Status),
	)
	return rr, perr
}

// CanceledError 表示运行在发布前被取消。
type CanceledError struct {
	Err error
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("运行被取消，未发布产物：%v", e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }

// Notifiers 按配置构造下游刷新目标（可能为空）。
func Notifiers(eff config.EffectiveConfig) []notify.Notifier {
	var out []notify.Notifier
	if len(eff.RefreshCommand) > 0 {
		out = append(out, notify.Command{Argv: eff.RefreshCommand, Timeout: eff.RefreshTimeout})
	}
	if eff.NATSURL != "" {
		out = append(out, notify.NATS{URL: eff.NATSURL, Subject: eff.NATSSubject, Timeout: eff.RefreshTimeout})
	}
	return out
}

func notifiersFor(eff config.EffectiveConfig, deps Deps) []notify.Notifier {
	if deps.Notifiers != nil {
		return deps.Notifiers
	}
	return Notifiers(eff)
}

func refresh(ctx context.Context, log *zap.Logger, ns []notify.Notifier, r notify.Ready) []domain.RefreshReport {
	reps := notify.NotifyAll(ctx, ns, r)
	for _, rep := range reps {
		if rep.Status != domain.StatusOK {
			// 产物已写出；这里只大声报告，不影响退出码。
			log.Error("下游刷新失败",
				zap.String("notifier", rep.Notifier),
				zap.String("error_code", rep.ErrorCode),
				zap.String("error", rep.ErrorMsg),
			)
			continue
		}
		log.Info("下游刷新完成", zap.String("notifier", rep.Notifier))
	}
	return reps
}

func failedPublish(eff config.EffectiveConfig, code string, err error) domain.PublishReport {
	return domain.PublishReport{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
		Output:    eff.Output,
	}
}
