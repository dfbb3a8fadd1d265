package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/blockagg/internal/domain"
)

// Task 把 fetch+parse 组合为每源一个隔离的工作单元。
type Task struct {
	Fetcher Fetcher
	Logger  *zap.Logger

	// Timeout <=0 表示不设单源超时。
	Timeout time.Duration
}

// Run 处理一个源并返回恰好一个 SourceResult。
//
// 任何失败（包括 Fetcher 内部 panic）都被转换为 Failed，不会向上传播。
func (t Task) Run(ctx context.Context, url domain.SourceURL) (res domain.SourceResult) {
	log := t.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("url", string(url)))
	started := time.Now()

	log.Info("开始下载并解析")
	defer func() {
		if r := recover(); r != nil {
			res = domain.Failed(url, domain.ErrCodeJoinFailed, fmt.Errorf("任务异常退出：%v", r))
		}
		dur := time.Since(started)
		if res.OK() {
			log.Info("下载并解析完成", zap.Int("entries", res.Entries.Len()), zap.Duration("duration", dur))
			return
		}
		log.Warn("下载或解析失败", zap.String("error_code", res.ErrorCode), zap.Error(res.Err), zap.Duration("duration", dur))
	}()

	if t.Fetcher == nil {
		return domain.Failed(url, domain.ErrCodeFetchFailed, &FetchError{URL: url, Err: errors.New("fetcher 为空")})
	}

	fctx := ctx
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	body, err := t.Fetcher.Fetch(fctx, url)
	if err != nil {
		// 只有“本任务的截止时间到期”才归为 timeout；父 ctx 取消仍是普通抓取失败。
		if errors.Is(fctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return domain.Failed(url, domain.ErrCodeTimeout, fmt.Errorf("超过 %s 未完成：%w", t.Timeout, err))
		}
		return domain.Failed(url, domain.ErrCodeFetchFailed, err)
	}
	return domain.Parsed(url, Parse(body))
}
