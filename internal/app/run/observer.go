package run

import (
	"time"

	"github.com/John-Robertt/blockagg/internal/app/aggregate"
	"github.com/John-Robertt/blockagg/internal/domain"
)

// fanout 把聚合事件转发给多个 Observer（指标 + CLI 进度）。
//
// 约束：事件只来自收集者 goroutine；各 Observer 若在别处也读自身状态，需要自行加锁。
type fanout []aggregate.Observer

func newFanout(obs ...aggregate.Observer) fanout {
	out := make(fanout, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (f fanout) OnStart(total int) {
	for _, o := range f {
		o.OnStart(total)
	}
}

func (f fanout) OnSourceDone(idx, total int, res domain.SourceResult, dur time.Duration) {
	for _, o := range f {
		o.OnSourceDone(idx, total, res, dur)
	}
}
