package aggregate

import (
	"time"

	"github.com/John-Robertt/blockagg/internal/domain"
)

// Observer 用于把“聚合进度/单源结果”从核心流程中解耦出来（指标、进度展示等）。
//
// 事件只由收集者 goroutine 发出，实现无需自行加锁。
type Observer interface {
	// OnStart 在派生任何任务之前调用。
	OnStart(total int)
	// OnSourceDone 在某个源的结果被合并（或记录为失败）之后调用。
	OnSourceDone(idx, total int, res domain.SourceResult, dur time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnStart(int) {}
func (nopObserver) OnSourceDone(int, int, domain.SourceResult, time.Duration) {}
