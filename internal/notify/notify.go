package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/John-Robertt/blockagg/internal/domain"
)

// Ready 是“产物就绪”信号的内容。
type Ready struct {
	RunID       string    `json:"run_id"`
	Path        string    `json:"path"`
	Entries     int       `json:"entries"`
	PublishedAt time.Time `json:"published_at"`
}

// Notifier 在产物写出后通知下游刷新。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, r Ready) error
}

// Error 是下游刷新失败；不影响已写出的产物。
type Error struct {
	Notifier string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("下游刷新失败（%s）：%v", e.Notifier, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NotifyAll 依次调用所有 notifier；单个失败不影响其它 notifier。
func NotifyAll(ctx context.Context, ns []Notifier, r Ready) []domain.RefreshReport {
	out := make([]domain.RefreshReport, 0, len(ns))
	for _, n := range ns {
		rep := domain.RefreshReport{Notifier: n.Name(), Status: domain.StatusOK}
		if err := n.Notify(ctx, r); err != nil {
			rep.Status = domain.StatusFailed
			rep.ErrorCode = domain.ErrCodeRefreshFailed
			rep.ErrorMsg = (&Error{Notifier: n.Name(), Err: err}).Error()
		}
		out = append(out, rep)
	}
	return out
}
