package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RunReport 是对外稳定输出（report 文件 / stdout JSON）的结构。
type RunReport struct {
	RunID string `json:"run_id"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary  `json:"summary"`
	Sources []SourceReport `json:"sources"`
	Publish PublishReport  `json:"publish"`
}

type ReportSummary struct {
	Sources   int `json:"sources"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Entries   int `json:"entries"`
}

type SourceReport struct {
	URL        string `json:"url"`
	Status     string `json:"status"`
	ErrorCode  string `json:"error_code"`
	ErrorMsg   string `json:"error_msg"`
	Entries    int    `json:"entries"`
	DurationMS int64  `json:"duration_ms"`
}

// PublishReport 描述产物去向与下游刷新结果。
// Status=failed 表示产物未能写出/移动（整轮失败）；刷新失败只记录在 Refresh 中。
type PublishReport struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Output    string `json:"output"`
	Published string `json:"published"`
	Entries   int    `json:"entries"`

	Refresh []RefreshReport `json:"refresh"`
}

type RefreshReport struct {
	Notifier  string `json:"notifier"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// NewSourceReport 把一个 SourceResult 投影为报告条目。
func NewSourceReport(r SourceResult, dur time.Duration) SourceReport {
	sr := SourceReport{
		URL:        string(r.URL),
		DurationMS: dur.Milliseconds(),
	}
	if r.OK() {
		sr.Status = StatusOK
		sr.Entries = r.Entries.Len()
		return sr
	}
	fr, _ := r.Report()
	sr.Status = StatusFailed
	sr.ErrorCode = fr.ErrorCode
	sr.ErrorMsg = fr.ErrorMsg
	return sr
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) sources 稳定排序：按 url 字典序
// 3) summary 由 sources 与 publish 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Sources == nil {
		r.Sources = []SourceReport{}
	}
	if r.Publish.Refresh == nil {
		r.Publish.Refresh = []RefreshReport{}
	}

	sort.SliceStable(r.Sources, func(i, j int) bool {
		return r.Sources[i].URL < r.Sources[j].URL
	})

	s := ReportSummary{Sources: len(r.Sources), Entries: r.Publish.Entries}
	for _, it := range r.Sources {
		switch it.Status {
		case StatusOK:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
