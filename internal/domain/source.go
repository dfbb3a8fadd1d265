package domain

import "errors"

// SourceURL 标识一个远端列表；由配置边界提供，不做解析。
type SourceURL string

const (
	ResultParsed = "parsed"
	ResultFailed = "failed"
)

const (
	ErrCodeFetchFailed   = "fetch_failed"
	ErrCodeTimeout       = "timeout"
	ErrCodeJoinFailed    = "join_failed"
	ErrCodePublishFailed = "publish_failed"
	ErrCodeRefreshFailed = "refresh_failed"
	// ErrCodeCanceled 表示运行在发布前被取消；上一次的产物保持不变。
	ErrCodeCanceled = "canceled"
)

// SourceResult 是一个 Task Unit 的结果：Parsed（Entries 有值）或 Failed（Err 有值），二者互斥。
type SourceResult struct {
	URL  SourceURL
	Kind string

	Entries EntrySet

	ErrorCode string
	Err       error
}

// Parsed 构造成功结果。entries 为 nil 时视为空集合。
func Parsed(url SourceURL, entries EntrySet) SourceResult {
	if entries == nil {
		entries = EntrySet{}
	}
	return SourceResult{URL: url, Kind: ResultParsed, Entries: entries}
}

// Failed 构造失败结果。code 为空时默认 fetch_failed。
func Failed(url SourceURL, code string, err error) SourceResult {
	if code == "" {
		code = ErrCodeFetchFailed
	}
	if err == nil {
		err = errors.New(code)
	}
	return SourceResult{URL: url, Kind: ResultFailed, ErrorCode: code, Err: err}
}

func (r SourceResult) OK() bool { return r.Kind == ResultParsed }

// FailureReport 记录单个源的失败（来源 + 原因），不影响其它源。
type FailureReport struct {
	URL       SourceURL `json:"url"`
	ErrorCode string    `json:"error_code"`
	ErrorMsg  string    `json:"error_msg"`
}

// Report 把失败结果转换为 FailureReport；成功结果返回 ok=false。
func (r SourceResult) Report() (FailureReport, bool) {
	if r.OK() {
		return FailureReport{}, false
	}
	msg := ""
	if r.Err != nil {
		msg = r.Err.Error()
	}
	return FailureReport{URL: r.URL, ErrorCode: r.ErrorCode, ErrorMsg: msg}, true
}
