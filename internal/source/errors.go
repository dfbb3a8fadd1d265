package source

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/blockagg/internal/domain"
)

// FetchError 是单源抓取失败的唯一错误种类：网络失败、非 2xx、解码失败都归入此类。
// 流水线不区分具体原因；Err 只用于生成可读信息。
type FetchError struct {
	URL domain.SourceURL
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("抓取 %s 失败：%v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPStatusError 表示源返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	StatusCode int
	Location   string
	// Title 是 HTML 错误页的标题（可能为空）。
	Title string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	msg := fmt.Sprintf("HTTP %d", e.StatusCode)
	if loc := strings.TrimSpace(e.Location); loc != "" {
		msg += " location=" + loc
	}
	if title := strings.TrimSpace(e.Title); title != "" {
		msg += fmt.Sprintf(" title=%q", title)
	}
	return msg
}

// BodyTooLargeError 表示响应体超过上限（按解码失败处理）。
type BodyTooLargeError struct {
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("响应体超过上限 %d 字节", e.Limit)
}
