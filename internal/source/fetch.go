package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/blockagg/internal/domain"
)

// DefaultMaxBodyBytes 是单个源响应体的默认上限。
const DefaultMaxBodyBytes int64 = 64 << 20

// Fetcher 获取一个源的原始文本。
//
// 约束：
// - 不做缓存、不做重试、不做限速
// - 任何失败都返回 *FetchError
type Fetcher interface {
	Fetch(ctx context.Context, url domain.SourceURL) (string, error)
}

// HTTPFetcher 通过 HTTP GET 获取源文本。
type HTTPFetcher struct {
	Client *http.Client

	// MaxBodyBytes <=0 时使用 DefaultMaxBodyBytes。
	MaxBodyBytes int64
}

func (f HTTPFetcher) Fetch(ctx context.Context, url domain.SourceURL) (string, error) {
	body, err := f.fetch(ctx, url)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	return body, nil
}

func (f HTTPFetcher) fetch(ctx context.Context, url domain.SourceURL) (string, error) {
	c := f.Client
	if c == nil {
		return "", errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(url), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain, text/html;q=0.5, */*;q=0.1")

	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// 错误页只读开头一段：HTML 错误页的 <title> 用于错误信息，其余内容不关心。
		head, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		se := &HTTPStatusError{StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
		if isHTML(resp.Header.Get("Content-Type")) {
			se.Title = PageTitle(head)
		}
		return "", se
	}

	limit := f.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(b)) > limit {
		return "", &BodyTooLargeError{Limit: limit}
	}

	// 无论 Content-Type 如何，body 原样交给 Parse。
	return string(b), nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// PageTitle 取 HTML 错误页的 <title>（例如 CDN 拦截页、登录页），取不到时返回空串。
func PageTitle(b []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
