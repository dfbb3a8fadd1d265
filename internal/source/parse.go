package source

import (
	"strings"

	"github.com/John-Robertt/blockagg/internal/domain"
)

// Parse 把原始文本解析为条目集合。
//
// 纯函数：不会失败；空行与注释行被丢弃，同一 body 内的重复行合并为一条。
func Parse(body string) domain.EntrySet {
	out := make(domain.EntrySet, strings.Count(body, "\n")+1)
	for len(body) > 0 {
		line := body
		if i := strings.IndexByte(body, '\n'); i >= 0 {
			line, body = body[:i], body[i+1:]
		} else {
			body = ""
		}
		// '\r' 属于空白，TrimSpace 会一并去掉（兼容 CRLF）。
		if e, ok := domain.NormalizeEntry(line); ok {
			out.Add(e)
		}
	}
	return out
}
