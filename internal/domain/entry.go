package domain

import "strings"

// CommentMarker 是注释行的前缀（裁剪首尾空白后判断）。
const CommentMarker = "#"

// Entry 是一条规范化后的拦截条目（域名或规则）。
//
// 不变式：非空、不以 '#' 开头、无首尾空白。只能通过 NormalizeEntry 构造。
type Entry string

// NormalizeEntry 把一行原始文本规范化为 Entry。
// 空行与注释行返回 ok=false。
func NormalizeEntry(line string) (Entry, bool) {
	s := strings.TrimSpace(line)
	if s == "" || strings.HasPrefix(s, CommentMarker) {
		return "", false
	}
	return Entry(s), true
}

// EntrySet 是 Entry 的集合；插入幂等。
type EntrySet map[Entry]struct{}

func NewEntrySet(entries ...Entry) EntrySet {
	s := make(EntrySet, len(entries))
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

func (s EntrySet) Add(e Entry) {
	s[e] = struct{}{}
}

func (s EntrySet) Has(e Entry) bool {
	_, ok := s[e]
	return ok
}

func (s EntrySet) Len() int { return len(s) }

// Merge 把 other 并入 s（集合并；交换律 + 结合律保证结果与合并顺序无关）。
func (s EntrySet) Merge(other EntrySet) {
	for e := range other {
		s[e] = struct{}{}
	}
}
